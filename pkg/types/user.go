package types

type User struct {
	ID        string `json:"id" db:"id"`
	Appid     string `json:"appid" db:"appid"`
	Name      string `json:"name" db:"name"`
	Email     string `json:"email" db:"email"`
	Avatar    string `json:"avatar" db:"avatar"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
	UpdatedAt int64  `json:"updated_at" db:"updated_at"`
}

// UserTokenMeta 登录态缓存中保存的会话信息
type UserTokenMeta struct {
	Appid    string `json:"appid"`
	UserID   string `json:"user_id"`
	ExpireAt int64  `json:"expire_at"`
}
