package types

// Quiz 测验元数据。分享子系统只消费 id/owner/title，题目与作答领域不在此维护。
type Quiz struct {
	ID          string `json:"id" db:"id"`
	Appid       string `json:"appid" db:"appid"`
	UserID      string `json:"user_id" db:"user_id"`
	Title       string `json:"title" db:"title"`
	Description string `json:"description" db:"description"`
	CreatedAt   int64  `json:"created_at" db:"created_at"`
	UpdatedAt   int64  `json:"updated_at" db:"updated_at"`
}
