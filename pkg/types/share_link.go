package types

// ShareScope 分享链接授权范围
type ShareScope string

const (
	SHARE_SCOPE_VIEW    = ShareScope("view")    // 仅允许查看测验内容
	SHARE_SCOPE_ATTEMPT = ShareScope("attempt") // 允许匿名提交答题
)

func (s ShareScope) Valid() bool {
	switch s {
	case SHARE_SCOPE_VIEW, SHARE_SCOPE_ATTEMPT:
		return true
	}
	return false
}

// ShareLink 测验分享链接元数据。raw token 不落库，只保存加盐摘要。
type ShareLink struct {
	ID        string     `json:"id" db:"id"`                 // 管理用ID，与 token 无关
	Appid     string     `json:"appid" db:"appid"`           // 租户id
	QuizID    string     `json:"quiz_id" db:"quiz_id"`       // 绑定的测验ID
	UserID    string     `json:"user_id" db:"user_id"`       // 创建者ID
	Scope     ShareScope `json:"scope" db:"scope"`           // 授权范围
	TokenHash string     `json:"-" db:"token_hash"`          // token 的 HMAC 摘要，唯一
	OneTime   bool       `json:"one_time" db:"one_time"`     // 一次性链接
	ExpiresAt int64      `json:"expires_at" db:"expires_at"` // 过期时间戳
	CreatedAt int64      `json:"created_at" db:"created_at"` // 创建时间戳
	RevokedAt *int64     `json:"revoked_at" db:"revoked_at"` // 撤销时间戳，null 表示有效
}

// ShareLinkState 持有 token 的调用方所能观测到的链接状态
type ShareLinkState uint8

const (
	// absent subsumes both "no row" and "revoked row" so the two are
	// indistinguishable to an untrusted caller
	SHARE_LINK_STATE_ABSENT ShareLinkState = iota
	SHARE_LINK_STATE_EXPIRED
	SHARE_LINK_STATE_ACTIVE
)

func (l *ShareLink) StateAt(now int64) ShareLinkState {
	switch {
	case l == nil || l.RevokedAt != nil:
		return SHARE_LINK_STATE_ABSENT
	case now >= l.ExpiresAt:
		return SHARE_LINK_STATE_EXPIRED
	default:
		return SHARE_LINK_STATE_ACTIVE
	}
}

// ShareUsage 分享链接访问审计记录，只追加，不修改
type ShareUsage struct {
	ID          int64  `json:"id" db:"id"`
	ShareLinkID string `json:"share_link_id" db:"share_link_id"`
	ClientAddr  string `json:"client_addr" db:"client_addr"`   // best effort
	ClientAgent string `json:"client_agent" db:"client_agent"` // truncated to SHARE_USAGE_AGENT_MAX_LEN
	AccessedAt  int64  `json:"accessed_at" db:"accessed_at"`
}

const SHARE_USAGE_AGENT_MAX_LEN = 256

type ListShareLinkOptions struct {
	Appid  string
	UserID string
	QuizID string
}
