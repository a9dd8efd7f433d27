package types

import (
	"errors"

	"github.com/quizlab-ai/quizlab/pkg/security"
)

const (
	DEFAULT_ACCESS_TOKEN_VERSION = "v1"
)

type AccessToken struct {
	ID        int64  `json:"id" db:"id"`                 // 主键，自增ID
	Appid     string `json:"appid" db:"appid"`           // 租户id
	UserID    string `json:"user_id" db:"user_id"`       // token 所属用户
	Token     string `json:"token" db:"token"`           // 开放接口用的 access_token
	Version   string `json:"version" db:"version"`       // token claim 结构版本号
	Info      string `json:"info" db:"info"`             // token 用途描述
	CreatedAt int64  `json:"created_at" db:"created_at"` // 创建时间，UNIX时间戳
	ExpiresAt int64  `json:"expires_at" db:"expires_at"` // 过期时间，UNIX时间戳
}

func (s *AccessToken) TokenClaims() (security.TokenClaims, error) {
	if s.Version != "" && s.Version != DEFAULT_ACCESS_TOKEN_VERSION {
		return security.TokenClaims{}, errors.New("unknown access token version")
	}
	return security.NewTokenClaims(s.Appid, DEFAULT_APPID, s.UserID, "", s.ExpiresAt), nil
}
