package store

import (
	"context"
	"errors"

	"github.com/quizlab-ai/quizlab/pkg/types"
)

// ErrAlreadyExists 唯一约束冲突，由具体存储实现负责转换
var ErrAlreadyExists = errors.New("already exists")

// Store 聚合所有实体存储，logic 层只依赖该接口
type Store interface {
	ShareLinkStore() ShareLinkStore
	ShareUsageStore() ShareUsageStore
	QuizStore() QuizStore
	UserStore() UserStore
	AccessTokenStore() AccessTokenStore
	Transaction(ctx context.Context, next func(ctx context.Context) error) error
}

type ShareLinkStore interface {
	Create(ctx context.Context, link *types.ShareLink) error
	GetByID(ctx context.Context, id string) (*types.ShareLink, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*types.ShareLink, error)
	// Revoke 仅对未撤销的行生效，重复调用保留首次撤销时间
	Revoke(ctx context.Context, id string, revokedAt int64) error
	// Consume 条件撤销，返回受影响行数(0 或 1)
	Consume(ctx context.Context, tokenHash string, revokedAt int64) (int64, error)
	List(ctx context.Context, opts types.ListShareLinkOptions, page, pageSize uint64) ([]types.ShareLink, error)
	Total(ctx context.Context, opts types.ListShareLinkOptions) (int64, error)
	DeleteExpired(ctx context.Context, before int64) (int64, error)
}

type ShareUsageStore interface {
	Create(ctx context.Context, usage *types.ShareUsage) error
	ListByLink(ctx context.Context, linkID string, page, pageSize uint64) ([]types.ShareUsage, error)
	DeleteBefore(ctx context.Context, before int64) (int64, error)
}

type QuizStore interface {
	Get(ctx context.Context, appid, id string) (*types.Quiz, error)
}

type UserStore interface {
	GetUser(ctx context.Context, appid, id string) (*types.User, error)
}

type AccessTokenStore interface {
	Create(ctx context.Context, token *types.AccessToken) error
	GetAccessToken(ctx context.Context, appid, token string) (*types.AccessToken, error)
}
