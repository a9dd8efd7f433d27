package sqlstore

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/quizlab-ai/quizlab/app/store"
	"github.com/quizlab-ai/quizlab/pkg/register"
	"github.com/quizlab-ai/quizlab/pkg/types"
)

func init() {
	register.RegisterFunc[*Provider](RegisterKey{}, func(provider *Provider) {
		provider.stores.ShareLinkStore = NewShareLinkStore(provider)
	})
}

func NewShareLinkStore(provider SqlProviderAchieve) *ShareLinkStoreImpl {
	repo := &ShareLinkStoreImpl{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_SHARE_LINK)
	repo.SetAllColumns(
		"id", "appid", "quiz_id", "user_id", "scope", "token_hash", "one_time", "expires_at", "created_at", "revoked_at",
	)
	return repo
}

type ShareLinkStoreImpl struct {
	CommonFields
}

// Create 创建新的测验分享链接。token_hash 命中唯一索引时返回 store.ErrAlreadyExists，
// 由调用方决定是否重新生成 token。
func (s *ShareLinkStoreImpl) Create(ctx context.Context, link *types.ShareLink) error {
	if link.CreatedAt == 0 {
		link.CreatedAt = time.Now().Unix()
	}
	query := sq.Insert(s.GetTable()).
		Columns("id", "appid", "quiz_id", "user_id", "scope", "token_hash", "one_time", "expires_at", "created_at").
		Values(link.ID, link.Appid, link.QuizID, link.UserID, link.Scope, link.TokenHash, link.OneTime, link.ExpiresAt, link.CreatedAt)

	sql, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(sql, args...)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return store.ErrAlreadyExists
	}
	return err
}

// GetByID 管理侧查询，按主键获取链接
func (s *ShareLinkStoreImpl) GetByID(ctx context.Context, id string) (*types.ShareLink, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"id": id})

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var link types.ShareLink
	err = s.GetReplica(ctx).Get(&link, sql, args...)
	if err != nil {
		return nil, err
	}

	return &link, nil
}

// GetByTokenHash 校验侧查询，等值命中唯一索引
func (s *ShareLinkStoreImpl) GetByTokenHash(ctx context.Context, tokenHash string) (*types.ShareLink, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"token_hash": tokenHash})

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var link types.ShareLink
	err = s.GetReplica(ctx).Get(&link, sql, args...)
	if err != nil {
		return nil, err
	}

	return &link, nil
}

// Revoke 撤销链接。revoked_at IS NULL 守卫保证重复撤销不覆盖首次时间戳。
func (s *ShareLinkStoreImpl) Revoke(ctx context.Context, id string, revokedAt int64) error {
	query := sq.Update(s.GetTable()).
		Set("revoked_at", revokedAt).
		Where(sq.Eq{"id": id}).
		Where("revoked_at IS NULL")

	sql, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(sql, args...)
	return err
}

// Consume 一次性链接的原子消费。条件更新只会命中一行一次，
// 并发竞争时除首个调用外受影响行数均为 0。
func (s *ShareLinkStoreImpl) Consume(ctx context.Context, tokenHash string, revokedAt int64) (int64, error) {
	query := sq.Update(s.GetTable()).
		Set("revoked_at", revokedAt).
		Where(sq.Eq{"token_hash": tokenHash}).
		Where("revoked_at IS NULL")

	sql, args, err := query.ToSql()
	if err != nil {
		return 0, ErrorSqlBuild(err)
	}

	result, err := s.GetMaster(ctx).Exec(sql, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *ShareLinkStoreImpl) List(ctx context.Context, opts types.ListShareLinkOptions, page, pageSize uint64) ([]types.ShareLink, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		OrderBy("created_at DESC")

	query = s.applyListOptions(query, opts)

	if page != types.NO_PAGINATION || pageSize != types.NO_PAGINATION {
		query = query.Limit(pageSize).Offset((page - 1) * pageSize)
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var links []types.ShareLink
	if err = s.GetReplica(ctx).Select(&links, sql, args...); err != nil {
		return nil, err
	}

	return links, nil
}

func (s *ShareLinkStoreImpl) Total(ctx context.Context, opts types.ListShareLinkOptions) (int64, error) {
	query := sq.Select("COUNT(*)").From(s.GetTable())
	query = s.applyListOptions(query, opts)

	sql, args, err := query.ToSql()
	if err != nil {
		return 0, ErrorSqlBuild(err)
	}

	var total int64
	if err = s.GetReplica(ctx).Get(&total, sql, args...); err != nil {
		return 0, err
	}

	return total, nil
}

func (s *ShareLinkStoreImpl) applyListOptions(query sq.SelectBuilder, opts types.ListShareLinkOptions) sq.SelectBuilder {
	if opts.Appid != "" {
		query = query.Where(sq.Eq{"appid": opts.Appid})
	}
	if opts.UserID != "" {
		query = query.Where(sq.Eq{"user_id": opts.UserID})
	}
	if opts.QuizID != "" {
		query = query.Where(sq.Eq{"quiz_id": opts.QuizID})
	}
	return query
}

// DeleteExpired 物理清理早已过期的链接行，由后台任务调用
func (s *ShareLinkStoreImpl) DeleteExpired(ctx context.Context, before int64) (int64, error) {
	query := sq.Delete(s.GetTable()).Where(sq.Lt{"expires_at": before})

	sql, args, err := query.ToSql()
	if err != nil {
		return 0, ErrorSqlBuild(err)
	}

	result, err := s.GetMaster(ctx).Exec(sql, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
