package sqlstore

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/quizlab-ai/quizlab/pkg/register"
	"github.com/quizlab-ai/quizlab/pkg/types"
)

func init() {
	register.RegisterFunc[*Provider](RegisterKey{}, func(provider *Provider) {
		provider.stores.ShareUsageStore = NewShareUsageStore(provider)
	})
}

func NewShareUsageStore(provider SqlProviderAchieve) *ShareUsageStoreImpl {
	repo := &ShareUsageStoreImpl{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_SHARE_USAGE)
	repo.SetAllColumns(
		"id", "share_link_id", "client_addr", "client_agent", "accessed_at",
	)
	return repo
}

type ShareUsageStoreImpl struct {
	CommonFields
}

// Create 追加一条访问审计记录，记录只增不改
func (s *ShareUsageStoreImpl) Create(ctx context.Context, usage *types.ShareUsage) error {
	if usage.AccessedAt == 0 {
		usage.AccessedAt = time.Now().Unix()
	}
	query := sq.Insert(s.GetTable()).
		Columns("share_link_id", "client_addr", "client_agent", "accessed_at").
		Values(usage.ShareLinkID, usage.ClientAddr, usage.ClientAgent, usage.AccessedAt)

	sql, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(sql, args...)
	return err
}

func (s *ShareUsageStoreImpl) ListByLink(ctx context.Context, linkID string, page, pageSize uint64) ([]types.ShareUsage, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"share_link_id": linkID}).
		OrderBy("accessed_at DESC")

	if page != types.NO_PAGINATION || pageSize != types.NO_PAGINATION {
		query = query.Limit(pageSize).Offset((page - 1) * pageSize)
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var usages []types.ShareUsage
	if err = s.GetReplica(ctx).Select(&usages, sql, args...); err != nil {
		return nil, err
	}

	return usages, nil
}

// DeleteBefore 按保留期清理审计记录
func (s *ShareUsageStoreImpl) DeleteBefore(ctx context.Context, before int64) (int64, error) {
	query := sq.Delete(s.GetTable()).Where(sq.Lt{"accessed_at": before})

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
