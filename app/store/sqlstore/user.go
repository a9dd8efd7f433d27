package sqlstore

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/quizlab-ai/quizlab/pkg/register"
	"github.com/quizlab-ai/quizlab/pkg/types"
)

func init() {
	register.RegisterFunc[*Provider](RegisterKey{}, func(provider *Provider) {
		provider.stores.UserStore = NewUserStore(provider)
	})
}

func NewUserStore(provider SqlProviderAchieve) *UserStoreImpl {
	repo := &UserStoreImpl{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_USER)
	repo.SetAllColumns(
		"id", "appid", "name", "email", "avatar", "created_at", "updated_at",
	)
	return repo
}

type UserStoreImpl struct {
	CommonFields
}

func (s *UserStoreImpl) GetUser(ctx context.Context, appid, id string) (*types.User, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"appid": appid, "id": id})

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var user types.User
	err = s.GetReplica(ctx).Get(&user, sql, args...)
	if err != nil {
		return nil, err
	}

	return &user, nil
}
