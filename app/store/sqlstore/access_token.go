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
		provider.stores.AccessTokenStore = NewAccessTokenStore(provider)
	})
}

func NewAccessTokenStore(provider SqlProviderAchieve) *AccessTokenStoreImpl {
	repo := &AccessTokenStoreImpl{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_ACCESS_TOKEN)
	repo.SetAllColumns(
		"id", "appid", "user_id", "token", "version", "info", "created_at", "expires_at",
	)
	return repo
}

type AccessTokenStoreImpl struct {
	CommonFields
}

func (s *AccessTokenStoreImpl) Create(ctx context.Context, token *types.AccessToken) error {
	if token.CreatedAt == 0 {
		token.CreatedAt = time.Now().Unix()
	}
	query := sq.Insert(s.GetTable()).
		Columns("appid", "user_id", "token", "version", "info", "created_at", "expires_at").
		Values(token.Appid, token.UserID, token.Token, token.Version, token.Info, token.CreatedAt, token.ExpiresAt)

	sql, args, err := query.ToSql()
	if err != nil {
		return ErrorSqlBuild(err)
	}

	_, err = s.GetMaster(ctx).Exec(sql, args...)
	return err
}

func (s *AccessTokenStoreImpl) GetAccessToken(ctx context.Context, appid, token string) (*types.AccessToken, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"appid": appid, "token": token})

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var result types.AccessToken
	err = s.GetReplica(ctx).Get(&result, sql, args...)
	if err != nil {
		return nil, err
	}

	return &result, nil
}
