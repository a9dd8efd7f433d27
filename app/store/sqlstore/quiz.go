package sqlstore

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/quizlab-ai/quizlab/pkg/register"
	"github.com/quizlab-ai/quizlab/pkg/types"
)

func init() {
	register.RegisterFunc[*Provider](RegisterKey{}, func(provider *Provider) {
		provider.stores.QuizStore = NewQuizStore(provider)
	})
}

func NewQuizStore(provider SqlProviderAchieve) *QuizStoreImpl {
	repo := &QuizStoreImpl{}
	repo.SetProvider(provider)
	repo.SetTable(types.TABLE_QUIZ)
	repo.SetAllColumns(
		"id", "appid", "user_id", "title", "description", "created_at", "updated_at",
	)
	return repo
}

type QuizStoreImpl struct {
	CommonFields
}

func (s *QuizStoreImpl) Get(ctx context.Context, appid, id string) (*types.Quiz, error) {
	query := sq.Select(s.GetAllColumns()...).
		From(s.GetTable()).
		Where(sq.Eq{"appid": appid, "id": id})

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, ErrorSqlBuild(err)
	}

	var quiz types.Quiz
	err = s.GetReplica(ctx).Get(&quiz, sql, args...)
	if err != nil {
		return nil, err
	}

	return &quiz, nil
}
