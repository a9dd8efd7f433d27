package v1

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizlab-ai/quizlab/app/core"
	"github.com/quizlab-ai/quizlab/app/core/srv"
	"github.com/quizlab-ai/quizlab/app/store"
	"github.com/quizlab-ai/quizlab/pkg/errors"
	"github.com/quizlab-ai/quizlab/pkg/i18n"
	"github.com/quizlab-ai/quizlab/pkg/security"
	"github.com/quizlab-ai/quizlab/pkg/types"
	"github.com/quizlab-ai/quizlab/pkg/utils"
)

// fakeStore 内存实现，覆盖 logic 层测试所需的全部存储行为
type fakeStore struct {
	mu sync.Mutex

	links  map[string]*types.ShareLink // by id
	quizes map[string]*types.Quiz
	usages []types.ShareUsage

	lookupCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		links:  make(map[string]*types.ShareLink),
		quizes: make(map[string]*types.Quiz),
	}
}

func (f *fakeStore) ShareLinkStore() store.ShareLinkStore   { return (*fakeShareLinkStore)(f) }
func (f *fakeStore) ShareUsageStore() store.ShareUsageStore { return (*fakeShareUsageStore)(f) }
func (f *fakeStore) QuizStore() store.QuizStore             { return (*fakeQuizStore)(f) }
func (f *fakeStore) UserStore() store.UserStore             { return nil }
func (f *fakeStore) AccessTokenStore() store.AccessTokenStore {
	return nil
}
func (f *fakeStore) Transaction(ctx context.Context, next func(ctx context.Context) error) error {
	return next(ctx)
}

type fakeShareLinkStore fakeStore

func (f *fakeShareLinkStore) Create(ctx context.Context, link *types.ShareLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, exist := range f.links {
		if exist.TokenHash == link.TokenHash {
			return store.ErrAlreadyExists
		}
	}
	cp := *link
	f.links[link.ID] = &cp
	return nil
}

func (f *fakeShareLinkStore) GetByID(ctx context.Context, id string) (*types.ShareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *link
	return &cp, nil
}

func (f *fakeShareLinkStore) GetByTokenHash(ctx context.Context, tokenHash string) (*types.ShareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupCalls++
	for _, link := range f.links {
		if link.TokenHash == tokenHash {
			cp := *link
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeShareLinkStore) Revoke(ctx context.Context, id string, revokedAt int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[id]
	if ok && link.RevokedAt == nil {
		link.RevokedAt = &revokedAt
	}
	return nil
}

func (f *fakeShareLinkStore) Consume(ctx context.Context, tokenHash string, revokedAt int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, link := range f.links {
		if link.TokenHash == tokenHash && link.RevokedAt == nil {
			link.RevokedAt = &revokedAt
			return 1, nil
		}
	}
	return 0, nil
}

func (f *fakeShareLinkStore) List(ctx context.Context, opts types.ListShareLinkOptions, page, pageSize uint64) ([]types.ShareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []types.ShareLink
	for _, link := range f.links {
		if opts.UserID != "" && link.UserID != opts.UserID {
			continue
		}
		if opts.QuizID != "" && link.QuizID != opts.QuizID {
			continue
		}
		result = append(result, *link)
	}
	return result, nil
}

func (f *fakeShareLinkStore) Total(ctx context.Context, opts types.ListShareLinkOptions) (int64, error) {
	list, _ := f.List(ctx, opts, types.NO_PAGINATION, types.NO_PAGINATION)
	return int64(len(list)), nil
}

func (f *fakeShareLinkStore) DeleteExpired(ctx context.Context, before int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, link := range f.links {
		if link.ExpiresAt < before {
			delete(f.links, id)
			n++
		}
	}
	return n, nil
}

type fakeShareUsageStore fakeStore

func (f *fakeShareUsageStore) Create(ctx context.Context, usage *types.ShareUsage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	usage.ID = int64(len(f.usages) + 1)
	f.usages = append(f.usages, *usage)
	return nil
}

func (f *fakeShareUsageStore) ListByLink(ctx context.Context, linkID string, page, pageSize uint64) ([]types.ShareUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []types.ShareUsage
	for _, usage := range f.usages {
		if usage.ShareLinkID == linkID {
			result = append(result, usage)
		}
	}
	return result, nil
}

func (f *fakeShareUsageStore) DeleteBefore(ctx context.Context, before int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []types.ShareUsage
	var n int64
	for _, usage := range f.usages {
		if usage.AccessedAt < before {
			n++
			continue
		}
		kept = append(kept, usage)
	}
	f.usages = kept
	return n, nil
}

type fakeQuizStore fakeStore

func (f *fakeQuizStore) Get(ctx context.Context, appid, id string) (*types.Quiz, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	quiz, ok := f.quizes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *quiz
	return &cp, nil
}

func testCore(t *testing.T, s store.Store) *core.Core {
	t.Helper()
	utils.SetupIDWorker(1)
	cfg := core.CoreConfig{}
	cfg.Security.SharePepper = "test-pepper"
	cfg.Site.Share.Domain = "https://quiz.example.com"
	return core.NewWithDeps(cfg, s)
}

func ownerCtx(userID string) context.Context {
	claims := security.NewTokenClaims(types.DEFAULT_APPID, types.DEFAULT_APPID, userID, "", time.Now().Add(time.Hour).Unix())
	return context.WithValue(context.Background(), TOKEN_CONTEXT_KEY, claims)
}

func adminCtx(userID string) context.Context {
	claims := security.NewTokenClaims(types.DEFAULT_APPID, types.DEFAULT_APPID, userID, srv.RoleAdmin, time.Now().Add(time.Hour).Unix())
	return context.WithValue(context.Background(), TOKEN_CONTEXT_KEY, claims)
}

func seedQuiz(fs *fakeStore, id, ownerID string) {
	fs.quizes[id] = &types.Quiz{
		ID:     id,
		Appid:  types.DEFAULT_APPID,
		UserID: ownerID,
		Title:  "Basics of Go",
	}
}

func errCode(t *testing.T, err error) int {
	t.Helper()
	ce, ok := err.(*errors.CustomizedError)
	require.True(t, ok, "expected CustomizedError, got %T: %v", err, err)
	return ce.GetCode()
}

func errMessage(t *testing.T, err error) string {
	t.Helper()
	ce, ok := err.(*errors.CustomizedError)
	require.True(t, ok, "expected CustomizedError, got %T: %v", err, err)
	return ce.Message()
}

func TestCreateShareLink(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	c := testCore(t, fs)

	logic := NewManageShareLinkLogic(ownerCtx("owner-1"), c)

	res, err := logic.CreateShareLink("quiz-1", types.SHARE_SCOPE_VIEW, false, 0)
	require.NoError(t, err)

	assert.NotEmpty(t, res.LinkID)
	assert.Len(t, res.Token, security.SHARE_TOKEN_LEN)
	assert.Contains(t, res.URL, res.Token)

	// token is never persisted, only its digest
	stored := fs.links[res.LinkID]
	require.NotNil(t, stored)
	assert.NotEqual(t, res.Token, stored.TokenHash)
	assert.Equal(t, c.ShareTokenHasher().Hash(res.Token), stored.TokenHash)
}

func TestCreateShareLinkExpiryClamp(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	c := testCore(t, fs)

	logic := NewManageShareLinkLogic(ownerCtx("owner-1"), c)

	// far future request is silently clamped to the ttl ceiling
	res, err := logic.CreateShareLink("quiz-1", types.SHARE_SCOPE_VIEW, false, time.Now().AddDate(10, 0, 0).Unix())
	require.NoError(t, err)
	ceiling := time.Now().Add(c.ShareMaxTTL()).Unix()
	assert.LessOrEqual(t, res.ExpiresAt, ceiling)
	assert.Greater(t, res.ExpiresAt, ceiling-10)

	// a past expiry is rejected outright
	_, err = logic.CreateShareLink("quiz-1", types.SHARE_SCOPE_VIEW, false, time.Now().Add(-time.Hour).Unix())
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errCode(t, err))
}

func TestCreateShareLinkValidation(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	c := testCore(t, fs)

	logic := NewManageShareLinkLogic(ownerCtx("owner-1"), c)

	_, err := logic.CreateShareLink("quiz-1", types.ShareScope("publish"), false, 0)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errCode(t, err))

	_, err = logic.CreateShareLink("quiz-missing", types.SHARE_SCOPE_VIEW, false, 0)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errCode(t, err))

	// only the owner or an admin role may share a quiz
	stranger := NewManageShareLinkLogic(ownerCtx("stranger"), c)
	_, err = stranger.CreateShareLink("quiz-1", types.SHARE_SCOPE_VIEW, false, 0)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, errCode(t, err))

	admin := NewManageShareLinkLogic(adminCtx("someone-else"), c)
	_, err = admin.CreateShareLink("quiz-1", types.SHARE_SCOPE_VIEW, false, 0)
	assert.NoError(t, err)
}

func TestAccessRoundTrip(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	c := testCore(t, fs)

	created, err := NewManageShareLinkLogic(ownerCtx("owner-1"), c).CreateShareLink("quiz-1", types.SHARE_SCOPE_VIEW, false, 0)
	require.NoError(t, err)

	logic := NewShareLinkLogic(context.Background(), c)

	res, err := logic.Access(created.Token, ClientMeta{Addr: "203.0.113.9", Agent: "quiz-client/1.0"})
	require.NoError(t, err)
	assert.Equal(t, created.LinkID, res.LinkID)
	assert.Equal(t, "Basics of Go", res.Quiz.Title)

	// access is repeatable for reusable links
	_, err = logic.Access(created.Token, ClientMeta{})
	assert.NoError(t, err)

	usages, err := fs.ShareUsageStore().ListByLink(context.Background(), created.LinkID, types.NO_PAGINATION, types.NO_PAGINATION)
	require.NoError(t, err)
	assert.Len(t, usages, 2)
	assert.Equal(t, "203.0.113.9", usages[0].ClientAddr)
}

func TestAccessMalformedTokenSkipsStore(t *testing.T) {
	fs := newFakeStore()
	c := testCore(t, fs)
	logic := NewShareLinkLogic(context.Background(), c)

	for _, candidate := range []string{"", "short", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="} {
		_, err := logic.Access(candidate, ClientMeta{})
		require.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, errCode(t, err))
		assert.Equal(t, i18n.ERROR_SHARE_INVALID_TOKEN, errMessage(t, err))
	}

	// malformed input is rejected before any lookup
	assert.Equal(t, 0, fs.lookupCalls)
}

func TestAccessUnknownToken(t *testing.T) {
	fs := newFakeStore()
	c := testCore(t, fs)
	logic := NewShareLinkLogic(context.Background(), c)

	token, err := security.GenerateShareToken()
	require.NoError(t, err)

	_, err = logic.Access(token, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errCode(t, err))
}

func TestAccessExpiredToken(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	c := testCore(t, fs)

	token, err := security.GenerateShareToken()
	require.NoError(t, err)
	fs.links["link-1"] = &types.ShareLink{
		ID:        "link-1",
		Appid:     types.DEFAULT_APPID,
		QuizID:    "quiz-1",
		UserID:    "owner-1",
		Scope:     types.SHARE_SCOPE_VIEW,
		TokenHash: c.ShareTokenHasher().Hash(token),
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
		CreatedAt: time.Now().Add(-time.Hour).Unix(),
	}

	logic := NewShareLinkLogic(context.Background(), c)
	_, err = logic.Access(token, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, http.StatusGone, errCode(t, err))
	assert.Equal(t, i18n.ERROR_SHARE_EXPIRED, errMessage(t, err))
}

func TestRevokedIndistinguishableFromAbsent(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	c := testCore(t, fs)

	created, err := NewManageShareLinkLogic(ownerCtx("owner-1"), c).CreateShareLink("quiz-1", types.SHARE_SCOPE_VIEW, false, 0)
	require.NoError(t, err)

	manage := NewManageShareLinkLogic(ownerCtx("owner-1"), c)
	require.NoError(t, manage.RevokeShareLink(created.LinkID))

	// repeated revoke stays successful and keeps the first timestamp
	first := *fs.links[created.LinkID].RevokedAt
	require.NoError(t, manage.RevokeShareLink(created.LinkID))
	assert.Equal(t, first, *fs.links[created.LinkID].RevokedAt)

	logic := NewShareLinkLogic(context.Background(), c)
	_, err = logic.Access(created.Token, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errCode(t, err))

	unknown, _ := security.GenerateShareToken()
	_, unknownErr := logic.Access(unknown, ClientMeta{})
	assert.Equal(t, errCode(t, err), errCode(t, unknownErr))
	assert.Equal(t, errMessage(t, err), errMessage(t, unknownErr))

	// 被撤销的可复用链接在消费路径上同样与不存在无法区分
	_, consumeErr := logic.Consume(created.Token, ClientMeta{})
	require.Error(t, consumeErr)
	assert.Equal(t, errCode(t, unknownErr), errCode(t, consumeErr))
	assert.Equal(t, errMessage(t, unknownErr), errMessage(t, consumeErr))
}

func TestConsumeOneTimeRace(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	c := testCore(t, fs)

	created, err := NewManageShareLinkLogic(ownerCtx("owner-1"), c).CreateShareLink("quiz-1", types.SHARE_SCOPE_ATTEMPT, true, 0)
	require.NoError(t, err)

	logic := NewShareLinkLogic(context.Background(), c)

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		consumed int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := logic.Consume(created.Token, ClientMeta{})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			if ce, ok := err.(*errors.CustomizedError); ok && ce.Message() == i18n.ERROR_SHARE_CONSUMED {
				consumed++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one concurrent consume may pass")
	assert.Equal(t, workers-1, consumed, "every loser must learn the quota is spent")

	// read-only callers can no longer tell the link ever existed
	_, err = logic.Access(created.Token, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, errCode(t, err))
}

func TestConsumeOneTimeTwice(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	c := testCore(t, fs)

	created, err := NewManageShareLinkLogic(ownerCtx("owner-1"), c).CreateShareLink("quiz-1", types.SHARE_SCOPE_ATTEMPT, true, 0)
	require.NoError(t, err)

	logic := NewShareLinkLogic(context.Background(), c)

	res, err := logic.Consume(created.Token, ClientMeta{})
	require.NoError(t, err)
	assert.Equal(t, created.LinkID, res.LinkID)

	// 额度用掉之后再次消费，稳定得到 consumed 而不是 not found
	_, err = logic.Consume(created.Token, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, http.StatusGone, errCode(t, err))
	assert.Equal(t, i18n.ERROR_SHARE_CONSUMED, errMessage(t, err))

	_, err = logic.Consume(created.Token, ClientMeta{})
	require.Error(t, err)
	assert.Equal(t, i18n.ERROR_SHARE_CONSUMED, errMessage(t, err))
}

func TestConsumeReusableLinkIsIdempotent(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	c := testCore(t, fs)

	created, err := NewManageShareLinkLogic(ownerCtx("owner-1"), c).CreateShareLink("quiz-1", types.SHARE_SCOPE_ATTEMPT, false, 0)
	require.NoError(t, err)

	logic := NewShareLinkLogic(context.Background(), c)
	for i := 0; i < 3; i++ {
		_, err = logic.Consume(created.Token, ClientMeta{})
		require.NoError(t, err)
	}

	link := fs.links[created.LinkID]
	assert.Nil(t, link.RevokedAt)
}

func TestListUserLinks(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	seedQuiz(fs, "quiz-2", "owner-2")
	c := testCore(t, fs)

	_, err := NewManageShareLinkLogic(ownerCtx("owner-1"), c).CreateShareLink("quiz-1", types.SHARE_SCOPE_VIEW, false, 0)
	require.NoError(t, err)
	_, err = NewManageShareLinkLogic(ownerCtx("owner-2"), c).CreateShareLink("quiz-2", types.SHARE_SCOPE_VIEW, false, 0)
	require.NoError(t, err)

	items, total, err := NewManageShareLinkLogic(ownerCtx("owner-1"), c).ListUserLinks("", types.NO_PAGINATION, types.NO_PAGINATION)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "quiz-1", items[0].QuizID)
	assert.True(t, items[0].Active)
}

func TestListLinkUsagesPermission(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	c := testCore(t, fs)

	created, err := NewManageShareLinkLogic(ownerCtx("owner-1"), c).CreateShareLink("quiz-1", types.SHARE_SCOPE_VIEW, false, 0)
	require.NoError(t, err)

	_, err = NewShareLinkLogic(context.Background(), c).Access(created.Token, ClientMeta{Agent: "agent"})
	require.NoError(t, err)

	usages, err := NewManageShareLinkLogic(ownerCtx("owner-1"), c).ListLinkUsages(created.LinkID, types.NO_PAGINATION, types.NO_PAGINATION)
	require.NoError(t, err)
	assert.Len(t, usages, 1)

	_, err = NewManageShareLinkLogic(ownerCtx("stranger"), c).ListLinkUsages(created.LinkID, types.NO_PAGINATION, types.NO_PAGINATION)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, errCode(t, err))
}

func TestUsageAgentTruncated(t *testing.T) {
	fs := newFakeStore()
	seedQuiz(fs, "quiz-1", "owner-1")
	c := testCore(t, fs)

	created, err := NewManageShareLinkLogic(ownerCtx("owner-1"), c).CreateShareLink("quiz-1", types.SHARE_SCOPE_VIEW, false, 0)
	require.NoError(t, err)

	longAgent := make([]byte, 0, 1024)
	for i := 0; i < 1024; i++ {
		longAgent = append(longAgent, 'a')
	}

	_, err = NewShareLinkLogic(context.Background(), c).Access(created.Token, ClientMeta{Agent: string(longAgent)})
	require.NoError(t, err)

	usages, err := fs.ShareUsageStore().ListByLink(context.Background(), created.LinkID, types.NO_PAGINATION, types.NO_PAGINATION)
	require.NoError(t, err)
	require.Len(t, usages, 1)
	assert.Len(t, usages[0].ClientAgent, types.SHARE_USAGE_AGENT_MAX_LEN)
}
