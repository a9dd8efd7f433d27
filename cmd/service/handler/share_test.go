package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizlab-ai/quizlab/app/core"
	"github.com/quizlab-ai/quizlab/app/response"
	"github.com/quizlab-ai/quizlab/app/store"
	"github.com/quizlab-ai/quizlab/cmd/service/middleware"
	"github.com/quizlab-ai/quizlab/pkg/security"
	"github.com/quizlab-ai/quizlab/pkg/types"
)

// fakeStore 内存实现，handler 层测试只覆盖 token 持有方用到的存储行为
type fakeStore struct {
	mu sync.Mutex

	links  map[string]*types.ShareLink // by id
	quizes map[string]*types.Quiz
	usages []types.ShareUsage
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		links:  make(map[string]*types.ShareLink),
		quizes: make(map[string]*types.Quiz),
	}
}

func (f *fakeStore) ShareLinkStore() store.ShareLinkStore     { return (*fakeShareLinkStore)(f) }
func (f *fakeStore) ShareUsageStore() store.ShareUsageStore   { return (*fakeShareUsageStore)(f) }
func (f *fakeStore) QuizStore() store.QuizStore               { return (*fakeQuizStore)(f) }
func (f *fakeStore) UserStore() store.UserStore               { return nil }
func (f *fakeStore) AccessTokenStore() store.AccessTokenStore { return nil }
func (f *fakeStore) Transaction(ctx context.Context, next func(ctx context.Context) error) error {
	return next(ctx)
}

type fakeShareLinkStore fakeStore

func (f *fakeShareLinkStore) Create(ctx context.Context, link *types.ShareLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
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
	if link, ok := f.links[id]; ok && link.RevokedAt == nil {
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
	return nil, nil
}

func (f *fakeShareLinkStore) Total(ctx context.Context, opts types.ListShareLinkOptions) (int64, error) {
	return 0, nil
}

func (f *fakeShareLinkStore) DeleteExpired(ctx context.Context, before int64) (int64, error) {
	return 0, nil
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
	return nil, nil
}

func (f *fakeShareUsageStore) DeleteBefore(ctx context.Context, before int64) (int64, error) {
	return 0, nil
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

func newShareTestServer(t *testing.T) (*fakeStore, *HttpSrv) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fs := newFakeStore()
	cfg := core.CoreConfig{}
	cfg.Security.SharePepper = "test-pepper"
	cfg.Site.Share.Domain = "https://quiz.example.com"
	c := core.NewWithDeps(cfg, fs)

	engine := gin.New()
	engine.Use(middleware.I18n(), response.NewResponse())

	srv := &HttpSrv{Core: c, Engine: engine}
	engine.GET("/api/v1/share/quiz/:token", srv.GetQuizByShareToken)
	engine.POST("/api/v1/share/quiz/:token/consume", srv.ConsumeShareToken)
	engine.POST("/api/v1/share/attempt/:quizid", srv.SubmitSharedAttempt)
	return fs, srv
}

func seedAttemptLink(t *testing.T, fs *fakeStore, c *core.Core, quizID string, oneTime bool) string {
	t.Helper()
	token, err := security.GenerateShareToken()
	require.NoError(t, err)

	fs.quizes[quizID] = &types.Quiz{
		ID:     quizID,
		Appid:  types.DEFAULT_APPID,
		UserID: "owner-1",
		Title:  "Basics of Go",
	}
	fs.links["link-"+quizID] = &types.ShareLink{
		ID:        "link-" + quizID,
		Appid:     types.DEFAULT_APPID,
		QuizID:    quizID,
		UserID:    "owner-1",
		Scope:     types.SHARE_SCOPE_ATTEMPT,
		OneTime:   oneTime,
		TokenHash: c.ShareTokenHasher().Hash(token),
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
		CreatedAt: time.Now().Unix(),
	}
	return token
}

func postAttempt(srv *HttpSrv, quizID, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/share/attempt/"+quizID, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	srv.Engine.ServeHTTP(w, req)
	return w
}

func TestSharedAttemptRoundTrip(t *testing.T) {
	fs, srv := newShareTestServer(t)
	token := seedAttemptLink(t, fs, srv.Core, "quiz-1", true)

	// 访问换发会话 cookie，不消费一次性额度
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/share/quiz/"+token, nil)
	srv.Engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var cookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == attemptCookieName("quiz-1") {
			cookie = ck
		}
	}
	require.NotNil(t, cookie, "attempt scope access must set the session cookie")
	assert.Equal(t, token, cookie.Value)
	assert.Equal(t, "/api/v1/share/attempt/quiz-1", cookie.Path)
	assert.True(t, cookie.HttpOnly)
	assert.Nil(t, fs.links["link-quiz-1"].RevokedAt, "access must not spend the quota")

	// 提交是一次性链接唯一的消费点
	w = postAttempt(srv, "quiz-1", `{"answers":{"q1":"a"}}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	var submitRes struct {
		Data struct {
			QuizID      string `json:"quiz_id"`
			Accepted    bool   `json:"accepted"`
			AnswerCount int    `json:"answer_count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitRes))
	assert.Equal(t, "quiz-1", submitRes.Data.QuizID)
	assert.True(t, submitRes.Data.Accepted)
	assert.Equal(t, 1, submitRes.Data.AnswerCount)
	assert.NotNil(t, fs.links["link-quiz-1"].RevokedAt)

	// 额度用掉之后重复提交被拒
	w = postAttempt(srv, "quiz-1", `{"answers":{"q1":"b"}}`, cookie)
	assert.Equal(t, http.StatusGone, w.Code)
}

func TestSharedAttemptReusableLink(t *testing.T) {
	fs, srv := newShareTestServer(t)
	token := seedAttemptLink(t, fs, srv.Core, "quiz-1", false)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/share/quiz/"+token, nil)
	srv.Engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var cookie *http.Cookie
	for _, ck := range w.Result().Cookies() {
		if ck.Name == attemptCookieName("quiz-1") {
			cookie = ck
		}
	}
	require.NotNil(t, cookie)

	// 可复用链接在有效期内可以多次提交
	for i := 0; i < 3; i++ {
		w = postAttempt(srv, "quiz-1", `{"answers":{"q1":"a"}}`, cookie)
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Nil(t, fs.links["link-quiz-1"].RevokedAt)
}

func TestSharedAttemptWithoutCookie(t *testing.T) {
	fs, srv := newShareTestServer(t)
	seedAttemptLink(t, fs, srv.Core, "quiz-1", true)

	w := postAttempt(srv, "quiz-1", `{"answers":{"q1":"a"}}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, fs.links["link-quiz-1"].RevokedAt)
}
