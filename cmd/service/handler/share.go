package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	v1 "github.com/quizlab-ai/quizlab/app/logic/v1"
	"github.com/quizlab-ai/quizlab/app/response"
	"github.com/quizlab-ai/quizlab/pkg/errors"
	"github.com/quizlab-ai/quizlab/pkg/i18n"
	"github.com/quizlab-ai/quizlab/pkg/types"
	"github.com/quizlab-ai/quizlab/pkg/utils"
)

type CreateShareLinkRequest struct {
	Scope     string `json:"scope" binding:"required"`
	OneTime   bool   `json:"one_time"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *HttpSrv) CreateShareLink(c *gin.Context) {
	var (
		err error
		req CreateShareLinkRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	quizID, _ := c.Params.Get("quizid")
	res, err := v1.NewManageShareLinkLogic(c, s.Core).CreateShareLink(quizID, types.ShareScope(req.Scope), req.OneTime, req.ExpiresAt)
	if err != nil {
		response.APIError(c, err)
		return
	}

	response.APISuccess(c, res)
}

func (s *HttpSrv) GetQuizByShareToken(c *gin.Context) {
	token, _ := c.Params.Get("token")
	res, err := v1.NewShareLinkLogic(c, s.Core).Access(token, clientMeta(c))
	if err != nil {
		response.APIError(c, err)
		return
	}

	// 答题范围的链接在访问时换发一个绑定到对应测验提交路径的会话 cookie，
	// 一次性额度留到提交时才消费
	if res.Scope == types.SHARE_SCOPE_ATTEMPT {
		s.setAttemptCookie(c, res.Quiz.ID, token, res.ExpiresAt)
	}

	response.APISuccess(c, res)
}

func (s *HttpSrv) ConsumeShareToken(c *gin.Context) {
	token, _ := c.Params.Get("token")
	res, err := v1.NewShareLinkLogic(c, s.Core).Consume(token, clientMeta(c))
	if err != nil {
		response.APIError(c, err)
		return
	}

	response.APISuccess(c, res)
}

func attemptCookieName(quizID string) string {
	return "quizlab_attempt_" + quizID
}

func (s *HttpSrv) setAttemptCookie(c *gin.Context, quizID, token string, expiresAt int64) {
	maxAge := int(time.Until(time.Unix(expiresAt, 0)).Seconds())
	if maxAge <= 0 {
		return
	}

	shareCfg := s.Core.Cfg().Site.Share
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		attemptCookieName(quizID),
		token,
		maxAge,
		"/api/v1/share/attempt/"+quizID,
		shareCfg.CookieDomain,
		shareCfg.CookieSecure,
		true, // http only
	)
}

type SubmitSharedAttemptRequest struct {
	Answers map[string]string `json:"answers" binding:"required"`
}

// SubmitSharedAttempt 匿名答题提交。token 从访问时种下的会话 cookie 中读取，
// 这里是一次性链接唯一的消费点。
func (s *HttpSrv) SubmitSharedAttempt(c *gin.Context) {
	var (
		err error
		req SubmitSharedAttemptRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	quizID, _ := c.Params.Get("quizid")
	token, err := c.Cookie(attemptCookieName(quizID))
	if err != nil || token == "" {
		response.APIError(c, errors.New("HttpSrv.SubmitSharedAttempt.Cookie", i18n.ERROR_UNAUTHORIZED, err).Code(http.StatusUnauthorized))
		return
	}

	res, err := v1.NewShareLinkLogic(c, s.Core).Consume(token, clientMeta(c))
	if err != nil {
		response.APIError(c, err)
		return
	}

	if res.Scope != types.SHARE_SCOPE_ATTEMPT {
		response.APIError(c, errors.New("HttpSrv.SubmitSharedAttempt.Scope", i18n.ERROR_SHARE_SCOPE_DENIED, nil).Code(http.StatusForbidden))
		return
	}

	response.APISuccess(c, gin.H{
		"quiz_id":      res.Quiz.ID,
		"accepted":     true,
		"answer_count": len(req.Answers),
	})
}

func (s *HttpSrv) RevokeShareLink(c *gin.Context) {
	linkID, _ := c.Params.Get("linkid")
	if err := v1.NewManageShareLinkLogic(c, s.Core).RevokeShareLink(linkID); err != nil {
		response.APIError(c, err)
		return
	}

	response.APISuccess(c, nil)
}

type ListShareLinksRequest struct {
	QuizID   string `form:"quiz_id"`
	Page     uint64 `form:"page"`
	PageSize uint64 `form:"pagesize"`
}

type ListShareLinksResponse struct {
	List  []v1.ShareLinkItem `json:"list"`
	Total int64              `json:"total"`
}

func (s *HttpSrv) ListShareLinks(c *gin.Context) {
	var (
		err error
		req ListShareLinksRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	list, total, err := v1.NewManageShareLinkLogic(c, s.Core).ListUserLinks(req.QuizID, req.Page, req.PageSize)
	if err != nil {
		response.APIError(c, err)
		return
	}

	response.APISuccess(c, ListShareLinksResponse{
		List:  list,
		Total: total,
	})
}

type ListShareUsagesRequest struct {
	Page     uint64 `form:"page"`
	PageSize uint64 `form:"pagesize"`
}

func (s *HttpSrv) ListShareLinkUsages(c *gin.Context) {
	var (
		err error
		req ListShareUsagesRequest
	)
	if err = utils.BindArgsWithGin(c, &req); err != nil {
		response.APIError(c, err)
		return
	}

	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 || req.PageSize > 100 {
		req.PageSize = 20
	}

	linkID, _ := c.Params.Get("linkid")
	usages, err := v1.NewManageShareLinkLogic(c, s.Core).ListLinkUsages(linkID, req.Page, req.PageSize)
	if err != nil {
		response.APIError(c, err)
		return
	}

	response.APISuccess(c, usages)
}

func clientMeta(c *gin.Context) v1.ClientMeta {
	return v1.ClientMeta{
		Addr:  c.ClientIP(),
		Agent: c.Request.UserAgent(),
	}
}
