package middleware

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/quizlab-ai/quizlab/app/core"
	v1 "github.com/quizlab-ai/quizlab/app/logic/v1"
	"github.com/quizlab-ai/quizlab/app/response"
	"github.com/quizlab-ai/quizlab/pkg/auth"
	"github.com/quizlab-ai/quizlab/pkg/errors"
	"github.com/quizlab-ai/quizlab/pkg/i18n"
	"github.com/quizlab-ai/quizlab/pkg/security"
	"github.com/quizlab-ai/quizlab/pkg/types"
)

func I18n() gin.HandlerFunc {
	var allowList []string
	for k := range i18n.ALLOW_LANG {
		allowList = append(allowList, k)
	}
	l := i18n.NewLocalizer(allowList...)

	return response.ProvideResponseLocalizer(l)
}

// AcceptLanguage 目前服务端支持 en: English, zh-CN: 简体中文
func AcceptLanguage() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		lang := ctx.Request.Header.Get("Accept-Language")
		ctx.Set(v1.LANGUAGE_KEY, lo.If(strings.Contains(lang, "zh"), types.LANGUAGE_CN_KEY).Else(types.LANGUAGE_EN_KEY))
	}
}

const (
	ACCESS_TOKEN_HEADER_KEY = "X-Access-Token"
	AUTH_TOKEN_HEADER_KEY   = "X-Authorization"
)

func SetAppid(core *core.Core) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.Set(v1.APPID_KEY, types.DEFAULT_APPID)
	}
}

func Authorization(core *core.Core) gin.HandlerFunc {
	tracePrefix := "middleware.Authorization"
	return func(ctx *gin.Context) {
		matched, err := checkAccessToken(ctx, core)
		if err != nil {
			response.APIError(ctx, errors.Trace(tracePrefix, err))
			return
		}

		if matched {
			return
		}

		if matched, err = checkAuthToken(ctx, core); err != nil {
			response.APIError(ctx, errors.Trace(tracePrefix, err))
			return
		}

		if !matched {
			response.APIError(ctx, errors.New(tracePrefix, i18n.ERROR_UNAUTHORIZED, err).Code(http.StatusUnauthorized))
		}
	}
}

func checkAccessToken(c *gin.Context, core *core.Core) (bool, error) {
	tokenValue := c.GetHeader(ACCESS_TOKEN_HEADER_KEY)
	if tokenValue == "" {
		return false, nil
	}

	return ParseAccessToken(c, tokenValue, core)
}

func ParseAccessToken(c *gin.Context, tokenValue string, core *core.Core) (bool, error) {
	if tokenValue == "" {
		return false, nil
	}

	appid, exist := v1.InjectAppid(c)
	if !exist {
		appid = types.DEFAULT_APPID
	}

	token, err := core.Store().AccessTokenStore().GetAccessToken(c, appid, tokenValue)
	if err != nil && err != sql.ErrNoRows {
		return false, errors.New("ParseAccessToken.AccessTokenStore.GetAccessToken", i18n.ERROR_INTERNAL, err)
	}

	if token == nil || token.ExpiresAt < time.Now().Unix() {
		return false, errors.New("ParseAccessToken.token.check", i18n.ERROR_UNAUTHORIZED, fmt.Errorf("nil token")).Code(http.StatusUnauthorized)
	}

	claims, err := token.TokenClaims()
	if err != nil {
		return false, errors.New("ParseAccessToken.TokenClaims", i18n.ERROR_UNAUTHORIZED, err).Code(http.StatusUnauthorized)
	}

	c.Set("user_id", token.UserID)
	c.Set(v1.TOKEN_CONTEXT_KEY, claims)
	return true, nil
}

func checkAuthToken(c *gin.Context, core *core.Core) (bool, error) {
	tokenValue := c.GetHeader(AUTH_TOKEN_HEADER_KEY)
	if tokenValue == "" {
		return false, nil
	}

	return ParseAuthToken(c, tokenValue, core)
}

// ParseAuthToken 会话 token 校验。优先命中缓存，未命中则验证 JWT 签名并回填缓存。
func ParseAuthToken(c *gin.Context, tokenValue string, core *core.Core) (bool, error) {
	if tokenValue == "" {
		return false, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	if meta, ok := auth.ValidateTokenFromCache(ctx, core.Cache(), tokenValue); ok {
		c.Set("user_id", meta.UserID)
		c.Set(v1.TOKEN_CONTEXT_KEY, security.NewTokenClaims(meta.Appid, types.DEFAULT_APPID, meta.UserID, "", meta.ExpireAt))
		return true, nil
	}

	claims, err := security.VerifyToken(tokenValue, []byte(core.Cfg().Security.JWTSecret))
	if err != nil {
		return false, errors.New("ParseAuthToken.VerifyToken", i18n.ERROR_UNAUTHORIZED, err).Code(http.StatusUnauthorized)
	}

	if err = auth.CacheToken(ctx, core.Cache(), tokenValue, types.UserTokenMeta{
		Appid:    claims.Appid,
		UserID:   claims.User,
		ExpireAt: claims.ExpireTime,
	}, time.Until(time.Unix(claims.ExpireTime, 0))); err != nil {
		slog.Warn("failed to cache session token", slog.String("error", err.Error()))
	}

	c.Set("user_id", claims.User)
	c.Set(v1.TOKEN_CONTEXT_KEY, *claims)
	return true, nil
}

func Cors(c *gin.Context) {
	method := c.Request.Method
	origin := c.Request.Header.Get("Origin")
	if origin != "" {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, UPDATE")
		c.Header("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization, X-Access-Token, X-Authorization, X-Appid")
		c.Header("Access-Control-Expose-Headers", "Content-Length, Access-Control-Allow-Origin, Access-Control-Allow-Headers, Cache-Control, Content-Language, Content-Type")
		c.Header("Access-Control-Allow-Credentials", "true")
	}
	if method == "OPTIONS" {
		c.AbortWithStatus(http.StatusNoContent)
	}
	c.Next()
}

type LimiterFunc func(key string, opts ...core.LimitOption) gin.HandlerFunc

func UseLimit(appCore *core.Core, operation string, genKeyFunc func(c *gin.Context) string, opts ...core.LimitOption) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !appCore.UseLimiter(genKeyFunc(c), operation, opts...).Allow() {
			response.APIError(c, errors.New("middleware.limiter", i18n.ERROR_TOO_MANY_REQUESTS, nil).Code(http.StatusTooManyRequests))
		}
	}
}
