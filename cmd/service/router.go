package service

import (
	"github.com/gin-gonic/gin"

	"github.com/quizlab-ai/quizlab/app/core"
	v1 "github.com/quizlab-ai/quizlab/app/logic/v1"
	"github.com/quizlab-ai/quizlab/app/response"
	"github.com/quizlab-ai/quizlab/cmd/service/handler"
	"github.com/quizlab-ai/quizlab/cmd/service/middleware"
	"github.com/quizlab-ai/quizlab/pkg/metrics"
)

func serve(core *core.Core) {
	httpSrv := &handler.HttpSrv{
		Core:   core,
		Engine: core.HttpEngine(),
	}
	setupHttpRouter(httpSrv)

	core.HttpEngine().Run(core.Cfg().Addr)
}

func GetIPLimitBuilder(appCore *core.Core) middleware.LimiterFunc {
	return func(key string, opts ...core.LimitOption) gin.HandlerFunc {
		return middleware.UseLimit(appCore, key, func(c *gin.Context) string {
			return key + ":" + c.ClientIP()
		}, opts...)
	}
}

func GetUserLimitBuilder(appCore *core.Core) middleware.LimiterFunc {
	return func(key string, opts ...core.LimitOption) gin.HandlerFunc {
		return middleware.UseLimit(appCore, key, func(c *gin.Context) string {
			token, _ := v1.InjectTokenClaim(c)
			return key + ":" + token.User
		}, opts...)
	}
}

func setupHttpRouter(s *handler.HttpSrv) {
	ipLimit := GetIPLimitBuilder(s.Core)
	userLimit := GetUserLimitBuilder(s.Core)

	s.Engine.GET("/metrics", metrics.DefaultExportHandler())

	s.Engine.Use(middleware.I18n(), response.NewResponse())
	s.Engine.Use(middleware.Cors)
	s.Engine.Use(middleware.AcceptLanguage())
	s.Engine.Use(middleware.SetAppid(s.Core))

	apiV1 := s.Engine.Group("/api/v1")
	{
		// token 持有方，无需认证
		share := apiV1.Group("/share")
		{
			share.GET("/quiz/:token", ipLimit("share_access"), s.GetQuizByShareToken)
			share.POST("/quiz/:token/consume", ipLimit("share_consume"), s.ConsumeShareToken)
			share.POST("/attempt/:quizid", ipLimit("share_attempt"), s.SubmitSharedAttempt)
		}

		authed := apiV1.Group("")
		authed.Use(middleware.Authorization(s.Core))

		quiz := authed.Group("/quiz")
		{
			quiz.POST("/:quizid/share", userLimit("create_share_link"), s.CreateShareLink)
		}

		links := authed.Group("/share/links")
		{
			links.GET("", s.ListShareLinks)
			links.DELETE("/:linkid", s.RevokeShareLink)
			links.GET("/:linkid/usages", s.ListShareLinkUsages)
		}
	}
}
