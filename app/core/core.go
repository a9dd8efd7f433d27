package core

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/quizlab-ai/quizlab/app/core/srv"
	"github.com/quizlab-ai/quizlab/app/store"
	"github.com/quizlab-ai/quizlab/app/store/sqlstore"
	"github.com/quizlab-ai/quizlab/pkg/security"
	"github.com/quizlab-ai/quizlab/pkg/types"
	"github.com/quizlab-ai/quizlab/pkg/utils"
)

type Core struct {
	cfg CoreConfig
	srv *srv.Srv

	stores      func() store.Store
	httpEngine  *gin.Engine
	tokenHasher *security.ShareTokenHasher

	redisClient *redis.Client
	cache       types.Cache

	metrics *Metrics
}

func MustSetupCore(cfg CoreConfig) *Core {
	{
		var writer io.Writer = os.Stdout
		if cfg.Log.Path != "" {
			writer = &lumberjack.Logger{
				Filename:   cfg.Log.Path,
				MaxSize:    500, // megabytes
				MaxBackups: 3,
				MaxAge:     28,   //days
				Compress:   true, // disabled by default
			}
		}
		l := slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level: cfg.Log.SlogLevel(),
		}))
		slog.SetDefault(l)
	}

	if cfg.Security.SharePepper == "" {
		panic("security.share_pepper must be configured, issued share links depend on it")
	}

	core := &Core{
		cfg:         cfg,
		metrics:     NewMetrics("quizlab", "core"),
		httpEngine:  gin.New(),
		tokenHasher: security.NewShareTokenHasher(cfg.Security.SharePepper),
	}

	setupSqlStore(core)
	setupRedis(core)

	core.srv = srv.SetupSrvs()

	utils.SetupIDWorker(1)

	return core
}

// NewWithDeps 以外部注入的存储构建 Core，测试场景使用
func NewWithDeps(cfg CoreConfig, s store.Store) *Core {
	return &Core{
		cfg:         cfg,
		stores:      func() store.Store { return s },
		tokenHasher: security.NewShareTokenHasher(cfg.Security.SharePepper),
		srv:         srv.SetupSrvs(),
	}
}

func setupSqlStore(core *Core) {
	getProvider := sqlstore.MustSetup(core.cfg.Postgres)
	if err := getProvider().Install(); err != nil {
		panic(err)
	}
	core.stores = func() store.Store { return getProvider() }
	fmt.Println("setupSqlStore done")
}

func setupRedis(core *Core) {
	if core.cfg.Redis.Addr == "" {
		return
	}
	core.redisClient = redis.NewClient(&redis.Options{
		Addr:     core.cfg.Redis.Addr,
		Password: core.cfg.Redis.Password,
		DB:       core.cfg.Redis.DB,
	})
	core.cache = NewRedisCache(core.redisClient)
}

func (s *Core) Cfg() CoreConfig {
	return s.cfg
}

func (s *Core) HttpEngine() *gin.Engine {
	return s.httpEngine
}

func (s *Core) Metrics() *Metrics {
	return s.metrics
}

func (s *Core) Store() store.Store {
	return s.stores()
}

func (s *Core) Srv() *srv.Srv {
	return s.srv
}

func (s *Core) ShareTokenHasher() *security.ShareTokenHasher {
	return s.tokenHasher
}

func (s *Core) Redis() *redis.Client {
	return s.redisClient
}

func (s *Core) Cache() types.Cache {
	if s.cache == nil {
		return &EmptyCache{}
	}
	return s.cache
}

// ShareMaxTTL 分享链接允许的最长有效期
func (s *Core) ShareMaxTTL() time.Duration {
	return time.Duration(s.cfg.Site.Share.MaxTTLDaysOrDefault()) * 24 * time.Hour
}
