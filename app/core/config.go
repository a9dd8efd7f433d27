package core

import (
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

func MustLoadBaseConfig(path string) CoreConfig {
	if path == "" {
		return LoadBaseConfigFromENV()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	conf := &CoreConfig{}
	conf.SetConfigBytes(raw)

	if err = toml.Unmarshal(raw, conf); err != nil {
		panic(err)
	}

	return *conf
}

func (c CoreConfig) LoadCustomConfig(cfg any) error {
	if len(c.bytes) == 0 {
		return nil
	}
	if err := toml.Unmarshal(c.bytes, cfg); err != nil {
		return err
	}
	return nil
}

func LoadBaseConfigFromENV() CoreConfig {
	var c CoreConfig
	c.FromENV()
	return c
}

type CoreConfig struct {
	Addr     string      `toml:"addr"`
	Log      Log         `toml:"log"`
	Postgres PGConfig    `toml:"postgres"`
	Redis    RedisConfig `toml:"redis"`
	Site     Site        `toml:"site"`

	Security Security `toml:"security"`

	bytes []byte `toml:"-"`
}

type Site struct {
	Share ShareConfig `toml:"share"`
}

// ShareConfig 分享链接行为配置
type ShareConfig struct {
	Domain             string `toml:"domain"`               // 分享链接展示域名
	CookieDomain       string `toml:"cookie_domain"`        // 答题会话 cookie 域
	CookieSecure       bool   `toml:"cookie_secure"`        // 仅 https 下发 cookie
	MaxTTLDays         int    `toml:"max_ttl_days"`         // 链接最长有效期（天），默认 30
	UsageRetentionDays int    `toml:"usage_retention_days"` // 审计记录保留天数，0 表示不清理
}

const DEFAULT_SHARE_MAX_TTL_DAYS = 30

func (s ShareConfig) MaxTTLDaysOrDefault() int {
	if s.MaxTTLDays <= 0 {
		return DEFAULT_SHARE_MAX_TTL_DAYS
	}
	return s.MaxTTLDays
}

type Security struct {
	// SharePepper 参与分享 token 摘要计算，轮换会使所有已发放链接失效
	SharePepper string `toml:"share_pepper"`
	JWTSecret   string `toml:"jwt_secret"`
}

func (c *CoreConfig) SetConfigBytes(raw []byte) {
	c.bytes = raw
}

func (c *CoreConfig) FromENV() {
	c.Addr = os.Getenv("QUIZLAB_API_SERVICE_ADDRESS")
	c.Log.FromENV()
	c.Postgres.FromENV()
	c.Redis.FromENV()
	c.Security.SharePepper = os.Getenv("QUIZLAB_SHARE_PEPPER")
	c.Security.JWTSecret = os.Getenv("QUIZLAB_JWT_SECRET")
	c.Site.Share.Domain = os.Getenv("QUIZLAB_SHARE_DOMAIN")
	c.Site.Share.CookieDomain = os.Getenv("QUIZLAB_SHARE_COOKIE_DOMAIN")
	if days := os.Getenv("QUIZLAB_SHARE_MAX_TTL_DAYS"); days != "" {
		if v, err := strconv.Atoi(days); err == nil {
			c.Site.Share.MaxTTLDays = v
		}
	}
}

type PGConfig struct {
	DSN string `toml:"dsn"`
}

func (m *PGConfig) FromENV() {
	m.DSN = os.Getenv("QUIZLAB_POSTGRESQL_DSN")
}

func (c PGConfig) FormatDSN() string {
	return c.DSN
}

type RedisConfig struct {
	Addr     string `toml:"addr"`     // Redis地址，格式: host:port
	Password string `toml:"password"` // Redis密码
	DB       int    `toml:"db"`       // Redis数据库索引 (0-15)
}

func (r *RedisConfig) FromENV() {
	r.Addr = os.Getenv("QUIZLAB_REDIS_ADDR")
	r.Password = os.Getenv("QUIZLAB_REDIS_PASSWORD")
	if dbStr := os.Getenv("QUIZLAB_REDIS_DB"); dbStr != "" {
		if db, err := strconv.Atoi(dbStr); err == nil {
			r.DB = db
		}
	}
}

type Log struct {
	Level string `toml:"level"`
	Path  string `toml:"path"`
}

func (l *Log) FromENV() {
	l.Level = os.Getenv("QUIZLAB_API_LOG_LEVEL")
	l.Path = os.Getenv("QUIZLAB_API_LOG_PATH")
}

func (l *Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "info":
		return slog.LevelInfo
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}
