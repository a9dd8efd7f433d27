package core

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/time/rate"
)

type LimitConfig struct {
	Limit int
	Every time.Duration
}

type LimitOption func(l *LimitConfig)

func WithLimit(limit int) LimitOption {
	return func(l *LimitConfig) {
		l.Limit = limit
	}
}

func WithRange(r time.Duration) LimitOption {
	return func(l *LimitConfig) {
		l.Every = r
	}
}

type Limiter interface {
	Allow() bool
}

var limiters = cmap.New[*rate.Limiter]()

// UseLimiter 按 key 维度限速，Limit 代表每个时间窗口允许的请求数
func (s *Core) UseLimiter(key string, method string, opts ...LimitOption) Limiter {
	cfg := &LimitConfig{
		Limit: 60,
		Every: time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	l, exist := limiters.Get(key)
	if !exist {
		limit := rate.Every(cfg.Every / time.Duration(cfg.Limit))
		l = rate.NewLimiter(limit, cfg.Limit*2)
		limiters.SetIfAbsent(key, l)
		l, _ = limiters.Get(key)
	}

	return l
}
