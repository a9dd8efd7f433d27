package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quizlab-ai/quizlab/pkg/types"
	"github.com/quizlab-ai/quizlab/pkg/utils"
)

const tokenCachePrefix = "user:token:"

func tokenCacheKey(token string) string {
	return tokenCachePrefix + utils.MD5(token)
}

// CacheToken 将已通过存储校验的 access token 元信息写入缓存，
// 减少热点请求对数据库的压力。
func CacheToken(ctx context.Context, cache types.Cache, token string, meta types.UserTokenMeta, ttl time.Duration) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return cache.SetEx(ctx, tokenCacheKey(token), string(raw), ttl)
}

// ValidateTokenFromCache 尝试命中缓存中的 token 元信息。
// 未命中或已过期返回 false，由调用方回退到数据库校验。
func ValidateTokenFromCache(ctx context.Context, cache types.Cache, token string) (*types.UserTokenMeta, bool) {
	raw, err := cache.Get(ctx, tokenCacheKey(token))
	if err != nil || raw == "" {
		return nil, false
	}

	var meta types.UserTokenMeta
	if err = json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, false
	}

	if meta.ExpireAt > 0 && meta.ExpireAt < time.Now().Unix() {
		return nil, false
	}

	return &meta, true
}
