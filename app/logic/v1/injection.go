package v1

import (
	"context"

	"github.com/quizlab-ai/quizlab/pkg/security"
)

const (
	TOKEN_CONTEXT_KEY = "__quizlab.access_token"
	LANGUAGE_KEY      = "__quizlab.accept_language"
	APPID_KEY         = "__quizlab.appid"
)

func InjectAppid(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(APPID_KEY).(string)
	return val, ok
}

// InjectTokenClaim get user/platform token claims from context
func InjectTokenClaim(ctx context.Context) (security.TokenClaims, bool) {
	val, ok := ctx.Value(TOKEN_CONTEXT_KEY).(security.TokenClaims)
	return val, ok
}

func InjectLanguage(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(LANGUAGE_KEY).(string)
	return val, ok
}
