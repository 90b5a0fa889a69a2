package api

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey int

const bearerTokenKey ctxKey = iota

// WithBearerToken returns a context whose outgoing calls carry token.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey, token)
}

func BearerToken(ctx context.Context) string {
	if token, ok := ctx.Value(bearerTokenKey).(string); ok {
		return token
	}
	return ""
}

func requestID(ctx context.Context) string {
	return middleware.GetReqID(ctx)
}
