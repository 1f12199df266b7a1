package authhttp

import (
	"context"
	"net/http"
)

type contextKey int

const (
	skipAuthKey contextKey = iota
	retriedKey
)

// SkipAuth marks requests made with ctx as unauthenticated: they are sent
// without a bearer header and a 401 on them is never recovered. Login, signup
// and the reissue call itself use it.
func SkipAuth(ctx context.Context) context.Context {
	return context.WithValue(ctx, skipAuthKey, true)
}

// IsSkipAuth reports whether ctx carries the skip-auth marker.
func IsSkipAuth(ctx context.Context) bool {
	v, _ := ctx.Value(skipAuthKey).(bool)
	return v
}

// Retried reports whether req is a replay that already spent its single
// reissue attempt.
func Retried(req *http.Request) bool {
	v, _ := req.Context().Value(retriedKey).(bool)
	return v
}

func markRetried(ctx context.Context) context.Context {
	return context.WithValue(ctx, retriedKey, true)
}
