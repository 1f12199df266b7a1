package httphandler

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/ericfisherdev/trendlens/internal/adapter/driven/authhttp"
)

type expiryKey struct{}

// expiryMiddleware gives every request a flag the session transport can raise
// when the request's session expires for good.
func expiryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), expiryKey{}, new(atomic.Bool))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExpiryHandler returns the transport callback for terminal session expiry.
// It flags the gateway request that triggered it so the response becomes a
// redirect to the login entry point.
func ExpiryHandler(logger *slog.Logger) authhttp.ExpiryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, cause error) {
		if flag, ok := ctx.Value(expiryKey{}).(*atomic.Bool); ok {
			flag.Store(true)
		}
		logger.Warn("session expired, login required", "request_id", RequestID(ctx), "cause", cause)
	}
}

// sessionExpired reports whether the transport flagged this request.
func sessionExpired(ctx context.Context) bool {
	flag, ok := ctx.Value(expiryKey{}).(*atomic.Bool)
	return ok && flag.Load()
}
