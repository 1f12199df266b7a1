package authhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/trendlens/internal/domain/model"
	"github.com/ericfisherdev/trendlens/internal/domain/port/driven"
)

// ErrReissueFailed wraps every reason a reissue did not produce a usable
// session. It reaches logs and the expiry handler, never the caller.
var ErrReissueFailed = errors.New("reissue failed")

const bearerPrefix = "Bearer "

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. The scheme is matched case-insensitively.
func BearerToken(h http.Header) (string, bool) {
	v := strings.TrimSpace(h.Get("Authorization"))
	if len(v) <= len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return "", false
	}
	token := strings.TrimSpace(v[len(bearerPrefix):])
	return token, token != ""
}

type reissuer struct {
	client   *http.Client
	url      string
	store    SessionStore
	decoder  driven.TokenDecoder
	coalesce bool
	timeout  time.Duration
	group    singleflight.Group
	logger   *slog.Logger
}

// reissue obtains a fresh access token. The call always runs detached from
// the caller's cancellation, bounded by the reissue timeout, so a caller that
// gives up never turns into a cleared session. With coalescing enabled,
// callers that arrive while a reissue is in flight share its outcome; without
// it, every caller starts its own. Each caller stops waiting when its own
// context ends.
func (r *reissuer) reissue(ctx context.Context) (string, error) {
	detached := context.WithoutCancel(ctx)

	var ch <-chan singleflight.Result
	if r.coalesce {
		ch = r.group.DoChan("reissue", func() (any, error) {
			return r.do(detached)
		})
	} else {
		own := make(chan singleflight.Result, 1)
		go func() {
			token, err := r.do(detached)
			own <- singleflight.Result{Val: token, Err: err}
		}()
		ch = own
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// do performs one reissue call and commits its outcome to the store: the new
// session on success, a cleared session on any failure.
func (r *reissuer) do(ctx context.Context) (string, error) {
	token, claims, err := r.call(ctx)
	storeCtx := context.WithoutCancel(ctx)
	if err != nil {
		r.store.ClearSession(storeCtx)
		return "", err
	}
	r.store.SetSession(storeCtx, token, claims)
	return token, nil
}

func (r *reissuer) call(ctx context.Context) (string, model.Claims, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(SkipAuth(ctx), http.MethodPost, r.url, nil)
	if err != nil {
		return "", model.Claims{}, fmt.Errorf("%w: building request: %w", ErrReissueFailed, err)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return "", model.Claims{}, fmt.Errorf("%w: %w", ErrReissueFailed, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	r.logger.Debug("reissue response", "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", model.Claims{}, fmt.Errorf("%w: status %d", ErrReissueFailed, resp.StatusCode)
	}

	token, ok := BearerToken(resp.Header)
	if !ok {
		return "", model.Claims{}, fmt.Errorf("%w: response carries no bearer token", ErrReissueFailed)
	}

	claims, err := r.decoder.Decode(ctx, token)
	if err != nil {
		return "", model.Claims{}, fmt.Errorf("%w: decoding token: %w", ErrReissueFailed, err)
	}
	return token, claims, nil
}
