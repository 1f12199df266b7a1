// Package authhttp provides the authenticated HTTP transport. It decorates
// outgoing requests with the current bearer token and, when the backend
// answers 401, reissues the access token once and replays the request.
package authhttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/oauth2"

	"github.com/ericfisherdev/trendlens/internal/domain/model"
	"github.com/ericfisherdev/trendlens/internal/domain/port/driven"
)

const defaultReissueTimeout = 10 * time.Second

// SessionStore is the credential store as seen by the transport.
type SessionStore interface {
	oauth2.TokenSource
	SetSession(ctx context.Context, token string, claims model.Claims)
	ClearSession(ctx context.Context)
}

// ExpiryHandler is called once per request whose 401 could not be recovered,
// after the session has been cleared. It is the signal to send the user back
// to the login entry point.
type ExpiryHandler func(ctx context.Context, cause error)

// Config configures a Transport. Store, Decoder and ReissueURL are required.
type Config struct {
	// Base sends the actual requests. Defaults to NewBaseTransport(nil).
	Base http.RoundTripper
	// Jar carries the refresh cookie. A public-suffix jar is created when nil.
	Jar        http.CookieJar
	Store      SessionStore
	Decoder    driven.TokenDecoder
	ReissueURL string
	// Coalesce shares one in-flight reissue among concurrent 401s.
	Coalesce bool
	// ReissueTimeout bounds the reissue call, which outlives the caller's
	// context. Defaults to 10s.
	ReissueTimeout time.Duration
	OnExpired      ExpiryHandler
	Observer       Observer
	Logger         *slog.Logger
}

// Transport is an http.RoundTripper that adds bearer authentication and
// recovers from expired access tokens.
type Transport struct {
	base      http.RoundTripper
	jar       http.CookieJar
	store     SessionStore
	reissueAt *url.URL
	reissuer  *reissuer
	onExpired ExpiryHandler
	observer  Observer
	logger    *slog.Logger
}

// Compile-time interface satisfaction check.
var _ http.RoundTripper = (*Transport)(nil)

// NewTransport validates cfg and builds a Transport.
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.Store == nil {
		return nil, errors.New("authhttp: store is required")
	}
	if cfg.Decoder == nil {
		return nil, errors.New("authhttp: token decoder is required")
	}
	reissueAt, err := url.Parse(cfg.ReissueURL)
	if err != nil || reissueAt.Scheme == "" || reissueAt.Host == "" {
		return nil, fmt.Errorf("authhttp: invalid reissue URL %q", cfg.ReissueURL)
	}

	base := cfg.Base
	if base == nil {
		base = NewBaseTransport(nil)
	}
	jar := cfg.Jar
	if jar == nil {
		jar, err = cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("authhttp: creating cookie jar: %w", err)
		}
	}
	reissueTimeout := cfg.ReissueTimeout
	if reissueTimeout <= 0 {
		reissueTimeout = defaultReissueTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	t := &Transport{
		base:      base,
		jar:       jar,
		store:     cfg.Store,
		reissueAt: reissueAt,
		onExpired: cfg.OnExpired,
		observer:  cfg.Observer,
		logger:    logger,
	}
	t.reissuer = &reissuer{
		// The reissue call goes through this transport with skip-auth set, so
		// it shares the base stack and the cookie jar with every other call.
		client:   &http.Client{Transport: t, Jar: jar},
		url:      reissueAt.String(),
		store:    cfg.Store,
		decoder:  cfg.Decoder,
		coalesce: cfg.Coalesce,
		timeout:  reissueTimeout,
		logger:   logger,
	}
	return t, nil
}

// NewClient returns an http.Client that sends through t and keeps cookies in
// the same jar the reissue call reads the refresh cookie from.
func (t *Transport) NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: t, Jar: t.jar, Timeout: timeout}
}

// Jar returns the cookie jar shared by the reissue call.
func (t *Transport) Jar() http.CookieJar {
	return t.jar
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if IsSkipAuth(req.Context()) {
		return t.base.RoundTrip(req)
	}

	t.transition(req, StateInitial, StatePending)

	out, err := t.decorate(req)
	if err != nil {
		t.transition(req, StatePending, StateFailed)
		return nil, err
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		t.transition(req, StatePending, StateFailed)
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized || t.isReissueTarget(req) {
		t.transition(req, StatePending, StateDone)
		return resp, nil
	}
	if Retried(req) {
		t.transition(req, StatePending, StateFailed)
		return resp, nil
	}
	return t.recover(req, out, resp)
}

// decorate returns a clone of req carrying the current bearer token, or no
// Authorization header when logged out. The caller's request is not modified.
func (t *Transport) decorate(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())

	if out.Body != nil && out.Body != http.NoBody && out.GetBody == nil {
		buf, err := io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("authhttp: buffering request body: %w", err)
		}
		out.Body = io.NopCloser(bytes.NewReader(buf))
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(buf)), nil
		}
	}

	tok, err := t.store.Token()
	if err != nil || tok.AccessToken == "" {
		out.Header.Del("Authorization")
		return out, nil
	}
	out.Header.Set("Authorization", bearerPrefix+tok.AccessToken)
	return out, nil
}

// recover runs the reissue-and-replay cycle for a 401 on sent. The original
// response is returned untouched when the session cannot be renewed.
func (t *Transport) recover(req, sent *http.Request, resp *http.Response) (*http.Response, error) {
	ctx := req.Context()
	logger := t.logger.With("trace_id", uuid.NewString(), "method", req.Method, "url", redact(req.URL))

	t.transition(req, StatePending, StateReissuing)

	replay, err := replayClone(sent)
	if err != nil {
		logger.Warn("request cannot be replayed", "error", err)
		t.transition(req, StateReissuing, StateFailed)
		return resp, nil
	}

	token, err := t.reissuer.reissue(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			drain(resp)
			t.transition(req, StateReissuing, StateFailed)
			return nil, ctxErr
		}
		logger.Warn("session expired", "error", err)
		t.transition(req, StateReissuing, StateFailed)
		if t.onExpired != nil {
			t.onExpired(ctx, err)
		}
		return resp, nil
	}

	drain(resp)
	replay.Header.Set("Authorization", bearerPrefix+token)

	t.transition(req, StateReissuing, StateReplaying)
	replayed, err := t.base.RoundTrip(replay)
	if err != nil {
		t.transition(req, StateReplaying, StateFailed)
		return nil, err
	}
	if replayed.StatusCode == http.StatusUnauthorized {
		// A freshly issued token was refused: the session is unusable.
		cause := fmt.Errorf("%w: replay rejected with the reissued token", ErrReissueFailed)
		logger.Warn("session expired", "error", cause)
		t.store.ClearSession(context.WithoutCancel(ctx))
		t.transition(req, StateReplaying, StateFailed)
		if t.onExpired != nil {
			t.onExpired(ctx, cause)
		}
		return replayed, nil
	}
	logger.Debug("request replayed", "status", replayed.StatusCode)
	t.transition(req, StateReplaying, StateDone)
	return replayed, nil
}

func (t *Transport) isReissueTarget(req *http.Request) bool {
	return strings.EqualFold(req.URL.Host, t.reissueAt.Host) &&
		strings.TrimSuffix(req.URL.Path, "/") == strings.TrimSuffix(t.reissueAt.Path, "/")
}

func (t *Transport) transition(req *http.Request, from, to State) {
	t.logger.Debug("auth transition", "method", req.Method, "url", redact(req.URL), "from", from, "to", to)
	if t.observer != nil {
		t.observer(req, from, to)
	}
}

// replayClone copies sent for its single replay, marking it retried and
// rewinding its body.
func replayClone(sent *http.Request) (*http.Request, error) {
	replay := sent.Clone(markRetried(sent.Context()))
	if sent.GetBody != nil {
		body, err := sent.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		replay.Body = body
	}
	return replay, nil
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// redact drops the query string, which may carry account identifiers.
func redact(u *url.URL) string {
	c := *u
	c.RawQuery = ""
	c.User = nil
	return c.String()
}
