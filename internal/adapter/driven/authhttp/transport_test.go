package authhttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/ericfisherdev/trendlens/internal/domain/model"
)

// fakeStore records every write so tests can count SetSession and ClearSession.
type fakeStore struct {
	mu     sync.Mutex
	token  string
	claims model.Claims
	sets   []string
	clears int
}

func (s *fakeStore) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return nil, errors.New("no session")
	}
	return &oauth2.Token{AccessToken: s.token, TokenType: "Bearer"}, nil
}

func (s *fakeStore) SetSession(_ context.Context, token string, claims model.Claims) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	s.claims = claims
	s.sets = append(s.sets, token)
}

func (s *fakeStore) ClearSession(_ context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.claims = model.Claims{}
	s.clears++
}

func (s *fakeStore) snapshot() (string, []string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, append([]string(nil), s.sets...), s.clears
}

// stubDecoder maps token "t" to a user named "user-t".
type stubDecoder struct {
	err error
}

func (d stubDecoder) Decode(_ context.Context, token string) (model.Claims, error) {
	if d.err != nil {
		return model.Claims{}, d.err
	}
	return model.Claims{Username: "user-" + token, AccountID: 42}, nil
}

// backend is a fake API with a protected /api/v1/mypage route and a
// cookie-guarded /reissue route.
type backend struct {
	server *httptest.Server

	mu     sync.Mutex
	issue  http.HandlerFunc
	accept func(auth string) bool

	reissueCalls atomic.Int32
	mypageCalls  atomic.Int32
	authHeaders  chan []string
}

func newBackend(t *testing.T) *backend {
	t.Helper()
	b := &backend{authHeaders: make(chan []string, 64)}
	b.issue = func(w http.ResponseWriter, r *http.Request) {
		if _, err := r.Cookie("refresh"); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Authorization", "Bearer xyz789")
	}
	b.accept = func(auth string) bool { return auth == "Bearer xyz789" }

	mux := http.NewServeMux()
	mux.HandleFunc("POST /reissue", func(w http.ResponseWriter, r *http.Request) {
		b.reissueCalls.Add(1)
		b.mu.Lock()
		issue := b.issue
		b.mu.Unlock()
		issue(w, r)
	})
	mux.HandleFunc("/api/v1/mypage", func(w http.ResponseWriter, r *http.Request) {
		b.mypageCalls.Add(1)
		b.authHeaders <- r.Header.Values("Authorization")
		b.mu.Lock()
		accept := b.accept
		b.mu.Unlock()
		if !accept(r.Header.Get("Authorization")) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, "original")
			return
		}
		_, _ = io.WriteString(w, `{"username":"minji"}`)
	})
	b.server = httptest.NewServer(mux)
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) setIssue(fn http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.issue = fn
}

func (b *backend) setAccept(fn func(auth string) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accept = fn
}

type harness struct {
	transport *Transport
	client    *http.Client
	store     *fakeStore
	backend   *backend

	mu          sync.Mutex
	transitions []string
	expired     []error
}

func newHarness(t *testing.T, store *fakeStore, mutate func(*Config)) *harness {
	t.Helper()
	h := &harness{store: store, backend: newBackend(t)}

	cfg := Config{
		Base:           http.DefaultTransport,
		Store:          store,
		Decoder:        stubDecoder{},
		ReissueURL:     h.backend.server.URL + "/reissue",
		Coalesce:       true,
		ReissueTimeout: 2 * time.Second,
		OnExpired: func(_ context.Context, cause error) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.expired = append(h.expired, cause)
		},
		Observer: func(_ *http.Request, from, to State) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.transitions = append(h.transitions, from.String()+">"+to.String())
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	tr, err := NewTransport(cfg)
	require.NoError(t, err)
	h.transport = tr
	h.client = tr.NewClient(5 * time.Second)

	u, err := url.Parse(h.backend.server.URL)
	require.NoError(t, err)
	tr.Jar().SetCookies(u, []*http.Cookie{{Name: "refresh", Value: "r1", Path: "/"}})
	return h
}

func (h *harness) get(t *testing.T, ctx context.Context, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.backend.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (h *harness) recorded() ([]string, []error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.transitions...), append([]error(nil), h.expired...)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestTransport_DecoratesBearerExactlyOnce(t *testing.T) {
	h := newHarness(t, &fakeStore{token: "xyz789"}, nil)

	req, err := http.NewRequest(http.MethodGet, h.backend.server.URL+"/api/v1/mypage", nil)
	require.NoError(t, err)
	req.Header.Add("Authorization", "Bearer stale")

	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer xyz789"}, <-h.backend.authHeaders)
	assert.Equal(t, "Bearer stale", req.Header.Get("Authorization"), "caller's request must not be modified")

	transitions, _ := h.recorded()
	assert.Equal(t, []string{"initial>pending", "pending>done"}, transitions)
}

func TestTransport_LoggedOutSendsNoHeader(t *testing.T) {
	h := newHarness(t, &fakeStore{}, func(c *Config) {
		c.ReissueURL = "http://127.0.0.1:1/reissue"
	})

	resp := h.get(t, context.Background(), "/api/v1/mypage")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, <-h.backend.authHeaders)
}

func TestTransport_SkipAuthPassesThrough(t *testing.T) {
	store := &fakeStore{token: "abc123"}
	h := newHarness(t, store, nil)

	resp := h.get(t, SkipAuth(context.Background()), "/api/v1/mypage")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, <-h.backend.authHeaders)
	assert.Equal(t, int32(0), h.backend.reissueCalls.Load())

	_, sets, clears := store.snapshot()
	assert.Empty(t, sets)
	assert.Zero(t, clears)

	transitions, expired := h.recorded()
	assert.Empty(t, transitions)
	assert.Empty(t, expired)
}

func TestTransport_ExpiredTokenIsReissuedAndReplayed(t *testing.T) {
	store := &fakeStore{token: "abc123"}
	h := newHarness(t, store, nil)

	resp := h.get(t, context.Background(), "/api/v1/mypage")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"username":"minji"}`, readBody(t, resp))

	assert.Equal(t, []string{"Bearer abc123"}, <-h.backend.authHeaders)
	assert.Equal(t, []string{"Bearer xyz789"}, <-h.backend.authHeaders)
	assert.Equal(t, int32(1), h.backend.reissueCalls.Load())
	assert.Equal(t, int32(2), h.backend.mypageCalls.Load())

	token, sets, clears := store.snapshot()
	assert.Equal(t, "xyz789", token)
	assert.Equal(t, []string{"xyz789"}, sets)
	assert.Equal(t, "user-xyz789", store.claims.Username)
	assert.Zero(t, clears)

	transitions, expired := h.recorded()
	assert.Equal(t, []string{
		"initial>pending",
		"pending>reissuing",
		"reissuing>replaying",
		"replaying>done",
	}, transitions)
	assert.Empty(t, expired)
}

func TestTransport_ReplayCarriesRetryMarker(t *testing.T) {
	var sawRetried []bool
	var mu sync.Mutex
	store := &fakeStore{token: "abc123"}

	h := newHarness(t, store, func(c *Config) {
		c.Base = roundTripFunc(func(req *http.Request) (*http.Response, error) {
			if !IsSkipAuth(req.Context()) {
				mu.Lock()
				sawRetried = append(sawRetried, Retried(req))
				mu.Unlock()
			}
			return http.DefaultTransport.RoundTrip(req)
		})
	})

	resp := h.get(t, context.Background(), "/api/v1/mypage")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false, true}, sawRetried)
}

func TestTransport_ReissueFailureClearsSession(t *testing.T) {
	tests := []struct {
		name    string
		issue   func(w http.ResponseWriter, r *http.Request)
		decoder stubDecoder
		badURL  bool
	}{
		{
			name: "reissue answers 401",
			issue: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
			},
		},
		{
			name:  "reissue omits the header",
			issue: func(http.ResponseWriter, *http.Request) {},
		},
		{
			name: "reissue header is not bearer",
			issue: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Authorization", "Basic Zm9vOmJhcg==")
			},
		},
		{
			name:    "token cannot be decoded",
			decoder: stubDecoder{err: errors.New("malformed token")},
		},
		{
			name:   "network error",
			badURL: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{token: "abc123"}
			h := newHarness(t, store, func(c *Config) {
				c.Decoder = tt.decoder
				if tt.badURL {
					c.ReissueURL = "http://127.0.0.1:1/reissue"
				}
			})
			if tt.issue != nil {
				h.backend.setIssue(tt.issue)
			}

			resp := h.get(t, context.Background(), "/api/v1/mypage")

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "original", readBody(t, resp), "caller must receive the original 401")
			assert.Equal(t, int32(1), h.backend.mypageCalls.Load(), "no replay after a failed reissue")

			token, sets, clears := store.snapshot()
			assert.Empty(t, token)
			assert.Empty(t, sets)
			assert.Equal(t, 1, clears)

			transitions, expired := h.recorded()
			assert.Equal(t, []string{"initial>pending", "pending>reissuing", "reissuing>failed"}, transitions)
			require.Len(t, expired, 1)
			assert.ErrorIs(t, expired[0], ErrReissueFailed)
		})
	}
}

func TestTransport_ReplayRejectedIsTerminal(t *testing.T) {
	store := &fakeStore{token: "abc123"}
	h := newHarness(t, store, nil)
	h.backend.setAccept(func(string) bool { return false })

	resp := h.get(t, context.Background(), "/api/v1/mypage")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), h.backend.reissueCalls.Load(), "a replay never triggers a second reissue")
	assert.Equal(t, int32(2), h.backend.mypageCalls.Load())

	token, sets, clears := store.snapshot()
	assert.Empty(t, token)
	assert.Equal(t, []string{"xyz789"}, sets)
	assert.Equal(t, 1, clears)

	transitions, expired := h.recorded()
	assert.Equal(t, "replaying>failed", transitions[len(transitions)-1])
	require.Len(t, expired, 1)
	assert.ErrorIs(t, expired[0], ErrReissueFailed)
}

func TestTransport_RetriedRequestIsNotRecoveredAgain(t *testing.T) {
	store := &fakeStore{token: "abc123"}
	h := newHarness(t, store, nil)

	ctx := markRetried(context.Background())
	resp := h.get(t, ctx, "/api/v1/mypage")

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(0), h.backend.reissueCalls.Load())

	transitions, expired := h.recorded()
	assert.Equal(t, []string{"initial>pending", "pending>failed"}, transitions)
	assert.Empty(t, expired)
}

func TestTransport_ReissueEndpointIsNeverRecovered(t *testing.T) {
	store := &fakeStore{token: "abc123"}
	h := newHarness(t, store, nil)
	h.backend.setIssue(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	req, err := http.NewRequest(http.MethodPost, h.backend.server.URL+"/reissue", nil)
	require.NoError(t, err)
	resp, err := h.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, int32(1), h.backend.reissueCalls.Load())

	_, _, clears := store.snapshot()
	assert.Zero(t, clears)
}

func TestTransport_ReplayResendsBody(t *testing.T) {
	store := &fakeStore{token: "abc123"}

	bodies := make(chan string, 4)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/presigned/profilepic", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- string(b)
		if r.Header.Get("Authorization") != "Bearer xyz789" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /reissue", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Authorization", "Bearer xyz789")
	})
	api := httptest.NewServer(mux)
	t.Cleanup(api.Close)

	tr, err := NewTransport(Config{
		Base:       http.DefaultTransport,
		Store:      store,
		Decoder:    stubDecoder{},
		ReissueURL: api.URL + "/reissue",
	})
	require.NoError(t, err)

	// io.NopCloser hides the reader type, so the request has no GetBody.
	payload := `{"ext":"png","contentType":"image/png"}`
	req, err := http.NewRequest(http.MethodPost, api.URL+"/api/v1/presigned/profilepic",
		io.NopCloser(strings.NewReader(payload)))
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := tr.NewClient(5 * time.Second).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, payload, <-bodies)
	assert.Equal(t, payload, <-bodies)
}

func TestTransport_CoalescedBurstSharesOneReissue(t *testing.T) {
	const burst = 8
	store := &fakeStore{token: "abc123"}

	release := make(chan struct{})
	var reissuing atomic.Int32
	var releaseOnce sync.Once

	h := newHarness(t, store, func(c *Config) {
		prev := c.Observer
		c.Observer = func(req *http.Request, from, to State) {
			prev(req, from, to)
			if to == StateReissuing && reissuing.Add(1) == burst {
				// Give the last caller time to join the flight.
				time.AfterFunc(100*time.Millisecond, func() {
					releaseOnce.Do(func() { close(release) })
				})
			}
		}
	})
	h.backend.setIssue(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.Header().Set("Authorization", "Bearer xyz789")
	})

	var wg sync.WaitGroup
	statuses := make(chan int, burst)
	for range burst {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, h.backend.server.URL+"/api/v1/mypage", nil)
			if !assert.NoError(t, err) {
				return
			}
			resp, err := h.client.Do(req)
			if !assert.NoError(t, err) {
				return
			}
			_ = resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	for status := range statuses {
		assert.Equal(t, http.StatusOK, status)
	}
	assert.Equal(t, int32(1), h.backend.reissueCalls.Load())
	assert.Equal(t, int32(2*burst), h.backend.mypageCalls.Load())

	token, sets, _ := store.snapshot()
	assert.Equal(t, "xyz789", token)
	assert.Equal(t, []string{"xyz789"}, sets)
}

func TestTransport_BaselineBurstReissuesPerRequest(t *testing.T) {
	const burst = 5
	store := &fakeStore{token: "abc123"}
	h := newHarness(t, store, func(c *Config) { c.Coalesce = false })

	var arrived, issued atomic.Int32
	allArrived := make(chan struct{})
	h.backend.setIssue(func(w http.ResponseWriter, _ *http.Request) {
		if arrived.Add(1) == burst {
			close(allArrived)
		}
		<-allArrived
		w.Header().Set("Authorization", fmt.Sprintf("Bearer xyz789-%d", issued.Add(1)))
	})
	h.backend.setAccept(func(auth string) bool {
		return strings.HasPrefix(auth, "Bearer xyz789-")
	})

	var wg sync.WaitGroup
	for range burst {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, h.backend.server.URL+"/api/v1/mypage", nil)
			if !assert.NoError(t, err) {
				return
			}
			resp, err := h.client.Do(req)
			if !assert.NoError(t, err) {
				return
			}
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(burst), h.backend.reissueCalls.Load())

	token, sets, _ := store.snapshot()
	assert.Len(t, sets, burst)
	assert.Contains(t, sets, token, "the store holds whichever reissue wrote last")
}

func TestTransport_CallerCancelWhileReissuing(t *testing.T) {
	for _, coalesce := range []bool{true, false} {
		t.Run(fmt.Sprintf("coalesce=%t", coalesce), func(t *testing.T) {
			store := &fakeStore{token: "abc123"}
			h := newHarness(t, store, func(c *Config) { c.Coalesce = coalesce })

			block := make(chan struct{})
			t.Cleanup(func() { close(block) })
			h.backend.setIssue(func(w http.ResponseWriter, _ *http.Request) {
				<-block
				w.Header().Set("Authorization", "Bearer xyz789")
			})

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.backend.server.URL+"/api/v1/mypage", nil)
			require.NoError(t, err)

			_, err = h.client.Do(req)

			require.Error(t, err)
			assert.ErrorIs(t, err, context.DeadlineExceeded)

			token, _, clears := store.snapshot()
			assert.Equal(t, "abc123", token, "a caller giving up must not log the user out")
			assert.Zero(t, clears)
			_, expired := h.recorded()
			assert.Empty(t, expired, "a caller giving up is not a session expiry")
		})
	}
}

func TestTransport_BaselineReissueOutlivesCaller(t *testing.T) {
	store := &fakeStore{token: "abc123"}
	h := newHarness(t, store, func(c *Config) { c.Coalesce = false })

	block := make(chan struct{})
	h.backend.setIssue(func(w http.ResponseWriter, _ *http.Request) {
		<-block
		w.Header().Set("Authorization", "Bearer xyz789")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.backend.server.URL+"/api/v1/mypage", nil)
	require.NoError(t, err)
	_, err = h.client.Do(req)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(block)

	assert.Eventually(t, func() bool {
		token, _, _ := store.snapshot()
		return token == "xyz789"
	}, 2*time.Second, 10*time.Millisecond, "the detached reissue still commits its token")
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{header: "Bearer abc123", want: "abc123", ok: true},
		{header: "bearer abc123", want: "abc123", ok: true},
		{header: "  Bearer   abc123  ", want: "abc123", ok: true},
		{header: "Bearer ", ok: false},
		{header: "Basic abc123", ok: false},
		{header: "abc123", ok: false},
		{header: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			got, ok := BearerToken(h)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewTransport_Validation(t *testing.T) {
	_, err := NewTransport(Config{Decoder: stubDecoder{}, ReissueURL: "http://x/reissue"})
	assert.Error(t, err, "store required")

	_, err = NewTransport(Config{Store: &fakeStore{}, ReissueURL: "http://x/reissue"})
	assert.Error(t, err, "decoder required")

	_, err = NewTransport(Config{Store: &fakeStore{}, Decoder: stubDecoder{}, ReissueURL: "/reissue"})
	assert.Error(t, err, "absolute reissue URL required")

	tr, err := NewTransport(Config{Store: &fakeStore{}, Decoder: stubDecoder{}, ReissueURL: "http://x/reissue"})
	require.NoError(t, err)
	assert.NotNil(t, tr.Jar())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "reissuing", StateReissuing.String())
	assert.Equal(t, "unknown", State(99).String())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
