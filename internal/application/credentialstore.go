// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/oauth2"

	"github.com/ericfisherdev/trendlens/internal/domain/model"
	"github.com/ericfisherdev/trendlens/internal/domain/port/driven"
)

// ErrNoSession is returned by CredentialStore.Token when no access token is held.
var ErrNoSession = errors.New("no active session")

// Compile-time check: the store is the token source used to decorate requests.
var _ oauth2.TokenSource = (*CredentialStore)(nil)

// CredentialStore is the single source of truth for the client session.
// Reads are lock-free against an immutable snapshot; writers are serialized
// so the durable mirror is written in the same order as memory.
//
// The mirror is best-effort: a failed mirror write is logged and never rolls
// back or blocks the in-memory update. mirror may be nil to run memory-only.
type CredentialStore struct {
	current atomic.Pointer[model.Session]
	writeMu sync.Mutex
	mirror  driven.SessionMirror
	logger  *slog.Logger
}

// NewCredentialStore creates a logged-out store backed by the given mirror.
func NewCredentialStore(mirror driven.SessionMirror, logger *slog.Logger) *CredentialStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &CredentialStore{mirror: mirror, logger: logger}
	s.current.Store(&model.Session{})
	return s
}

// Init restores the session from the durable mirror. It is meant to run once
// at process start; a missing or unreadable mirror leaves the store logged out.
func (s *CredentialStore) Init(ctx context.Context) {
	if s.mirror == nil {
		return
	}

	fields, err := s.mirror.Load(ctx)
	if err != nil {
		s.logger.Warn("session mirror unreadable, starting logged out", "error", err)
		return
	}

	restored, ok := model.SessionFromFields(fields)
	if !ok {
		s.logger.Debug("no mirrored session")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.current.Store(&restored)
	s.logger.Info("session restored from mirror", "user", username(restored))
}

// AccessToken returns the current access token, or "" when logged out.
func (s *CredentialStore) AccessToken() string {
	return s.current.Load().AccessToken
}

// Session returns a copy of the current session.
func (s *CredentialStore) Session() model.Session {
	cur := s.current.Load()
	out := model.Session{AccessToken: cur.AccessToken}
	if cur.Claims != nil {
		claims := *cur.Claims
		out.Claims = &claims
	}
	return out
}

// LoggedIn reports whether an access token is held.
func (s *CredentialStore) LoggedIn() bool {
	return s.current.Load().LoggedIn()
}

// Token implements oauth2.TokenSource. Expiry is taken from the decoded claims
// when known; the transport does not act on it and relies on 401 recovery.
func (s *CredentialStore) Token() (*oauth2.Token, error) {
	cur := s.current.Load()
	if cur.AccessToken == "" {
		return nil, ErrNoSession
	}
	tok := &oauth2.Token{AccessToken: cur.AccessToken, TokenType: "Bearer"}
	if cur.Claims != nil {
		tok.Expiry = cur.Claims.ExpiresAt
	}
	return tok, nil
}

// SetSession atomically replaces the token and claims, then mirrors every
// field. An empty token clears the session.
func (s *CredentialStore) SetSession(ctx context.Context, token string, claims model.Claims) {
	if token == "" {
		s.ClearSession(ctx)
		return
	}

	next := &model.Session{AccessToken: token, Claims: &claims}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.current.Store(next)
	s.writeMirror(ctx, next.Fields())
	s.logger.Debug("session set", "user", claims.DisplayName())
}

// ClearSession removes the token, claims and every mirrored field. It is safe
// to call when already logged out.
func (s *CredentialStore) ClearSession(ctx context.Context) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.current.Store(&model.Session{})
	s.writeMirror(ctx, model.Session{}.Fields())
	s.logger.Debug("session cleared")
}

// writeMirror puts non-empty fields and removes empty ones so no field of a
// previous session survives. Callers hold writeMu.
func (s *CredentialStore) writeMirror(ctx context.Context, fields map[string]string) {
	if s.mirror == nil {
		return
	}
	for _, key := range model.MirrorKeys {
		var err error
		if value := fields[key]; value != "" {
			err = s.mirror.Put(ctx, key, value)
		} else {
			err = s.mirror.Remove(ctx, key)
		}
		if err != nil {
			s.logger.Warn("session mirror write failed", "key", key, "error", err)
		}
	}
}

func username(s model.Session) string {
	if s.Claims == nil {
		return ""
	}
	return s.Claims.DisplayName()
}
