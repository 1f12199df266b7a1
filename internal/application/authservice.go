package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ericfisherdev/trendlens/internal/domain/model"
	"github.com/ericfisherdev/trendlens/internal/domain/port/driven"
)

// ErrMissingCredentials is returned by Login when the username or password is blank.
var ErrMissingCredentials = errors.New("username and password are required")

// AuthService orchestrates login, logout and signup against the backend and
// keeps the credential store in step with the outcome.
type AuthService struct {
	api     driven.AuthAPI
	decoder driven.TokenDecoder
	store   *CredentialStore
	logger  *slog.Logger
}

// NewAuthService creates a new AuthService with all required dependencies.
func NewAuthService(api driven.AuthAPI, decoder driven.TokenDecoder, store *CredentialStore, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		api:     api,
		decoder: decoder,
		store:   store,
		logger:  logger,
	}
}

// Login authenticates with the backend, decodes the issued token and stores
// the session. A token that cannot be decoded leaves the store logged out.
func (s *AuthService) Login(ctx context.Context, username, password string) (model.Session, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return model.Session{}, ErrMissingCredentials
	}

	token, err := s.api.Login(ctx, username, password)
	if err != nil {
		return model.Session{}, fmt.Errorf("login: %w", err)
	}

	claims, err := s.decoder.Decode(ctx, token)
	if err != nil {
		s.store.ClearSession(ctx)
		return model.Session{}, fmt.Errorf("decode login token: %w", err)
	}

	s.store.SetSession(ctx, token, claims)
	s.logger.Info("logged in", "user", claims.DisplayName(), "role", claims.Role)
	return s.store.Session(), nil
}

// Logout ends the server-side session on a best-effort basis and always
// clears the local session.
func (s *AuthService) Logout(ctx context.Context) error {
	err := s.api.Logout(ctx)
	s.store.ClearSession(ctx)
	if err != nil {
		s.logger.Warn("server logout failed, local session cleared", "error", err)
		return fmt.Errorf("logout: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// Signup registers a new account. It does not log in.
func (s *AuthService) Signup(ctx context.Context, req model.SignupRequest) error {
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return ErrMissingCredentials
	}
	if err := s.api.Signup(ctx, req); err != nil {
		return fmt.Errorf("signup: %w", err)
	}
	return nil
}

// Current returns the current session.
func (s *AuthService) Current() model.Session {
	return s.store.Session()
}
