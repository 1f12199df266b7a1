package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/trendlens/internal/adapter/driven/authhttp"
	"github.com/ericfisherdev/trendlens/internal/adapter/driven/jwtclaims"
	redisadapter "github.com/ericfisherdev/trendlens/internal/adapter/driven/redis"
	sqliteadapter "github.com/ericfisherdev/trendlens/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/trendlens/internal/adapter/driven/trendapi"
	"github.com/ericfisherdev/trendlens/internal/application"
	"github.com/ericfisherdev/trendlens/internal/config"
	"github.com/ericfisherdev/trendlens/internal/domain/port/driven"
)

const clockSkew = 30 * time.Second

// app holds the wired dependencies shared by every command.
type app struct {
	ctx    context.Context
	cfg    *config.Config
	logger *slog.Logger
	stdout io.Writer

	store  *application.CredentialStore
	auth   *application.AuthService
	trends *trendapi.Client

	expired atomic.Bool
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, onExpired authhttp.ExpiryHandler) (*app, error) {
	a := &app{ctx: ctx, cfg: cfg, logger: logger, stdout: os.Stdout}

	// 1. Durable session mirror.
	mirror, err := a.openMirror(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 2. Credential store, restored from the mirror.
	a.store = application.NewCredentialStore(mirror, logger)
	a.store.Init(ctx)

	// 3. Token decoder.
	var decoder driven.TokenDecoder
	if cfg.JWKSURL != "" {
		decoder, err = jwtclaims.NewJWKSDecoder(ctx, jwtclaims.JWKSConfig{URL: cfg.JWKSURL, ClockSkew: clockSkew})
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("verifying access tokens against jwks", "url", cfg.JWKSURL)
	} else {
		decoder = jwtclaims.NewUnverifiedDecoder()
	}

	// 4. Authenticated transport and client. The response cache is scoped to
	// the session's identity.
	var cache httpcache.Cache
	if cfg.HTTPCache {
		cache = authhttp.NewSessionCache(func() string { return a.store.Session().Identity() })
	}
	transport, err := authhttp.NewTransport(authhttp.Config{
		Base:           authhttp.NewBaseTransport(cache),
		Store:          a.store,
		Decoder:        decoder,
		ReissueURL:     cfg.ReissueURL(),
		Coalesce:       cfg.CoalesceReissue,
		ReissueTimeout: cfg.RequestTimeout,
		OnExpired:      a.expiryHandler(onExpired),
		Logger:         logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.trends, err = trendapi.NewClient(transport.NewClient(cfg.RequestTimeout), cfg.APIBaseURL, trendapi.Paths{
		Login:  cfg.LoginPath,
		Logout: cfg.LogoutPath,
	}, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	// 5. Use cases.
	a.auth = application.NewAuthService(a.trends, decoder, a.store, logger)

	logger.Debug("client wired",
		"api_base_url", cfg.APIBaseURL,
		"reissue_url", cfg.ReissueURL(),
		"mirror", cfg.Mirror,
		"coalesce_reissue", cfg.CoalesceReissue,
		"http_cache", cfg.HTTPCache,
	)
	return a, nil
}

// expiryHandler records terminal expiry for one-shot commands and forwards
// it to next when set.
func (a *app) expiryHandler(next authhttp.ExpiryHandler) authhttp.ExpiryHandler {
	return func(ctx context.Context, cause error) {
		a.expired.Store(true)
		if next != nil {
			next(ctx, cause)
		}
	}
}

func (a *app) openMirror(ctx context.Context) (driven.SessionMirror, error) {
	var key []byte
	if a.cfg.HasSecretKey() {
		key = a.cfg.SecretKey
	} else if a.cfg.Mirror != config.MirrorNone {
		a.logger.Warn("TRENDLENS_SECRET_KEY not set, session will not survive restarts")
	}

	switch a.cfg.Mirror {
	case config.MirrorRedis:
		m, err := redisadapter.Open(ctx, redisadapter.Config{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			Prefix:   a.cfg.RedisPrefix,
			Key:      key,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, m.Close)
		a.logger.Info("session mirror opened", "backend", "redis", "key", m.Key())
		return m, nil

	case config.MirrorSQLite:
		// Open database (dual reader/writer with WAL mode) and run migrations.
		db, err := sqliteadapter.NewDB(ctx, a.cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)

		m, err := sqliteadapter.NewSessionMirror(db, key)
		if err != nil {
			return nil, err
		}
		a.logger.Info("session mirror opened", "backend", "sqlite", "path", db.Path(), "schema_version", db.SchemaVersion())
		return m, nil

	default:
		a.logger.Info("session mirror disabled")
		return nil, nil
	}
}

// Close releases the mirror backends in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("error closing resource", "error", err)
		}
	}
	a.closers = nil
}

// requireLogin fails one-shot commands that need a session.
func (a *app) requireLogin() error {
	if !a.store.LoggedIn() {
		return errors.New(`not logged in: run "trendlens login"`)
	}
	return nil
}

func (a *app) accountID() (int64, error) {
	if err := a.requireLogin(); err != nil {
		return 0, err
	}
	session := a.store.Session()
	if session.Claims == nil || !session.Claims.HasAccount() {
		return 0, errors.New("session carries no account id")
	}
	return session.Claims.AccountID, nil
}
