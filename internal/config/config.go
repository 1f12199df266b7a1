// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Mirror backends for the durable session copy.
const (
	MirrorSQLite = "sqlite"
	MirrorRedis  = "redis"
	MirrorNone   = "none"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	APIBaseURL      string
	ListenAddr      string
	DBPath          string
	SecretKey       []byte
	Mirror          string
	RedisAddr       string
	RedisPassword   string
	RedisPrefix     string
	RequestTimeout  time.Duration
	LoginPath       string
	ReissuePath     string
	LogoutPath      string
	JWKSURL         string
	CoalesceReissue bool
	HTTPCache       bool
	LogLevel        slog.Level
}

// HasSecretKey reports whether a mirror encryption key is configured.
func (c *Config) HasSecretKey() bool {
	return len(c.SecretKey) == 32
}

// ReissueURL returns the absolute URL of the token reissue endpoint.
func (c *Config) ReissueURL() string {
	base, err := url.Parse(c.APIBaseURL)
	if err != nil {
		return c.APIBaseURL + c.ReissuePath
	}
	return base.JoinPath(c.ReissuePath).String()
}

// Load reads configuration from environment variables and returns a validated Config.
// TRENDLENS_API_BASE_URL is required. Optional variables with defaults:
// TRENDLENS_LISTEN_ADDR (127.0.0.1:8080), TRENDLENS_DB_PATH (trendlens.db),
// TRENDLENS_MIRROR (sqlite), TRENDLENS_REQUEST_TIMEOUT (5s),
// TRENDLENS_REISSUE_PATH (/reissue), TRENDLENS_COALESCE_REISSUE (true),
// TRENDLENS_HTTP_CACHE (false), TRENDLENS_LOG_LEVEL (info).
// TRENDLENS_SECRET_KEY is optional; without it the SQLite mirror is inert and
// sessions live in memory only.
func Load() (*Config, error) {
	baseURL := strings.TrimSpace(os.Getenv("TRENDLENS_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("TRENDLENS_API_BASE_URL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("TRENDLENS_API_BASE_URL must be an absolute URL, got %q", baseURL)
	}

	cfg := &Config{
		APIBaseURL:    strings.TrimSuffix(baseURL, "/"),
		ListenAddr:    envOr("TRENDLENS_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:        envOr("TRENDLENS_DB_PATH", "trendlens.db"),
		Mirror:        strings.ToLower(envOr("TRENDLENS_MIRROR", MirrorSQLite)),
		RedisAddr:     os.Getenv("TRENDLENS_REDIS_ADDR"),
		RedisPassword: os.Getenv("TRENDLENS_REDIS_PASSWORD"),
		RedisPrefix:   envOr("TRENDLENS_REDIS_PREFIX", "trendlens"),
		LoginPath:     envOr("TRENDLENS_LOGIN_PATH", "/login"),
		ReissuePath:   envOr("TRENDLENS_REISSUE_PATH", "/reissue"),
		LogoutPath:    envOr("TRENDLENS_LOGOUT_PATH", "/logout"),
		JWKSURL:       os.Getenv("TRENDLENS_JWKS_URL"),
	}

	switch cfg.Mirror {
	case MirrorSQLite, MirrorNone:
	case MirrorRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("TRENDLENS_REDIS_ADDR is required when TRENDLENS_MIRROR=redis")
		}
	default:
		return nil, fmt.Errorf("TRENDLENS_MIRROR must be one of sqlite, redis, none, got %q", cfg.Mirror)
	}

	if v, ok := os.LookupEnv("TRENDLENS_SECRET_KEY"); ok && v != "" {
		key, err := hex.DecodeString(v)
		if err != nil || len(key) != 32 {
			return nil, errors.New("TRENDLENS_SECRET_KEY must be 64 hex characters (32 bytes)")
		}
		cfg.SecretKey = key
	}

	if cfg.RequestTimeout, err = durationEnv("TRENDLENS_REQUEST_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.CoalesceReissue, err = boolEnv("TRENDLENS_COALESCE_REISSUE", true); err != nil {
		return nil, err
	}
	if cfg.HTTPCache, err = boolEnv("TRENDLENS_HTTP_CACHE", false); err != nil {
		return nil, err
	}

	if v, ok := os.LookupEnv("TRENDLENS_LOG_LEVEL"); ok && v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return nil, fmt.Errorf("TRENDLENS_LOG_LEVEL has invalid level %q: %w", v, err)
		}
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return b, nil
}
