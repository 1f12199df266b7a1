package jwtclaims

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/ericfisherdev/trendlens/internal/domain/model"
	"github.com/ericfisherdev/trendlens/internal/domain/port/driven"
)

const (
	defaultClockSkew   = 30 * time.Second
	defaultMinRefresh  = 5 * time.Minute
	defaultHTTPTimeout = 5 * time.Second
)

// Compile-time interface satisfaction check.
var _ driven.TokenDecoder = (*JWKSDecoder)(nil)

// JWKSConfig configures signature verification against a published key set.
type JWKSConfig struct {
	URL         string
	Issuer      string
	ClockSkew   time.Duration
	MinRefresh  time.Duration
	HTTPTimeout time.Duration
}

func (c *JWKSConfig) normalize() {
	if c.ClockSkew <= 0 {
		c.ClockSkew = defaultClockSkew
	}
	if c.MinRefresh <= 0 {
		c.MinRefresh = defaultMinRefresh
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
}

// JWKSDecoder verifies the token signature with keys fetched from a JWKS
// endpoint before mapping its claims.
type JWKSDecoder struct {
	cfg   JWKSConfig
	cache *jwk.Cache
}

// NewJWKSDecoder registers the JWKS URL with a refreshing key cache. The
// cache lives as long as ctx.
func NewJWKSDecoder(ctx context.Context, cfg JWKSConfig) (*JWKSDecoder, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("jwks url is required")
	}
	cfg.normalize()

	cache := jwk.NewCache(ctx)
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
		},
	}
	if err := cache.Register(
		cfg.URL,
		jwk.WithMinRefreshInterval(cfg.MinRefresh),
		jwk.WithHTTPClient(httpClient),
	); err != nil {
		return nil, fmt.Errorf("register jwks %q: %w", cfg.URL, err)
	}

	return &JWKSDecoder{cfg: cfg, cache: cache}, nil
}

// Decode verifies and validates the token, then maps its claims.
func (d *JWKSDecoder) Decode(ctx context.Context, token string) (model.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Claims{}, newError(ErrCodeInvalidToken, errors.New("token is empty"))
	}

	keySet, err := d.cache.Get(ctx, d.cfg.URL)
	if err != nil {
		return model.Claims{}, newError(ErrCodeJWKSUnavailable, err)
	}

	parsed, err := jwt.Parse([]byte(token), jwt.WithKeySet(keySet))
	if err != nil {
		return model.Claims{}, classify(err)
	}

	validateOpts := []jwt.ValidateOption{
		jwt.WithAcceptableSkew(d.cfg.ClockSkew),
	}
	if d.cfg.Issuer != "" {
		validateOpts = append(validateOpts, jwt.WithIssuer(d.cfg.Issuer))
	}
	if err := jwt.Validate(parsed, validateOpts...); err != nil {
		return model.Claims{}, classify(err)
	}

	private := parsed.PrivateClaims()
	raw := make(map[string]any, len(private)+1)
	for k, v := range private {
		raw[k] = v
	}
	if email, ok := parsed.Get("email"); ok {
		raw["email"] = email
	}
	return buildClaims(parsed.Subject(), parsed.Expiration(), raw)
}

func classify(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired()) || strings.Contains(strings.ToLower(err.Error()), `"exp" not satisfied`) {
		return newError(ErrCodeExpired, err)
	}
	return newError(ErrCodeInvalidToken, err)
}
