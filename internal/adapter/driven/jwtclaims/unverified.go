package jwtclaims

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ericfisherdev/trendlens/internal/domain/model"
	"github.com/ericfisherdev/trendlens/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.TokenDecoder = (*UnverifiedDecoder)(nil)

// UnverifiedDecoder reads claims without checking the signature or the
// expiry. The client holds no signing key and its clock is not trusted; the
// backend verifies every token it receives, so the claims here only drive
// display and account-scoped calls. exp is carried through as ExpiresAt.
type UnverifiedDecoder struct {
	parser *jwt.Parser
}

// NewUnverifiedDecoder creates an UnverifiedDecoder.
func NewUnverifiedDecoder() *UnverifiedDecoder {
	return &UnverifiedDecoder{
		parser: jwt.NewParser(jwt.WithJSONNumber()),
	}
}

// Decode parses the token payload and maps it onto model.Claims.
func (d *UnverifiedDecoder) Decode(_ context.Context, token string) (model.Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return model.Claims{}, newError(ErrCodeInvalidToken, errors.New("token is empty"))
	}

	raw := jwt.MapClaims{}
	if _, _, err := d.parser.ParseUnverified(token, raw); err != nil {
		return model.Claims{}, newError(ErrCodeInvalidToken, err)
	}

	var expiresAt time.Time
	exp, err := raw.GetExpirationTime()
	if err != nil {
		return model.Claims{}, newError(ErrCodeInvalidToken, fmt.Errorf("exp: %w", err))
	}
	if exp != nil {
		expiresAt = exp.Time
	}

	subject, err := raw.GetSubject()
	if err != nil {
		return model.Claims{}, newError(ErrCodeInvalidToken, fmt.Errorf("sub: %w", err))
	}

	return buildClaims(subject, expiresAt, raw)
}
