// Package jwtclaims decodes identity claims from the backend's bearer tokens.
package jwtclaims

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/trendlens/internal/domain/model"
)

// Accepted claim names, in lookup order. The backend has shipped both the
// camelCase names and its older seq-prefixed column names.
var (
	usernameKeys        = []string{"username", "name"}
	roleKeys            = []string{"role", "auth", "roles"}
	emailKeys           = []string{"email"}
	profilePictureKeys  = []string{"profilePictureKey", "profilePic", "profilepic"}
	accountIDKeys       = []string{"accountId", "seqAccount"}
	accountDetailIDKeys = []string{"accountDetailId", "seqAccountDetail"}
)

// buildClaims maps raw token claims onto the explicit claims struct and
// validates that an identity is present.
func buildClaims(subject string, expiresAt time.Time, raw map[string]any) (model.Claims, error) {
	claims := model.Claims{
		Subject:           subject,
		Username:          lookupString(raw, usernameKeys),
		Role:              lookupString(raw, roleKeys),
		Email:             strings.ToLower(lookupString(raw, emailKeys)),
		ProfilePictureKey: lookupString(raw, profilePictureKeys),
		AccountID:         lookupInt(raw, accountIDKeys),
		AccountDetailID:   lookupInt(raw, accountDetailIDKeys),
		ExpiresAt:         expiresAt,
	}
	if err := claims.Validate(); err != nil {
		return model.Claims{}, newError(ErrCodeMissingClaims, err)
	}
	return claims, nil
}

func lookupString(raw map[string]any, keys []string) string {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if s := toString(v); s != "" {
			return s
		}
	}
	return ""
}

func lookupInt(raw map[string]any, keys []string) int64 {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if n, ok := toInt(v); ok {
			return n
		}
	}
	return 0
}

func toString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []string:
		return strings.Join(v, ",")
	case []any:
		parts := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	default:
		return ""
	}
}

func toInt(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), v > 0
	case int64:
		return v, v > 0
	case int:
		return int64(v), v > 0
	case json.Number:
		n, err := v.Int64()
		return n, err == nil && n > 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil && n > 0
	default:
		return 0, false
	}
}
