package jwtclaims

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHS256(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("server-only-secret"))
	require.NoError(t, err)
	return signed
}

func TestUnverifiedDecoder_MapsClaims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signHS256(t, jwt.MapClaims{
		"sub":              "user@example.com",
		"username":         "minji",
		"role":             "ROLE_USER",
		"email":            "Minji@Example.com",
		"profilePic":       "profile/minji.png",
		"seqAccount":       42,
		"seqAccountDetail": "7",
		"exp":              exp.Unix(),
	})

	claims, err := NewUnverifiedDecoder().Decode(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, "user@example.com", claims.Subject)
	assert.Equal(t, "minji", claims.Username)
	assert.Equal(t, "ROLE_USER", claims.Role)
	assert.Equal(t, "minji@example.com", claims.Email)
	assert.Equal(t, "profile/minji.png", claims.ProfilePictureKey)
	assert.Equal(t, int64(42), claims.AccountID)
	assert.Equal(t, int64(7), claims.AccountDetailID)
	assert.True(t, claims.ExpiresAt.Equal(exp))
}

func TestUnverifiedDecoder_CamelCaseNamesAndRoleList(t *testing.T) {
	token := signHS256(t, jwt.MapClaims{
		"name":              "jisoo",
		"roles":             []any{"ROLE_USER", "ROLE_SUBSCRIBER"},
		"profilePictureKey": "k",
		"accountId":         "12",
		"accountDetailId":   13,
	})

	claims, err := NewUnverifiedDecoder().Decode(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, "jisoo", claims.Username)
	assert.Equal(t, "ROLE_USER,ROLE_SUBSCRIBER", claims.Role)
	assert.Equal(t, int64(12), claims.AccountID)
	assert.Equal(t, int64(13), claims.AccountDetailID)
	assert.True(t, claims.ExpiresAt.IsZero())
}

func TestUnverifiedDecoder_Errors(t *testing.T) {
	tests := []struct {
		name  string
		token string
		code  ErrorCode
	}{
		{name: "empty", token: "  ", code: ErrCodeInvalidToken},
		{name: "not a jwt", token: "abc123", code: ErrCodeInvalidToken},
		{
			name:  "exp not a number",
			token: signHS256(t, jwt.MapClaims{"sub": "u", "exp": "tomorrow"}),
			code:  ErrCodeInvalidToken,
		},
		{
			name:  "no identity",
			token: signHS256(t, jwt.MapClaims{"role": "ROLE_USER"}),
			code:  ErrCodeMissingClaims,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewUnverifiedDecoder().Decode(context.Background(), tt.token)
			require.Error(t, err)

			var decErr *Error
			require.True(t, errors.As(err, &decErr), "expected *Error, got %T", err)
			assert.Equal(t, tt.code, decErr.Code)
		})
	}
}

// A freshly reissued token must decode even when the local clock runs ahead
// of the server's.
func TestUnverifiedDecoder_IgnoresLocalClock(t *testing.T) {
	exp := time.Now().Add(-2 * time.Minute).Truncate(time.Second)
	token := signHS256(t, jwt.MapClaims{"sub": "u", "username": "minji", "exp": exp.Unix()})

	claims, err := NewUnverifiedDecoder().Decode(context.Background(), token)

	require.NoError(t, err)
	assert.Equal(t, "minji", claims.Username)
	assert.True(t, claims.ExpiresAt.Equal(exp))
}
