package jwtclaims

import "fmt"

// ErrorCode represents decoder error categories.
type ErrorCode string

const (
	ErrCodeInvalidToken    ErrorCode = "invalid_token"
	ErrCodeExpired         ErrorCode = "token_expired"
	ErrCodeMissingClaims   ErrorCode = "missing_claims"
	ErrCodeJWKSUnavailable ErrorCode = "jwks_unavailable"
)

var errorMessages = map[ErrorCode]string{
	ErrCodeInvalidToken:    "Invalid token",
	ErrCodeExpired:         "Token expired",
	ErrCodeMissingClaims:   "Missing claims",
	ErrCodeJWKSUnavailable: "JWKS unavailable",
}

// Error wraps decoder errors with a stable code and message.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	base := e.Message
	if base == "" {
		base = string(e.Code)
	}
	if e.Err == nil {
		return base
	}
	return fmt.Sprintf("%s: %v", base, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, err error) error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = string(code)
	}
	return &Error{Code: code, Message: msg, Err: err}
}
