package trendapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// ErrNoToken is returned by Login when a 2xx response carries no access token
// in either the Authorization header or the body.
var ErrNoToken = errors.New("login response carries no access token")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the backend, which after
// transport recovery means the session is gone.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// StatusCode returns the backend status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

const maxMessageLen = 300

var stripPolicy = bluemonday.StrictPolicy()

// newAPIError builds an APIError from an error body. Spring-style JSON bodies
// contribute their message or error field; anything else, typically an HTML
// error page from a proxy, is stripped of markup and truncated.
func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Message != "":
			return &APIError{StatusCode: status, Message: payload.Message}
		case payload.Error != "":
			return &APIError{StatusCode: status, Message: payload.Error}
		}
	}

	text := strings.Join(strings.Fields(stripPolicy.Sanitize(string(body))), " ")
	return &APIError{StatusCode: status, Message: truncate(text, maxMessageLen)}
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
