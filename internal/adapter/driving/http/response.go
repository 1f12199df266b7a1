package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/trendlens/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeLoginRedirect answers a call whose session is gone. Browsers follow
// Location; API consumers read redirect.
func writeLoginRedirect(w http.ResponseWriter, loginPath string) {
	w.Header().Set("Location", loginPath)
	writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "session expired", Redirect: loginPath})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error    string `json:"error"`
	Redirect string `json:"redirect,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Time     string `json:"time"`
	LoggedIn bool   `json:"logged_in"`
}

// SessionResponse is the JSON representation of the current session. The
// access token itself is never exposed.
type SessionResponse struct {
	LoggedIn          bool   `json:"logged_in"`
	Username          string `json:"username,omitempty"`
	Role              string `json:"role,omitempty"`
	Email             string `json:"email,omitempty"`
	ProfilePictureKey string `json:"profile_picture_key,omitempty"`
	AccountID         int64  `json:"account_id,omitempty"`
	ExpiresAt         string `json:"expires_at,omitempty"`
}

// LoginRequest is the JSON body for the login endpoint.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// PresignRequest is the JSON body for the profile picture upload endpoint.
type PresignRequest struct {
	Ext         string `json:"ext"`
	ContentType string `json:"contentType"`
}

// LikedResponse reports whether the account likes a keyword.
type LikedResponse struct {
	SeqKeyword int64 `json:"seq_keyword"`
	Liked      bool  `json:"liked"`
}

// MyPageResponse is the profile plus its resolved picture URL.
type MyPageResponse struct {
	model.MyPage
	ProfileImageURL string `json:"profileImageURL,omitempty"`
}

// NewSessionResponse converts a domain Session to its JSON representation.
func NewSessionResponse(s model.Session) SessionResponse {
	resp := SessionResponse{LoggedIn: s.LoggedIn()}
	if !resp.LoggedIn || s.Claims == nil {
		return resp
	}

	c := s.Claims
	resp.Username = c.DisplayName()
	resp.Role = c.Role
	resp.Email = c.Email
	resp.ProfilePictureKey = c.ProfilePictureKey
	resp.AccountID = c.AccountID
	if !c.ExpiresAt.IsZero() {
		resp.ExpiresAt = c.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}
