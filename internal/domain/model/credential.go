package model

import (
	"errors"
	"strconv"
	"time"
)

// ErrMissingIdentity is returned by Claims.Validate when neither a username
// nor a subject was decoded from the token.
var ErrMissingIdentity = errors.New("claims carry no username or subject")

// Claims holds the identity attributes decoded from an access token. Each
// field is independently optional: strings are empty and ids are zero when the
// token did not carry them.
type Claims struct {
	Subject           string
	Username          string
	Role              string
	Email             string
	ProfilePictureKey string
	AccountID         int64
	AccountDetailID   int64
	ExpiresAt         time.Time
}

// Validate checks that the claims identify a user.
func (c Claims) Validate() error {
	if c.Username == "" && c.Subject == "" {
		return ErrMissingIdentity
	}
	return nil
}

// DisplayName returns the username, falling back to the subject.
func (c Claims) DisplayName() string {
	if c.Username != "" {
		return c.Username
	}
	return c.Subject
}

// HasAccount reports whether the claims carry an account id usable for
// account-scoped API calls.
func (c Claims) HasAccount() bool {
	return c.AccountID > 0
}

// Session is the client-side authenticated session: the bearer access token
// and the claims decoded from it. An empty AccessToken means logged out.
type Session struct {
	AccessToken string
	Claims      *Claims
}

// LoggedIn reports whether the session holds an access token.
func (s Session) LoggedIn() bool {
	return s.AccessToken != ""
}

// Identity names the user the session belongs to, or "" when logged out.
// A reissued token for the same account keeps the same identity.
func (s Session) Identity() string {
	if !s.LoggedIn() {
		return ""
	}
	if s.Claims == nil {
		return "token:" + s.AccessToken
	}
	if s.Claims.HasAccount() {
		return "account:" + strconv.FormatInt(s.Claims.AccountID, 10)
	}
	return "user:" + s.Claims.DisplayName()
}

// Durable mirror keys. Each session field is mirrored under its own key so
// fields can be written and removed independently.
const (
	MirrorKeyAccessToken       = "accessToken"
	MirrorKeyUsername          = "username"
	MirrorKeyRole              = "role"
	MirrorKeyEmail             = "email"
	MirrorKeyProfilePictureKey = "profilePictureKey"
	MirrorKeyAccountID         = "accountId"
	MirrorKeyAccountDetailID   = "accountDetailId"
)

// MirrorKeys lists every mirrored key in write order. The access token comes
// last so a partially written mirror is never restored as logged in with
// claims from an older session.
var MirrorKeys = []string{
	MirrorKeyUsername,
	MirrorKeyRole,
	MirrorKeyEmail,
	MirrorKeyProfilePictureKey,
	MirrorKeyAccountID,
	MirrorKeyAccountDetailID,
	MirrorKeyAccessToken,
}

// Fields flattens the session into its mirror representation. Absent values
// map to the empty string.
func (s Session) Fields() map[string]string {
	fields := make(map[string]string, len(MirrorKeys))
	for _, key := range MirrorKeys {
		fields[key] = ""
	}
	fields[MirrorKeyAccessToken] = s.AccessToken
	if s.Claims == nil {
		return fields
	}

	c := s.Claims
	fields[MirrorKeyUsername] = c.DisplayName()
	fields[MirrorKeyRole] = c.Role
	fields[MirrorKeyEmail] = c.Email
	fields[MirrorKeyProfilePictureKey] = c.ProfilePictureKey
	if c.AccountID > 0 {
		fields[MirrorKeyAccountID] = strconv.FormatInt(c.AccountID, 10)
	}
	if c.AccountDetailID > 0 {
		fields[MirrorKeyAccountDetailID] = strconv.FormatInt(c.AccountDetailID, 10)
	}
	return fields
}

// SessionFromFields rebuilds a session from its mirror representation.
// It returns false when the mirror holds no access token. Malformed ids are
// treated as absent.
func SessionFromFields(fields map[string]string) (Session, bool) {
	token := fields[MirrorKeyAccessToken]
	if token == "" {
		return Session{}, false
	}

	claims := &Claims{
		Username:          fields[MirrorKeyUsername],
		Role:              fields[MirrorKeyRole],
		Email:             fields[MirrorKeyEmail],
		ProfilePictureKey: fields[MirrorKeyProfilePictureKey],
	}
	if v, err := strconv.ParseInt(fields[MirrorKeyAccountID], 10, 64); err == nil {
		claims.AccountID = v
	}
	if v, err := strconv.ParseInt(fields[MirrorKeyAccountDetailID], 10, 64); err == nil {
		claims.AccountDetailID = v
	}

	session := Session{AccessToken: token}
	if claims.Validate() == nil {
		session.Claims = claims
	}
	return session, true
}
