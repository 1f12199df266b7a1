// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"errors"
)

// ErrEncryptionKeyNotSet is returned by SessionMirror operations when
// TRENDLENS_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set TRENDLENS_SECRET_KEY")

// SessionMirror defines the driven port for the durable copy of the session.
// It is a flat key/value mirror: every session field lives under its own key
// and is written or removed on its own. The mirror is never authoritative; the
// in-memory credential store is.
type SessionMirror interface {
	// Load returns every mirrored field. Returns an empty map if nothing
	// has been mirrored yet.
	Load(ctx context.Context) (map[string]string, error)

	// Put stores or replaces a single field.
	Put(ctx context.Context, key, value string) error

	// Remove deletes a single field. Removing a missing field is not an error.
	Remove(ctx context.Context, key string) error
}
