package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/trendlens/internal/adapter/driven/fieldcrypt"
	"github.com/ericfisherdev/trendlens/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SessionMirror = (*SessionMirror)(nil)

// SessionMirror is the SQLite implementation of the SessionMirror port.
// Each session field is one row; values are sealed with fieldcrypt before
// write and opened after read.
type SessionMirror struct {
	db     *DB
	cipher *fieldcrypt.Cipher // nil when no key is configured.
}

// NewSessionMirror creates a new SessionMirror. key must be 32 bytes for
// AES-256-GCM, or nil to disable the mirror (all operations will return
// driven.ErrEncryptionKeyNotSet).
func NewSessionMirror(db *DB, key []byte) (*SessionMirror, error) {
	m := &SessionMirror{db: db}
	if key != nil {
		c, err := fieldcrypt.New(key)
		if err != nil {
			return nil, err
		}
		m.cipher = c
	}
	return m, nil
}

// Load returns every mirrored field with decrypted values. A row that fails to
// decrypt, for example after a key rotation, is skipped.
func (m *SessionMirror) Load(ctx context.Context) (map[string]string, error) {
	if m.cipher == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	const query = `SELECT key, value FROM session_mirror`
	rows, err := m.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load session mirror: %w", err)
	}
	defer rows.Close()

	fields := make(map[string]string)
	var undecryptable int
	for rows.Next() {
		var key, encrypted string
		if err := rows.Scan(&key, &encrypted); err != nil {
			return nil, fmt.Errorf("scan session field: %w", err)
		}
		plaintext, err := m.cipher.Open(encrypted)
		if err != nil {
			undecryptable++
			continue
		}
		fields[key] = plaintext
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session mirror: %w", err)
	}

	if undecryptable > 0 && len(fields) == 0 {
		return nil, fmt.Errorf("decrypt session mirror: %d fields unreadable with the configured key", undecryptable)
	}
	return fields, nil
}

// Put stores or replaces a single field.
func (m *SessionMirror) Put(ctx context.Context, key, value string) error {
	if m.cipher == nil {
		return driven.ErrEncryptionKeyNotSet
	}
	encrypted, err := m.cipher.Seal(value)
	if err != nil {
		return err
	}

	const query = `INSERT INTO session_mirror (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := m.db.Writer.ExecContext(ctx, query, key, encrypted); err != nil {
		return fmt.Errorf("put session field %q: %w", key, err)
	}
	return nil
}

// Remove deletes a single field. Removing an absent field is not an error.
func (m *SessionMirror) Remove(ctx context.Context, key string) error {
	if m.cipher == nil {
		return driven.ErrEncryptionKeyNotSet
	}

	const query = `DELETE FROM session_mirror WHERE key = ?`
	if _, err := m.db.Writer.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("remove session field %q: %w", key, err)
	}
	return nil
}
