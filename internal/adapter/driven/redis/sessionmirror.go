// Package redis implements the durable session mirror as a single Redis hash.
// Field values are sealed with fieldcrypt, as in the SQLite mirror.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ericfisherdev/trendlens/internal/adapter/driven/fieldcrypt"
	"github.com/ericfisherdev/trendlens/internal/domain/port/driven"
)

// DefaultPrefix namespaces the session hash.
const DefaultPrefix = "trendlens"

// Compile-time interface satisfaction check.
var _ driven.SessionMirror = (*SessionMirror)(nil)

// Config configures the Redis connection.
type Config struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	PingTimeout time.Duration
	// Key is the 32-byte value sealing key. Without it the mirror is inert.
	Key []byte
}

func (c Config) withDefaults() Config {
	out := c
	if out.Prefix == "" {
		out.Prefix = DefaultPrefix
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// SessionMirror stores each session field under one field of the hash
// "<prefix>:session".
type SessionMirror struct {
	client goredis.UniversalClient
	key    string
	cipher *fieldcrypt.Cipher
}

// Open connects to Redis and validates connectivity via PING.
func Open(ctx context.Context, cfg Config) (*SessionMirror, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	m, err := NewSessionMirror(client, cfg.Prefix, cfg.Key)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return m, nil
}

// NewSessionMirror wraps an existing client. key must be 32 bytes, or nil to
// leave the mirror inert (every operation returns driven.ErrEncryptionKeyNotSet).
func NewSessionMirror(client goredis.UniversalClient, prefix string, key []byte) (*SessionMirror, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	m := &SessionMirror{client: client, key: prefix + ":session"}
	if key != nil {
		c, err := fieldcrypt.New(key)
		if err != nil {
			return nil, err
		}
		m.cipher = c
	}
	return m, nil
}

// Key returns the hash key holding the session.
func (m *SessionMirror) Key() string {
	return m.key
}

// Load returns every field of the session hash, opened. A missing hash yields
// an empty map. Fields sealed under another key are skipped.
func (m *SessionMirror) Load(ctx context.Context) (map[string]string, error) {
	if m.cipher == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}
	sealed, err := m.client.HGetAll(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("load session hash: %w", err)
	}

	fields := make(map[string]string, len(sealed))
	for k, v := range sealed {
		plain, err := m.cipher.Open(v)
		if err != nil {
			continue
		}
		fields[k] = plain
	}
	if len(fields) == 0 && len(sealed) > 0 {
		return nil, fmt.Errorf("open session hash: %d fields unreadable with the configured key", len(sealed))
	}
	return fields, nil
}

// Put seals and sets a single field.
func (m *SessionMirror) Put(ctx context.Context, key, value string) error {
	if m.cipher == nil {
		return driven.ErrEncryptionKeyNotSet
	}
	sealed, err := m.cipher.Seal(value)
	if err != nil {
		return err
	}
	if err := m.client.HSet(ctx, m.key, key, sealed).Err(); err != nil {
		return fmt.Errorf("put session field %q: %w", key, err)
	}
	return nil
}

// Remove deletes a single field.
func (m *SessionMirror) Remove(ctx context.Context, key string) error {
	if m.cipher == nil {
		return driven.ErrEncryptionKeyNotSet
	}
	if err := m.client.HDel(ctx, m.key, key).Err(); err != nil {
		return fmt.Errorf("remove session field %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (m *SessionMirror) Close() error {
	return m.client.Close()
}
