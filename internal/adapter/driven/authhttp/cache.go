package authhttp

import (
	"sync"

	"github.com/gregjones/httpcache"
)

// Compile-time interface satisfaction check.
var _ httpcache.Cache = (*SessionCache)(nil)

// SessionCache is an in-memory httpcache.Cache owned by one session identity
// at a time. httpcache keys entries by URL alone, so every entry is dropped
// as soon as identity reports a different user, logged out included.
type SessionCache struct {
	identity func() string

	mu    sync.Mutex
	owner string
	inner *httpcache.MemoryCache
}

// NewSessionCache creates a SessionCache. identity is consulted on every
// cache access.
func NewSessionCache(identity func() string) *SessionCache {
	return &SessionCache{
		identity: identity,
		owner:    identity(),
		inner:    httpcache.NewMemoryCache(),
	}
}

// Get returns the cached response for key, if the current identity stored it.
func (c *SessionCache) Get(key string) ([]byte, bool) {
	return c.current().Get(key)
}

// Set stores a response for the current identity.
func (c *SessionCache) Set(key string, resp []byte) {
	c.current().Set(key, resp)
}

// Delete removes key.
func (c *SessionCache) Delete(key string) {
	c.current().Delete(key)
}

func (c *SessionCache) current() *httpcache.MemoryCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id := c.identity(); id != c.owner {
		c.owner = id
		c.inner = httpcache.NewMemoryCache()
	}
	return c.inner
}
