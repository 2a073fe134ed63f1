// Package ctxcache holds short-lived replay state for deep links.
package ctxcache

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/transport"
)

const DefaultTTL = 600 * time.Second

// Entry is the cached content of one relayed message.
type Entry struct {
	Text      string
	MediaKind transport.MediaKind
	MediaRef  string
	CreatedAt time.Time
}

// Cache maps context ids to entries. Entries older than the TTL are never
// returned, whether or not a sweep has run.
type Cache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{ttl: ttl, now: time.Now, entries: map[string]Entry{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewID mints a fresh opaque context id.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Put stores e stamped with the current time, overwriting any previous entry.
func (c *Cache) Put(id string, e Entry) {
	e.CreatedAt = c.now()
	c.mu.Lock()
	c.entries[id] = e
	c.mu.Unlock()
}

func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookupLocked(id)
}

// TakeAndRemove returns the entry if still valid and always evicts it.
func (c *Cache) TakeAndRemove(id string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(id)
	delete(c.entries, id)
	return e, ok
}

// AttachMedia sets the media reference of a live entry, keeping its other
// fields. It reports false when the entry is absent or expired.
func (c *Cache) AttachMedia(id string, kind transport.MediaKind, ref string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lookupLocked(id)
	if !ok {
		return false
	}
	e.MediaKind = kind
	e.MediaRef = ref
	c.entries[id] = e
	return true
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for id, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.ttl {
			delete(c.entries, id)
			n++
		}
	}
	return n
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) lookupLocked(id string) (Entry, bool) {
	e, ok := c.entries[id]
	if !ok {
		return Entry{}, false
	}
	if c.now().Sub(e.CreatedAt) > c.ttl {
		delete(c.entries, id)
		return Entry{}, false
	}
	return e, true
}
