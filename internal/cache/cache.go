// Package cache is the read-through layer in front of the store. Services
// consult it before hitting the database and invalidate matching key prefixes
// before returning from any mutation, so a read that follows a mutation's
// response can never observe the pre-mutation value.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// Cache stores serialized views keyed by the builders in keys.go. Implementations
// must be safe for concurrent use. Errors are advisory: callers fall through to
// the store on any cache failure.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// DeletePattern removes every key matching pattern. Patterns use a single
	// trailing "*" wildcard; a pattern without one matches exactly.
	DeletePattern(ctx context.Context, pattern string) error
	Stats() Stats
}

// Stats is a point-in-time snapshot of cache effectiveness counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache. Expired entries are dropped lazily on
// read and swept in bulk whenever the map grows past its high-water mark.
type Memory struct {
	mu        sync.Mutex
	entries   map[string]entry
	hits      uint64
	misses    uint64
	evictions uint64
	sweepAt   int
	now       func() time.Time
}

// NewMemory returns an empty cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		sweepAt: 1024,
		now:     time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		m.misses++
		return nil, false, nil
	}
	if m.now().After(e.expiresAt) {
		delete(m.entries, key)
		m.evictions++
		m.misses++
		return nil, false, nil
	}
	m.hits++
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= m.sweepAt {
		m.sweepLocked()
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.entries[key] = entry{value: v, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) DeletePattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		for key := range m.entries {
			if strings.HasPrefix(key, prefix) {
				delete(m.entries, key)
			}
		}
		return nil
	}
	delete(m.entries, pattern)
	return nil
}

func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Hits:      m.hits,
		Misses:    m.misses,
		Evictions: m.evictions,
		Entries:   len(m.entries),
	}
}

func (m *Memory) sweepLocked() {
	now := m.now()
	for key, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, key)
			m.evictions++
		}
	}
	if len(m.entries)*2 > m.sweepAt {
		m.sweepAt = len(m.entries) * 2
	}
}

// GetJSON reads key and decodes it into dst. A decode failure counts as a
// miss; the stale entry is dropped.
func GetJSON(ctx context.Context, c Cache, key string, dst any) bool {
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON encodes v and stores it under key. Encoding or store failures are
// swallowed: the next read simply misses.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.Set(ctx, key, raw, ttl)
}
