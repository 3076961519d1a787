package resultcache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process TTL cache. Entries vanish on restart.
type Memory struct {
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]Entry), now: time.Now}
}

// Lookup returns the live entry for key, evicting it when expired.
func (m *Memory) Lookup(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if entry.Expired(m.now()) {
		delete(m.entries, key)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Store records location under key. A non-positive ttl never expires.
func (m *Memory) Store(_ context.Context, key, location string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	entry := Entry{Location: location, StoredAt: now}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	m.entries[key] = entry
	return nil
}

// Len returns the number of stored entries, including expired ones not yet evicted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
