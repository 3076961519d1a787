package resultcache

import (
	"context"
	"strings"
	"time"

	"tonearm/internal/audio"
)

// Entry is a cached publish result.
type Entry struct {
	Location  string    `json:"location"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is no longer valid at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Cache is implemented by every backend.
type Cache interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key, location string, ttl time.Duration) error
}

// Key builds the deduplication key for a source and output format.
func Key(sourceID string, format audio.Format) string {
	return strings.TrimSpace(sourceID) + ":" + string(format)
}
