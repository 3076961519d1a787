package resultcache

import (
	"context"
	"log/slog"
	"time"

	"tonearm/internal/logging"
)

// Advisory wraps a backend so that its failures never fail a job.
type Advisory struct {
	backend Cache
	logger  *slog.Logger
}

// NewAdvisory wraps backend. A nil backend behaves as an always-empty cache.
func NewAdvisory(backend Cache, logger *slog.Logger) *Advisory {
	return &Advisory{backend: backend, logger: logging.NewComponentLogger(logger, "resultcache")}
}

// Lookup reports a miss on any backend error.
func (a *Advisory) Lookup(ctx context.Context, key string) (Entry, bool) {
	if a == nil || a.backend == nil {
		return Entry{}, false
	}
	entry, ok, err := a.backend.Lookup(ctx, key)
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, a.logger), "result cache lookup failed", "cache_lookup_failed",
			logging.String("cache_key", key),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check cache backend connectivity"),
			logging.String(logging.FieldImpact, "job runs the full pipeline"),
		)
		return Entry{}, false
	}
	return entry, ok
}

// Store logs backend errors instead of returning them.
func (a *Advisory) Store(ctx context.Context, key, location string, ttl time.Duration) {
	if a == nil || a.backend == nil {
		return
	}
	if err := a.backend.Store(ctx, key, location, ttl); err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, a.logger), "result cache store failed", "cache_store_failed",
			logging.String("cache_key", key),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check cache backend connectivity"),
			logging.String(logging.FieldImpact, "later submissions will not be deduplicated"),
		)
	}
}
