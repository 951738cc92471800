package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/V4T54L/argos/internal/adapter/metrics"
)

type cacheEntry struct {
	collector string
	ok        bool
	expiresAt time.Time
}

// CollectorKeyRepository implements domain.CollectorKeyRepository using
// PostgreSQL as the source of truth and an in-memory, time-based cache.
// Negative lookups are cached too, so a flood of bad keys costs one query
// per key per TTL.
type CollectorKeyRepository struct {
	db       *sql.DB
	logger   *slog.Logger
	cache    map[string]cacheEntry
	mu       sync.RWMutex
	cacheTTL time.Duration
	metrics  *metrics.IngestMetrics
	now      func() time.Time
}

// NewCollectorKeyRepository creates a new PostgreSQL collector key repository.
func NewCollectorKeyRepository(db *sql.DB, logger *slog.Logger, cacheTTL time.Duration, m *metrics.IngestMetrics) *CollectorKeyRepository {
	return &CollectorKeyRepository{
		db:       db,
		logger:   logger.With("component", "collector_keys"),
		cache:    make(map[string]cacheEntry),
		cacheTTL: cacheTTL,
		metrics:  m,
		now:      time.Now,
	}
}

const collectorKeyQuery = `SELECT collector FROM collector_keys
	WHERE key = $1 AND is_active = true AND (expires_at IS NULL OR expires_at > NOW())`

// Lookup returns the collector bound to key. It checks the cache first and
// falls back to the database when the entry is missing or expired.
func (r *CollectorKeyRepository) Lookup(ctx context.Context, key string) (string, bool, error) {
	r.mu.RLock()
	entry, found := r.cache[key]
	r.mu.RUnlock()

	if found && r.now().Before(entry.expiresAt) {
		if r.metrics != nil {
			r.metrics.CollectorKeyCacheHits.Inc()
		}
		return entry.collector, entry.ok, nil
	}

	if r.metrics != nil {
		r.metrics.CollectorKeyCacheMisses.Inc()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have populated it while we waited for the lock.
	entry, found = r.cache[key]
	if found && r.now().Before(entry.expiresAt) {
		return entry.collector, entry.ok, nil
	}

	var collector string
	err := r.db.QueryRowContext(ctx, collectorKeyQuery, key).Scan(&collector)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		entry = cacheEntry{}
	case err != nil:
		r.logger.Error("failed to validate collector key in database", "error", err)
		// Errors are not cached; the next request retries the database.
		return "", false, err
	default:
		entry = cacheEntry{collector: collector, ok: true}
	}

	entry.expiresAt = r.now().Add(r.cacheTTL)
	r.cache[key] = entry
	r.evictExpired()
	return entry.collector, entry.ok, nil
}

// evictExpired drops stale entries once the cache grows. Callers hold mu.
func (r *CollectorKeyRepository) evictExpired() {
	if len(r.cache) < 1024 {
		return
	}
	now := r.now()
	for k, e := range r.cache {
		if !now.Before(e.expiresAt) {
			delete(r.cache, k)
		}
	}
}
