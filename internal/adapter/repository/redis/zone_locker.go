package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockRetry = 50 * time.Millisecond

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the lock's expiry only if it still holds our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ZoneLocker is a per-zone mutex shared across engine processes. A lock
// expires after ttl so a crashed holder cannot wedge a zone; a live holder
// keeps extending it every ttl/3 until it unlocks.
type ZoneLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *slog.Logger
}

// NewZoneLocker creates a ZoneLocker storing lock keys under prefix.
func NewZoneLocker(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *ZoneLocker {
	return &ZoneLocker{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		retry:  defaultLockRetry,
		logger: logger.With("component", "zone_locker"),
	}
}

// Lock blocks until zoneID is acquired or ctx is done.
func (l *ZoneLocker) Lock(ctx context.Context, zoneID string) (func(), error) {
	key := l.prefix + zoneID
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to acquire lock for zone %s: %w", zoneID, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, zoneID, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release must not depend on the caller's ctx, which may already be cancelled.
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil {
				l.logger.Warn("failed to release zone lock", "zone_id", zoneID, "error", err)
			}
		})
	}, nil
}

// keepAlive extends the lock until stop is closed. A lost lock is logged
// and no longer extended.
func (l *ZoneLocker) keepAlive(key, zoneID, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := l.ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			l.logger.Warn("failed to extend zone lock", "zone_id", zoneID, "error", err)
		case n == 0:
			l.logger.Error("zone lock lost before release", "zone_id", zoneID)
			return
		}
	}
}
