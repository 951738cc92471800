package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenRepository is a TTL-bounded set of processed event ids. Each id is its
// own key so membership expires per entry.
type SeenRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewSeenRepository creates a SeenRepository storing keys under prefix.
func NewSeenRepository(client *redis.Client, prefix string, ttl time.Duration) *SeenRepository {
	return &SeenRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *SeenRepository) key(id string) string {
	return r.prefix + id
}

// Seen reports which of the given ids were marked within the TTL.
func (r *SeenRepository) Seen(ctx context.Context, eventIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(eventIDs) == 0 {
		return out, nil
	}
	keys := make([]string, len(eventIDs))
	for i, id := range eventIDs {
		keys[i] = r.key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to MGET seen keys: %w", err)
	}
	for i, v := range vals {
		if v != nil {
			out[eventIDs[i]] = true
		}
	}
	return out, nil
}

// MarkSeen records ids. Existing entries keep their original expiry.
func (r *SeenRepository) MarkSeen(ctx context.Context, eventIDs []string) error {
	if len(eventIDs) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, id := range eventIDs {
		pipe.SetNX(ctx, r.key(id), 1, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark events seen: %w", err)
	}
	return nil
}
