package redis

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// NewClient accepts either a host:port address or a redis:// URL.
func NewClient(addr string) (*redis.Client, error) {
	if !strings.Contains(addr, "://") {
		return redis.NewClient(&redis.Options{Addr: addr}), nil
	}
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
