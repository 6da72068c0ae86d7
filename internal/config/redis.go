package config

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient creates a Redis client from a connection URL.
// Callers are responsible for pinging and closing the client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	// Keep pool sizing modest: history traffic is short list operations.
	opts.PoolSize = 10
	opts.MinIdleConns = 2

	return redis.NewClient(opts), nil
}
