package pkg

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cyberlab-edu/assessment-service/internal/config"
)

// NewRedisClient connects to Redis. Callers treat Redis as optional and only
// call this when a URL is configured.
func NewRedisClient(cfg *config.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		// Fall back to treating the value as a plain host:port address.
		opts = &redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
		}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}
