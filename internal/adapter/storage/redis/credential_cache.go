// Package redis backs the provider credential cache with a shared Redis
// instance so gateway replicas reuse one provider handshake between them.
package redis

import (
	"context"
	"fmt"
	"time"

	"pesabridge/config"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewClient dials Redis from the gateway configuration and verifies
// connectivity before returning the client.
func NewClient(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Addr(), err)
	}
	log.Info().Str("addr", cfg.Addr()).Int("db", cfg.DB).Msg("Redis credential cache connected")
	return client, nil
}

// CredentialCache implements ports.CredentialStore using Redis. Provider
// bearer tokens are shared here so replicas reuse one handshake instead of
// each fetching their own.
type CredentialCache struct {
	client *goredis.Client
	prefix string
}

// NewCredentialCache creates a new Redis-backed credential cache.
func NewCredentialCache(client *goredis.Client) *CredentialCache {
	return &CredentialCache{
		client: client,
		prefix: "credential:",
	}
}

// Get retrieves a cached token and its remaining lifetime.
// Returns "", 0, nil if the key does not exist.
func (c *CredentialCache) Get(ctx context.Context, key string) (string, time.Duration, error) {
	full := c.prefix + key

	pipe := c.client.Pipeline()
	getCmd := pipe.Get(ctx, full)
	ttlCmd := pipe.TTL(ctx, full)
	if _, err := pipe.Exec(ctx); err != nil {
		if err == goredis.Nil {
			return "", 0, nil
		}
		return "", 0, fmt.Errorf("redis credential get: %w", err)
	}

	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return "", 0, nil
	}
	return getCmd.Val(), ttl, nil
}

// Set stores a token with its remaining lifetime.
func (c *CredentialCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, token, ttl).Err(); err != nil {
		return fmt.Errorf("redis credential set: %w", err)
	}
	return nil
}
