package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/digiheadway/goposter/internal/config"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "goposter:poster:"

// PosterCache is a shared query -> image URL cache in front of the database.
// A nil *PosterCache is valid and behaves as an always-miss cache.
type PosterCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects the cache, or returns nil when no address is configured.
func New(cfg config.RedisConfig) *PosterCache {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     strings.TrimSpace(cfg.Password),
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	return &PosterCache{client: client, ttl: cfg.CacheTTL()}
}

func (c *PosterCache) Enabled() bool {
	return c != nil && c.client != nil
}

func key(query string) string {
	return keyPrefix + query
}

// Get returns the cached image URL for a normalized query.
func (c *PosterCache) Get(ctx context.Context, query string) (string, bool, error) {
	if !c.Enabled() {
		return "", false, nil
	}
	val, err := c.client.Get(ctx, key(query)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, val != "", nil
}

// Set stores the image URL for a normalized query.
func (c *PosterCache) Set(ctx context.Context, query, imageURL string) error {
	if !c.Enabled() || imageURL == "" {
		return nil
	}
	return c.client.Set(ctx, key(query), imageURL, c.ttl).Err()
}

// Delete drops a cached entry, used when moderation changes the image.
func (c *PosterCache) Delete(ctx context.Context, query string) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Del(ctx, key(query)).Err()
}

func (c *PosterCache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

func (c *PosterCache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}
