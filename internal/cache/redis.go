// Package cache keeps snapshots of finished jobs in Redis so job lookups skip
// the store once a job can no longer change.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mtr002/compute-queue/internal/interfaces"
)

const keyPrefix = "job:"

// JobCache is a Redis-backed cache of terminal job snapshots
type JobCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New parses a redis:// URL and returns a cache using it
func New(rawURL string, ttl time.Duration) (*JobCache, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cache URL: %w", err)
	}
	return NewFromClient(redis.NewClient(opts), ttl), nil
}

func NewFromClient(client redis.UniversalClient, ttl time.Duration) *JobCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &JobCache{client: client, ttl: ttl}
}

func key(id string) string { return keyPrefix + id }

// Get returns the cached job, or false on a miss
func (c *JobCache) Get(ctx context.Context, id string) (*interfaces.Job, bool, error) {
	data, err := c.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var job interfaces.Job
	if err := json.Unmarshal(data, &job); err != nil {
		// corrupt entry, drop it
		c.client.Del(ctx, key(id))
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return &job, true, nil
}

// Set stores job if it is terminal. Jobs still in progress are never cached.
func (c *JobCache) Set(ctx context.Context, job *interfaces.Job) error {
	if job == nil || !job.Status.IsTerminal() {
		return nil
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, key(job.ID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

func (c *JobCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *JobCache) Close() error {
	return c.client.Close()
}
