package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a Broker backed by Redis PUBLISH/SUBSCRIBE
type Redis struct {
	client redis.UniversalClient
}

// NewRedis parses a redis:// URL and creates a client. The connection is
// established lazily; use Ping to check reachability.
func NewRedis(rawURL string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.MaxRetries = 1
	return &Redis{client: redis.NewClient(opts)}, nil
}

// NewRedisFromClient wraps an existing client
func NewRedisFromClient(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

// Client exposes the underlying client so other Redis users can share the pool
func (r *Redis) Client() redis.UniversalClient { return r.client }

func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	ps := r.client.Subscribe(ctx, channel)

	// Receive blocks until the subscription is confirmed or fails
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	ch := ps.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()

	return ps, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
