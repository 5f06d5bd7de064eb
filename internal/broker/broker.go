// Package broker wraps the pub/sub systems used to fan notification events
// out across processes. Redis and NATS are supported, selected by URL scheme.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

var (
	// ErrUnsupportedScheme is returned by Open for URLs it cannot serve
	ErrUnsupportedScheme = errors.New("unsupported broker scheme")
	// ErrNotConnected is returned when the broker connection is down
	ErrNotConnected = errors.New("broker not connected")
)

// Handler receives the raw payload of every message on a subscribed channel
type Handler func(payload []byte)

// Subscription is an active channel subscription
type Subscription interface {
	Close() error
}

// Broker publishes to and subscribes on named channels
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open creates a broker for rawURL: redis://, rediss:// or nats://
func Open(rawURL string) (Broker, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid broker URL: %w", err)
	}

	switch u.Scheme {
	case "redis", "rediss":
		r, err := NewRedis(rawURL)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "nats", "tls":
		n, err := NewNATS(rawURL)
		if err != nil {
			return nil, err
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}
