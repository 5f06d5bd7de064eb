package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS is a Broker backed by core NATS subjects
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to a NATS server. The client keeps retrying in the
// background when the server is unreachable at startup.
func NewNATS(url string) (*NATS, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	conn, err := nats.Connect(url,
		nats.Name("compute-queue"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATS{conn: conn}, nil
}

func (n *NATS) Publish(_ context.Context, subject string, payload []byte) error {
	// a disconnected client buffers silently; report it so callers can fall back
	if !n.conn.IsConnected() {
		return ErrNotConnected
	}
	if err := n.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

func (n *NATS) Subscribe(_ context.Context, subject string, handler Handler) (Subscription, error) {
	sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to NATS: %w", err)
	}
	return natsSubscription{sub}, nil
}

func (n *NATS) Ping(ctx context.Context) error {
	if !n.conn.IsConnected() {
		return ErrNotConnected
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("NATS flush: %w", err)
	}
	return nil
}

func (n *NATS) Close() error {
	if n.conn != nil {
		n.conn.Close()
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Close() error {
	return s.sub.Unsubscribe()
}
