// Package broadcast delivers notification events from job pipelines to the
// notification gateway.
//
// Events go to the pub/sub broker while its connection is healthy. When a
// publish fails the channel switches to the direct gateway connection and
// retries the broker in the background with linear backoff. After the retry
// budget is spent the broker path stays disabled until restart.
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mtr002/compute-queue/internal/broker"
	"github.com/mtr002/compute-queue/internal/events"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/metrics"
)

// Publisher emits notification events. Delivery failures are never returned.
type Publisher interface {
	Publish(ctx context.Context, e *events.Event)
}

// Sender writes an encoded event on a direct connection to the gateway
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// State of the broker path. Values match the broker_state gauge.
type State int32

const (
	StateDisabled State = iota
	StateReconnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disabled"
	}
}

const pingTimeout = 2 * time.Second

// Options configures the broker path of a Channel
type Options struct {
	Channel     string
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Channel is the producer-side Publisher
type Channel struct {
	broker broker.Broker
	direct Sender
	opts   Options

	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChannel creates a channel over an optional broker and an optional direct
// sender. A nil broker starts the channel in fallback-only mode.
func NewChannel(b broker.Broker, direct Sender, opts Options) *Channel {
	if opts.Channel == "" {
		opts.Channel = "job-updates"
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 10
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = opts.BaseDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		broker: b,
		direct: direct,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
	}
	c.setState(StateDisabled)
	return c
}

// Start probes the broker once. A reachable broker becomes the primary path;
// an unreachable one enters the reconnect loop.
func (c *Channel) Start(ctx context.Context) {
	if c.broker == nil {
		logger.Logger.Info().Msg("No broker configured, publishing directly to gateway")
		return
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := c.broker.Ping(pingCtx); err != nil {
		logger.Logger.Warn().Err(err).Msg("Broker unreachable at startup")
		c.setState(StateReconnecting)
		c.spawnReconnect()
		return
	}

	c.setState(StateConnected)
	logger.Logger.Info().Str("channel", c.opts.Channel).Msg("Publishing events through broker")
}

// State reports the current broker path state
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Publish delivers e through the broker when connected, otherwise through
// the direct gateway connection. Errors are logged and counted only.
func (c *Channel) Publish(ctx context.Context, e *events.Event) {
	payload, err := events.Encode(e)
	if err != nil {
		logger.Logger.Error().Err(err).Str("job_id", e.JobID).Msg("Dropping malformed event")
		metrics.BroadcastTotal.WithLabelValues("none", "invalid").Inc()
		return
	}

	if c.State() == StateConnected {
		err := c.broker.Publish(ctx, c.opts.Channel, payload)
		if err == nil {
			metrics.BroadcastTotal.WithLabelValues("broker", "ok").Inc()
			return
		}

		metrics.BroadcastTotal.WithLabelValues("broker", "error").Inc()
		logger.Logger.Warn().Err(err).Str("job_id", e.JobID).Str("type", string(e.Type)).
			Msg("Broker publish failed, falling back to direct connection")
		c.startReconnect()
	}

	c.sendDirect(ctx, e, payload)
}

func (c *Channel) sendDirect(ctx context.Context, e *events.Event, payload []byte) {
	if c.direct == nil {
		metrics.BroadcastTotal.WithLabelValues("direct", "unavailable").Inc()
		logger.Logger.Warn().Str("job_id", e.JobID).Str("type", string(e.Type)).Msg("No delivery path for event")
		return
	}

	if err := c.direct.Send(ctx, payload); err != nil {
		metrics.BroadcastTotal.WithLabelValues("direct", "error").Inc()
		logger.Logger.Warn().Err(err).Str("job_id", e.JobID).Str("type", string(e.Type)).Msg("Direct send failed")
		return
	}
	metrics.BroadcastTotal.WithLabelValues("direct", "ok").Inc()
}

// startReconnect moves connected -> reconnecting exactly once per outage
func (c *Channel) startReconnect() {
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateReconnecting)) {
		return
	}
	metrics.BrokerState.Set(float64(StateReconnecting))
	c.spawnReconnect()
}

func (c *Channel) spawnReconnect() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconnect()
	}()
}

func (c *Channel) reconnect() {
	attempt := 0
	err := retry.Do(c.ctx, c.backoff(), func(ctx context.Context) error {
		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		if err := c.broker.Ping(pingCtx); err != nil {
			logger.Logger.Debug().Err(err).Int("attempt", attempt).Msg("Broker reconnect attempt failed")
			return retry.RetryableError(err)
		}
		return nil
	})

	if err == nil {
		c.setState(StateConnected)
		logger.Logger.Info().Int("attempts", attempt).Msg("Broker connection restored")
		return
	}
	if c.ctx.Err() != nil {
		return
	}

	c.setState(StateDisabled)
	logger.Logger.Error().Err(err).Int("attempts", attempt).
		Msg("Broker reconnect attempts exhausted, using direct connection until restart")
}

// backoff waits BaseDelay, 2*BaseDelay, ... capped at MaxDelay, for at most
// MaxAttempts pings in total.
func (c *Channel) backoff() retry.Backoff {
	var n int64
	base := c.opts.BaseDelay
	linear := retry.BackoffFunc(func() (time.Duration, bool) {
		n++
		return time.Duration(n) * base, false
	})
	return retry.WithMaxRetries(c.opts.MaxAttempts-1, retry.WithCappedDuration(c.opts.MaxDelay, linear))
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
	metrics.BrokerState.Set(float64(s))
}

// Close stops any reconnect loop. The broker and sender are owned by the caller.
func (c *Channel) Close() {
	c.cancel()
	c.wg.Wait()
}
