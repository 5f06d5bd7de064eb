package worker

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mtr002/compute-queue/internal/broadcast"
	"github.com/mtr002/compute-queue/internal/broker"
	"github.com/mtr002/compute-queue/internal/compute"
	"github.com/mtr002/compute-queue/internal/config"
	"github.com/mtr002/compute-queue/internal/jobs"
	"github.com/mtr002/compute-queue/internal/websocket"
)

// Runtime is a fully wired worker: computation delegate, broadcast channel,
// pipelines and dispatcher.
type Runtime struct {
	dispatcher *Dispatcher
	channel    *broadcast.Channel
	direct     *broadcast.Direct
}

// NewRuntime assembles a worker. b may be nil to run without a broker.
// fallback is the direct delivery path; when nil a WebSocket connection to
// cfg.Gateway.URL is used instead.
func NewRuntime(ctx context.Context, cfg *config.AppConfig, manager *jobs.Manager, b broker.Broker, fallback broadcast.Sender) (*Runtime, error) {
	computer, err := compute.New(ctx, compute.Options{
		Provider:         cfg.LLM.Provider,
		APIKey:           cfg.LLM.APIKey,
		Model:            cfg.LLM.Model,
		Timeout:          cfg.LLM.Timeout,
		PricePer1KTokens: cfg.LLM.PricePer1KTokens,
		RatePerSecond:    cfg.LLM.RatePerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create compute delegate: %w", err)
	}

	r := &Runtime{}
	if fallback == nil && cfg.Gateway.URL != "" {
		var header http.Header
		if cfg.Gateway.PublishToken != "" {
			header = http.Header{websocket.PublishTokenHeader: {cfg.Gateway.PublishToken}}
		}
		r.direct = broadcast.NewDirect(cfg.Gateway.URL, header, cfg.Gateway.ReconnectDelay)
		fallback = r.direct
	}

	r.channel = broadcast.NewChannel(b, fallback, broadcast.Options{
		Channel:     cfg.Broker.Channel,
		MaxAttempts: cfg.Broker.ReconnectMaxAttempts,
		BaseDelay:   cfg.Broker.ReconnectBaseDelay,
		MaxDelay:    cfg.Broker.ReconnectMaxDelay,
	})

	ops := NewOperationPipeline(manager, computer, r.channel, cfg.Worker.OperationDelay)
	pipeline := NewJobPipeline(manager, ops, r.channel)
	r.dispatcher = NewDispatcher(manager, pipeline, Config{
		PollInterval: cfg.Worker.PollInterval,
		BatchSize:    cfg.Worker.BatchSize,
	})
	return r, nil
}

// Start connects the delivery paths and begins polling
func (r *Runtime) Start(ctx context.Context) {
	if r.direct != nil {
		r.direct.Start()
	}
	r.channel.Start(ctx)
	r.dispatcher.Start()
}

func (r *Runtime) Running() bool {
	return r.dispatcher.Running()
}

// BrokerState reports the broadcast channel's broker path state
func (r *Runtime) BrokerState() broadcast.State {
	return r.channel.State()
}

// Stop drains running jobs until ctx expires, then tears down delivery
func (r *Runtime) Stop(ctx context.Context) {
	r.dispatcher.Stop(ctx)
	r.channel.Close()
	if r.direct != nil {
		r.direct.Close()
	}
}
