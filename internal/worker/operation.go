package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/mtr002/compute-queue/internal/broadcast"
	"github.com/mtr002/compute-queue/internal/compute"
	"github.com/mtr002/compute-queue/internal/events"
	"github.com/mtr002/compute-queue/internal/interfaces"
	"github.com/mtr002/compute-queue/internal/jobs"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/metrics"
)

// recordTimeout bounds store writes made after the pipeline context is gone
const recordTimeout = 5 * time.Second

// OperationPipeline drives a single operation of a job to a terminal state
type OperationPipeline struct {
	manager   *jobs.Manager
	computer  compute.Computer
	publisher broadcast.Publisher
	delay     time.Duration
}

func NewOperationPipeline(manager *jobs.Manager, computer compute.Computer, publisher broadcast.Publisher, delay time.Duration) *OperationPipeline {
	return &OperationPipeline{
		manager:   manager,
		computer:  computer,
		publisher: publisher,
		delay:     delay,
	}
}

// Run marks op processing, waits the configured delay, computes the result
// and records it. Any error leaves the operation failed and is returned.
func (p *OperationPipeline) Run(ctx context.Context, jobID string, op interfaces.Operation, a, b float64) error {
	start := time.Now()
	defer func() {
		metrics.OperationDuration.WithLabelValues(string(op)).Observe(time.Since(start).Seconds())
	}()
	log := logger.WithOperation(jobID, string(op))

	if err := p.manager.StartOperation(ctx, jobID, op); err != nil {
		return p.fail(ctx, jobID, op, err)
	}
	log.Debug().Msg("Operation started")

	if err := sleep(ctx, p.delay); err != nil {
		return p.fail(ctx, jobID, op, fmt.Errorf("interrupted: %w", err))
	}

	res, err := p.computer.Compute(ctx, op, a, b)
	if err != nil {
		return p.fail(ctx, jobID, op, err)
	}

	if err := p.manager.CompleteOperation(ctx, jobID, op, res.Value); err != nil {
		return p.fail(ctx, jobID, op, err)
	}

	log.Info().
		Float64("result", res.Value).
		Str("provider", res.Provider).
		Int("tokens", res.TokensUsed).
		Float64("cost", res.Cost).
		Msg("Operation completed")

	p.publisher.Publish(ctx, events.OperationComplete(jobID, op, res.Value))
	return nil
}

func (p *OperationPipeline) fail(ctx context.Context, jobID string, op interfaces.Operation, cause error) error {
	log := logger.WithOperation(jobID, string(op))
	log.Warn().Err(cause).Msg("Operation failed")

	// record the failure even when ctx was cancelled
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := p.manager.FailOperation(recordCtx, jobID, op, cause.Error()); err != nil {
		log.Error().Err(err).Msg("Failed to record operation failure")
	}
	return fmt.Errorf("%s: %w", op, cause)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
