package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mtr002/compute-queue/internal/broadcast"
	"github.com/mtr002/compute-queue/internal/events"
	"github.com/mtr002/compute-queue/internal/interfaces"
	"github.com/mtr002/compute-queue/internal/jobs"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/metrics"
)

// errNotTerminal means an operation could not be driven to a terminal state
var errNotTerminal = errors.New("operations did not all reach a terminal state")

// JobPipeline runs the four operations of one job and finalizes it
type JobPipeline struct {
	manager    *jobs.Manager
	operations *OperationPipeline
	publisher  broadcast.Publisher
}

func NewJobPipeline(manager *jobs.Manager, operations *OperationPipeline, publisher broadcast.Publisher) *JobPipeline {
	return &JobPipeline{
		manager:    manager,
		operations: operations,
		publisher:  publisher,
	}
}

// Process claims the job, runs every operation concurrently and marks the job
// completed once all of them are terminal, whether they succeeded or not. Only
// store failures outside individual operations, or cancellation of ctx, fail
// the job.
func (p *JobPipeline) Process(ctx context.Context, jobID string) error {
	start := time.Now()
	log := logger.WithJobID(jobID)

	job, err := p.manager.GetJob(ctx, jobID)
	if err != nil {
		return p.fail(ctx, jobID, fmt.Errorf("failed to load job: %w", err))
	}

	claimed, err := p.manager.ClaimJob(ctx, jobID)
	if err != nil {
		return p.fail(ctx, jobID, err)
	}
	if !claimed {
		log.Debug().Msg("Job already claimed elsewhere, skipping")
		return nil
	}

	log.Info().Float64("a", job.NumberA).Float64("b", job.NumberB).Msg("Processing job")
	p.publisher.Publish(ctx, events.JobCreated(jobID))

	total := len(interfaces.Operations)
	var done atomic.Int32
	var g errgroup.Group

	a, b := job.NumberA, job.NumberB
	for _, op := range interfaces.Operations {
		g.Go(func() error {
			// operation errors are recorded on the result and never cancel siblings
			opErr := p.operations.Run(ctx, jobID, op, a, b)
			n := int(done.Add(1))
			p.publisher.Publish(ctx, events.JobProgress(jobID, n, total))
			return opErr
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn().Err(err).Msg("Job finished with failed operations")
	}
	if err := ctx.Err(); err != nil {
		return p.fail(ctx, jobID, fmt.Errorf("interrupted: %w", err))
	}

	final, err := p.manager.GetJob(ctx, jobID)
	if err != nil {
		return p.fail(ctx, jobID, fmt.Errorf("failed to reload job: %w", err))
	}
	if !final.AllTerminal() {
		return p.fail(ctx, jobID, errNotTerminal)
	}
	if err := p.manager.CompleteJob(ctx, jobID); err != nil {
		return p.fail(ctx, jobID, err)
	}

	final.Status = interfaces.StatusCompleted
	p.publisher.Publish(ctx, events.JobComplete(final))
	metrics.JobProcessingDuration.Observe(time.Since(start).Seconds())
	return nil
}

// fail marks the job failed and emits an error event. A job that no longer
// exists can only be reported.
func (p *JobPipeline) fail(ctx context.Context, jobID string, cause error) error {
	log := logger.WithJobID(jobID)
	log.Error().Err(cause).Msg("Job processing failed")

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if !errors.Is(cause, interfaces.ErrJobNotFound) {
		if err := p.manager.FailJob(recordCtx, jobID, cause.Error()); err != nil {
			log.Error().Err(err).Msg("Failed to mark job failed")
		}
	}
	p.publisher.Publish(recordCtx, events.Error(jobID, cause))
	return cause
}
