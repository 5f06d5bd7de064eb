package worker

import (
	"context"
	"sync"
	"time"

	"github.com/mtr002/compute-queue/internal/interfaces"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/metrics"
)

// JobRunner processes one job to completion
type JobRunner interface {
	Process(ctx context.Context, jobID string) error
}

// PendingSource lists jobs waiting to be processed
type PendingSource interface {
	PendingJobs(ctx context.Context, limit int) ([]*interfaces.Job, error)
}

// Config tunes the dispatcher
type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

// Dispatcher polls the store for pending jobs and starts a pipeline for each
// one not already running in this process. The poll loop never waits for
// pipelines to finish.
type Dispatcher struct {
	source   PendingSource
	runner   JobRunner
	inflight *InFlight
	cfg      Config

	// pollCtx stops the loop; runCtx stops running pipelines
	pollCtx    context.Context
	stopPoll   context.CancelFunc
	runCtx     context.Context
	stopRuns   context.CancelFunc
	loopWG     sync.WaitGroup
	pipelineWG sync.WaitGroup

	mu      sync.Mutex
	running bool
}

func NewDispatcher(source PendingSource, runner JobRunner, cfg Config) *Dispatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}

	pollCtx, stopPoll := context.WithCancel(context.Background())
	runCtx, stopRuns := context.WithCancel(context.Background())
	return &Dispatcher{
		source:   source,
		runner:   runner,
		inflight: NewInFlight(),
		cfg:      cfg,
		pollCtx:  pollCtx,
		stopPoll: stopPoll,
		runCtx:   runCtx,
		stopRuns: stopRuns,
	}
}

// Start begins polling. The first poll happens immediately.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	logger.Logger.Info().
		Dur("poll_interval", d.cfg.PollInterval).
		Int("batch_size", d.cfg.BatchSize).
		Msg("Starting dispatcher")

	d.loopWG.Add(1)
	go d.loop()
}

// Running reports whether the poll loop is active
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) loop() {
	defer d.loopWG.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.Poll(d.pollCtx)
	for {
		select {
		case <-d.pollCtx.Done():
			logger.Logger.Info().Msg("Dispatcher loop shutting down")
			return
		case <-ticker.C:
			d.Poll(d.pollCtx)
		}
	}
}

// Poll runs one tick: fetch up to BatchSize pending jobs and dispatch each.
// A failed query is logged and the tick is skipped.
func (d *Dispatcher) Poll(ctx context.Context) {
	pending, err := d.source.PendingJobs(ctx, d.cfg.BatchSize)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.PollErrorsTotal.Inc()
		logger.Logger.Error().Err(err).Msg("Error finding pending jobs")
		return
	}

	metrics.PendingJobsFound.Add(float64(len(pending)))
	for _, job := range pending {
		d.Dispatch(job.ID)
	}
}

// Dispatch starts a pipeline for jobID in the background. It returns false
// without doing anything when the job is already in flight here.
func (d *Dispatcher) Dispatch(jobID string) bool {
	if !d.inflight.Acquire(jobID) {
		logger.Logger.Debug().Str("job_id", jobID).Msg("Job already in flight, skipping")
		return false
	}
	metrics.InFlightJobs.Inc()

	d.pipelineWG.Add(1)
	go func() {
		defer d.pipelineWG.Done()
		defer func() {
			d.inflight.Release(jobID)
			metrics.InFlightJobs.Dec()
		}()

		if err := d.runner.Process(d.runCtx, jobID); err != nil {
			logger.Logger.Error().Str("job_id", jobID).Err(err).Msg("Job pipeline failed")
		}
	}()
	return true
}

// InFlight returns the number of pipelines currently running
func (d *Dispatcher) InFlight() int {
	return d.inflight.Len()
}

// Stop halts polling and waits for running pipelines until ctx expires, after
// which they are cancelled and awaited.
func (d *Dispatcher) Stop(ctx context.Context) {
	logger.Logger.Info().Int("in_flight", d.inflight.Len()).Msg("Stopping dispatcher")
	d.stopPoll()
	d.loopWG.Wait()

	drained := make(chan struct{})
	go func() {
		d.pipelineWG.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		logger.Logger.Warn().Msg("Shutdown deadline reached, cancelling running jobs")
		d.stopRuns()
		<-drained
	}
	d.stopRuns()

	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	logger.Logger.Info().Msg("Dispatcher stopped")
}
