package jobs

import (
	"context"
	"fmt"

	"github.com/mtr002/compute-queue/internal/interfaces"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/metrics"
)

// Manager wraps the job store with logging and metrics
type Manager struct {
	store interfaces.JobStore
}

// NewManager creates a new job manager
func NewManager(store interfaces.JobStore) *Manager {
	return &Manager{store: store}
}

// SubmitJob creates a new pending job and persists it
func (m *Manager) SubmitJob(ctx context.Context, a, b float64) (*interfaces.Job, error) {
	job := NewJob(a, b)

	if err := m.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	metrics.JobsSubmittedTotal.Inc()
	log := logger.WithJobID(job.ID)
	log.Info().Float64("a", a).Float64("b", b).Msg("Job submitted successfully")
	return job, nil
}

// GetJob retrieves a job by ID
func (m *Manager) GetJob(ctx context.Context, id string) (*interfaces.Job, error) {
	return m.store.GetJob(ctx, id)
}

// ListJobs returns the most recent jobs
func (m *Manager) ListJobs(ctx context.Context, limit int) ([]*interfaces.Job, error) {
	return m.store.ListJobs(ctx, limit)
}

// PendingJobs returns up to limit jobs waiting to be processed
func (m *Manager) PendingJobs(ctx context.Context, limit int) ([]*interfaces.Job, error) {
	return m.store.FindJobsByStatus(ctx, interfaces.StatusPending, limit)
}

// ClaimJob marks a pending job as processing; false means someone else has it
func (m *Manager) ClaimJob(ctx context.Context, id string) (bool, error) {
	claimed, err := m.store.ClaimJob(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return claimed, nil
}

// StartOperation marks one operation as processing
func (m *Manager) StartOperation(ctx context.Context, id string, op interfaces.Operation) error {
	if err := m.store.UpdateOperationResult(ctx, id, op, nil, interfaces.StatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to start %s: %w", op, err)
	}
	return nil
}

// CompleteOperation records a successful operation result
func (m *Manager) CompleteOperation(ctx context.Context, id string, op interfaces.Operation, result float64) error {
	if err := m.store.UpdateOperationResult(ctx, id, op, &result, interfaces.StatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to complete %s: %w", op, err)
	}
	metrics.OperationsTotal.WithLabelValues(string(op), string(interfaces.StatusCompleted)).Inc()
	return nil
}

// FailOperation records a failed operation with its error message
func (m *Manager) FailOperation(ctx context.Context, id string, op interfaces.Operation, errMsg string) error {
	if err := m.store.UpdateOperationResult(ctx, id, op, nil, interfaces.StatusFailed, errMsg); err != nil {
		return fmt.Errorf("failed to mark %s failed: %w", op, err)
	}
	metrics.OperationsTotal.WithLabelValues(string(op), string(interfaces.StatusFailed)).Inc()
	return nil
}

// CompleteJob marks a job as completed
func (m *Manager) CompleteJob(ctx context.Context, id string) error {
	if err := m.store.UpdateJobStatus(ctx, id, interfaces.StatusCompleted); err != nil {
		return fmt.Errorf("failed to update job as completed: %w", err)
	}

	metrics.JobsCompletedTotal.Inc()
	log := logger.WithJobID(id)
	log.Info().Msg("Job completed")
	return nil
}

// FailJob marks a job as failed at job level
func (m *Manager) FailJob(ctx context.Context, id string, reason string) error {
	if err := m.store.UpdateJobStatus(ctx, id, interfaces.StatusFailed); err != nil {
		return fmt.Errorf("failed to update job as failed: %w", err)
	}

	metrics.JobsFailedTotal.Inc()
	log := logger.WithJobID(id)
	log.Warn().Str("reason", reason).Msg("Job failed")
	return nil
}

// Ping checks the underlying store
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}
