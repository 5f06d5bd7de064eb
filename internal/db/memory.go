package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mtr002/compute-queue/internal/interfaces"
)

// MemoryStore is a process-local JobStore. It backs the embedded single-process
// mode and the tests; it is not shared between processes.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*interfaces.Job
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*interfaces.Job)}
}

func (m *MemoryStore) CreateJob(_ context.Context, job *interfaces.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.jobs[job.ID]; exists {
		return fmt.Errorf("failed to create job: duplicate ID %s", job.ID)
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*interfaces.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job with ID %s: %w", id, interfaces.ErrJobNotFound)
	}
	return job.Clone(), nil
}

func (m *MemoryStore) ListJobs(_ context.Context, limit int) ([]*interfaces.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := m.sorted(func(*interfaces.Job) bool { return true })
	for i, j := 0, len(jobs)-1; i < j; i, j = i+1, j-1 {
		jobs[i], jobs[j] = jobs[j], jobs[i]
	}
	return truncate(jobs, limit), nil
}

func (m *MemoryStore) FindJobsByStatus(_ context.Context, status interfaces.JobStatus, limit int) ([]*interfaces.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := m.sorted(func(j *interfaces.Job) bool { return j.Status == status })
	return truncate(jobs, limit), nil
}

// sorted returns clones of the matching jobs, oldest first. Callers hold the lock.
func (m *MemoryStore) sorted(match func(*interfaces.Job) bool) []*interfaces.Job {
	var out []*interfaces.Job
	for _, job := range m.jobs {
		if match(job) {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func truncate(jobs []*interfaces.Job, limit int) []*interfaces.Job {
	if limit > 0 && len(jobs) > limit {
		return jobs[:limit]
	}
	return jobs
}

func (m *MemoryStore) UpdateJobStatus(_ context.Context, id string, status interfaces.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job with ID %s: %w", id, interfaces.ErrJobNotFound)
	}
	if job.Status == status {
		return nil
	}
	if !interfaces.CanTransition(job.Status, status) {
		return fmt.Errorf("job %s %s -> %s: %w", id, job.Status, status, interfaces.ErrInvalidTransition)
	}
	job.Status = status
	job.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) ClaimJob(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != interfaces.StatusPending {
		return false, nil
	}
	job.Status = interfaces.StatusProcessing
	job.UpdatedAt = time.Now()
	return true, nil
}

func (m *MemoryStore) UpdateOperationResult(_ context.Context, id string, op interfaces.Operation, result *float64, status interfaces.JobStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return fmt.Errorf("job with ID %s: %w", id, interfaces.ErrJobNotFound)
	}
	entry := job.Result(op)
	if entry == nil {
		return fmt.Errorf("job with ID %s operation %s: %w", id, op, interfaces.ErrJobNotFound)
	}

	entry.Status = status
	entry.Error = errMsg
	entry.Result = nil
	if result != nil {
		entry.Result = interfaces.NewNumber(*result)
	}
	job.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
