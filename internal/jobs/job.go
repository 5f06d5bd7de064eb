package jobs

import (
	"time"

	"github.com/google/uuid"

	"github.com/mtr002/compute-queue/internal/interfaces"
)

// NewJob builds a pending job with one pending result per operation kind
func NewJob(a, b float64) *interfaces.Job {
	now := time.Now()
	job := &interfaces.Job{
		ID:        uuid.New().String(),
		NumberA:   a,
		NumberB:   b,
		Status:    interfaces.StatusPending,
		Results:   make([]interfaces.OperationResult, 0, len(interfaces.Operations)),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, op := range interfaces.Operations {
		job.Results = append(job.Results, interfaces.OperationResult{
			Operation: op,
			Status:    interfaces.StatusPending,
		})
	}
	return job
}
