package interfaces

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrJobNotFound is returned when no job matches the requested ID
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidTransition is returned when a status update would reverse the job lifecycle
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// JobStatus represents the current state of a job or of one of its operations
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transition can happen from s
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// pending -> processing -> {completed, failed}; pending -> failed covers jobs
// that fail before they could be claimed.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Predecessors returns the statuses a job may be in before moving to status
func Predecessors(to JobStatus) []JobStatus {
	var out []JobStatus
	for _, from := range []JobStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Operation is one of the four arithmetic operations applied to a job's operands
type Operation string

const (
	OperationAdd      Operation = "add"
	OperationSubtract Operation = "subtract"
	OperationMultiply Operation = "multiply"
	OperationDivide   Operation = "divide"
)

// Operations lists every operation kind in insertion order
var Operations = []Operation{OperationAdd, OperationSubtract, OperationMultiply, OperationDivide}

// Valid reports whether op is one of the known operation kinds
func (op Operation) Valid() bool {
	for _, known := range Operations {
		if op == known {
			return true
		}
	}
	return false
}

// OperationResult is the outcome of one operation within a job
type OperationResult struct {
	Operation Operation `json:"operation"`
	Status    JobStatus `json:"status"`
	Result    *Number   `json:"result"`
	Error     string    `json:"error,omitempty"`
}

// Job represents one compute request
type Job struct {
	ID        string            `json:"id"`
	NumberA   float64           `json:"numberA"`
	NumberB   float64           `json:"numberB"`
	Status    JobStatus         `json:"status"`
	Results   []OperationResult `json:"results"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// String returns a string representation of the job
func (j *Job) String() string {
	return fmt.Sprintf("Job{ID: %s, A: %g, B: %g, Status: %s}", j.ID, j.NumberA, j.NumberB, j.Status)
}

// Clone returns a deep copy of the job
func (j *Job) Clone() *Job {
	c := *j
	c.Results = make([]OperationResult, len(j.Results))
	for i, r := range j.Results {
		c.Results[i] = r
		if r.Result != nil {
			v := *r.Result
			c.Results[i].Result = &v
		}
	}
	return &c
}

// Result returns the entry for op, or nil if the job has none
func (j *Job) Result(op Operation) *OperationResult {
	for i := range j.Results {
		if j.Results[i].Operation == op {
			return &j.Results[i]
		}
	}
	return nil
}

// AllTerminal reports whether every operation has completed or failed
func (j *Job) AllTerminal() bool {
	for _, r := range j.Results {
		if !r.Status.IsTerminal() {
			return false
		}
	}
	return len(j.Results) > 0
}

// JobStore interface defines the persistence operations needed by the manager and pipelines
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	FindJobsByStatus(ctx context.Context, status JobStatus, limit int) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id string, status JobStatus) error
	// ClaimJob atomically moves a pending job to processing and reports whether this caller won
	ClaimJob(ctx context.Context, id string) (bool, error)
	UpdateOperationResult(ctx context.Context, id string, op Operation, result *float64, status JobStatus, errMsg string) error
	Ping(ctx context.Context) error
}
