// Package events defines the notification messages streamed to live clients.
//
// Every event carries a "type" discriminator and the job ID. The remaining
// fields depend on the type:
//
//	job_created        {jobId}
//	job_progress       {jobId, progress, completed, total}
//	operation_complete {jobId, operation, result}
//	job_complete       {jobId, results}
//	error              {jobId, error}
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mtr002/compute-queue/internal/interfaces"
)

// Type discriminates the event variants
type Type string

const (
	TypeJobCreated        Type = "job_created"
	TypeJobProgress       Type = "job_progress"
	TypeOperationComplete Type = "operation_complete"
	TypeJobComplete       Type = "job_complete"
	TypeError             Type = "error"
)

// ErrInvalidEvent is returned when a payload does not describe a well-formed event
var ErrInvalidEvent = errors.New("invalid event")

// ResultSnapshot is one operation's state inside a job_complete event
type ResultSnapshot struct {
	Operation interfaces.Operation `json:"operation"`
	Status    interfaces.JobStatus `json:"status"`
	Result    *interfaces.Number   `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Event is a notification about job or operation progress
type Event struct {
	Type  Type   `json:"type"`
	JobID string `json:"jobId"`

	Progress  *float64 `json:"progress,omitempty"`
	Completed *int     `json:"completed,omitempty"`
	Total     *int     `json:"total,omitempty"`

	Operation interfaces.Operation `json:"operation,omitempty"`
	Result    *interfaces.Number   `json:"result,omitempty"`

	Results []ResultSnapshot `json:"results,omitempty"`

	Error string `json:"error,omitempty"`
}

func JobCreated(jobID string) *Event {
	return &Event{Type: TypeJobCreated, JobID: jobID}
}

// JobProgress reports how many of total operations have finished
func JobProgress(jobID string, completed, total int) *Event {
	progress := 0.0
	if total > 0 {
		progress = float64(completed) / float64(total) * 100
	}
	return &Event{
		Type:      TypeJobProgress,
		JobID:     jobID,
		Progress:  &progress,
		Completed: &completed,
		Total:     &total,
	}
}

func OperationComplete(jobID string, op interfaces.Operation, result float64) *Event {
	return &Event{
		Type:      TypeOperationComplete,
		JobID:     jobID,
		Operation: op,
		Result:    interfaces.NewNumber(result),
	}
}

// JobComplete snapshots every operation result of job
func JobComplete(job *interfaces.Job) *Event {
	results := make([]ResultSnapshot, 0, len(job.Results))
	for _, r := range job.Results {
		snap := ResultSnapshot{Operation: r.Operation, Status: r.Status, Error: r.Error}
		if r.Result != nil {
			v := *r.Result
			snap.Result = &v
		}
		results = append(results, snap)
	}
	return &Event{Type: TypeJobComplete, JobID: job.ID, Results: results}
}

func Error(jobID string, err error) *Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Event{Type: TypeError, JobID: jobID, Error: msg}
}

// Validate checks that the fields required by the event's type are present
func (e *Event) Validate() error {
	if e.JobID == "" {
		return fmt.Errorf("%w: missing jobId", ErrInvalidEvent)
	}

	switch e.Type {
	case TypeJobCreated:
		return nil
	case TypeJobProgress:
		if e.Progress == nil || e.Completed == nil || e.Total == nil {
			return fmt.Errorf("%w: job_progress requires progress, completed and total", ErrInvalidEvent)
		}
		if *e.Progress < 0 || *e.Progress > 100 {
			return fmt.Errorf("%w: progress %v out of range", ErrInvalidEvent, *e.Progress)
		}
	case TypeOperationComplete:
		if !e.Operation.Valid() || e.Result == nil {
			return fmt.Errorf("%w: operation_complete requires operation and result", ErrInvalidEvent)
		}
	case TypeJobComplete:
		if len(e.Results) == 0 {
			return fmt.Errorf("%w: job_complete requires results", ErrInvalidEvent)
		}
	case TypeError:
		if e.Error == "" {
			return fmt.Errorf("%w: error requires a message", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}

// Encode validates and serializes an event
func Encode(e *Event) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", e.Type, err)
	}
	return data, nil
}

// Decode parses and validates an event
func Decode(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
