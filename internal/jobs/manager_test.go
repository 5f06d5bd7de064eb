package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/compute-queue/internal/db"
	"github.com/mtr002/compute-queue/internal/interfaces"
)

func TestNewJobHasOneResultPerOperation(t *testing.T) {
	job := NewJob(10, 5)

	assert.NotEmpty(t, job.ID)
	assert.Equal(t, interfaces.StatusPending, job.Status)
	require.Len(t, job.Results, 4)

	seen := make(map[interfaces.Operation]bool)
	for _, r := range job.Results {
		assert.False(t, seen[r.Operation], "duplicate %s", r.Operation)
		seen[r.Operation] = true
		assert.Equal(t, interfaces.StatusPending, r.Status)
		assert.Nil(t, r.Result)
	}
	for _, op := range interfaces.Operations {
		assert.True(t, seen[op], "missing %s", op)
	}
}

func TestNewJobIDsAreUnique(t *testing.T) {
	assert.NotEqual(t, NewJob(1, 1).ID, NewJob(1, 1).ID)
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewManager(db.NewMemoryStore())

	job, err := m.SubmitJob(ctx, 6, 7)
	require.NoError(t, err)

	pending, err := m.PendingJobs(ctx, 5)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, job.ID, pending[0].ID)

	claimed, err := m.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, m.StartOperation(ctx, job.ID, interfaces.OperationMultiply))
	require.NoError(t, m.CompleteOperation(ctx, job.ID, interfaces.OperationMultiply, 42))
	require.NoError(t, m.FailOperation(ctx, job.ID, interfaces.OperationDivide, "boom"))
	require.NoError(t, m.CompleteJob(ctx, job.ID))

	got, err := m.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusCompleted, got.Status)
	assert.Equal(t, interfaces.Number(42), *got.Result(interfaces.OperationMultiply).Result)
	assert.Equal(t, "boom", got.Result(interfaces.OperationDivide).Error)

	err = m.FailJob(ctx, job.ID, "too late")
	assert.True(t, errors.Is(err, interfaces.ErrInvalidTransition))
}

func TestManagerUnknownJob(t *testing.T) {
	m := NewManager(db.NewMemoryStore())
	_, err := m.GetJob(context.Background(), "nope")
	assert.True(t, errors.Is(err, interfaces.ErrJobNotFound))
}
