package interfaces

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusFailed, StatusCompleted, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPredecessors(t *testing.T) {
	assert.Equal(t, []JobStatus{StatusPending}, Predecessors(StatusProcessing))
	assert.Equal(t, []JobStatus{StatusProcessing}, Predecessors(StatusCompleted))
	assert.Equal(t, []JobStatus{StatusPending, StatusProcessing}, Predecessors(StatusFailed))
	assert.Empty(t, Predecessors(StatusPending))
}

func TestJobAllTerminal(t *testing.T) {
	job := &Job{}
	assert.False(t, job.AllTerminal(), "a job with no results is not done")

	for _, op := range Operations {
		job.Results = append(job.Results, OperationResult{Operation: op, Status: StatusCompleted})
	}
	assert.True(t, job.AllTerminal())

	job.Results[3].Status = StatusFailed
	assert.True(t, job.AllTerminal())

	job.Results[1].Status = StatusProcessing
	assert.False(t, job.AllTerminal())
}

func TestJobCloneIsDeep(t *testing.T) {
	job := &Job{ID: "a", Results: []OperationResult{{Operation: OperationAdd, Result: NewNumber(1)}}}
	c := job.Clone()
	*c.Results[0].Result = 2
	c.Results[0].Status = StatusFailed

	assert.Equal(t, Number(1), *job.Results[0].Result)
	assert.Empty(t, job.Results[0].Status)
}

func TestNumberJSON(t *testing.T) {
	tests := []struct {
		in   float64
		wire string
	}{
		{15, `15`},
		{-2.5, `-2.5`},
		{math.NaN(), `"NaN"`},
		{math.Inf(1), `"Infinity"`},
		{math.Inf(-1), `"-Infinity"`},
	}

	for _, tt := range tests {
		data, err := json.Marshal(Number(tt.in))
		require.NoError(t, err)
		assert.Equal(t, tt.wire, string(data))

		var back Number
		require.NoError(t, json.Unmarshal(data, &back))
		if math.IsNaN(tt.in) {
			assert.True(t, math.IsNaN(float64(back)))
		} else {
			assert.Equal(t, tt.in, float64(back))
		}
	}
}

func TestNumberUnmarshalRejectsGarbage(t *testing.T) {
	var n Number
	assert.Error(t, json.Unmarshal([]byte(`"twelve"`), &n))
	assert.Error(t, json.Unmarshal([]byte(`{}`), &n))
}
