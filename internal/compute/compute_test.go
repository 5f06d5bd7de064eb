package compute

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtr002/compute-queue/internal/interfaces"
)

type failingComputer struct {
	calls atomic.Int32
	err   error
}

func (f *failingComputer) Compute(context.Context, interfaces.Operation, float64, float64) (Result, error) {
	f.calls.Add(1)
	return Result{}, f.err
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		op   interfaces.Operation
		a, b float64
		want float64
	}{
		{interfaces.OperationAdd, 10, 5, 15},
		{interfaces.OperationSubtract, 10, 5, 5},
		{interfaces.OperationMultiply, 10, 5, 50},
		{interfaces.OperationDivide, 10, 5, 2},
		{interfaces.OperationDivide, -9, 2, -4.5},
	}

	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			res, err := Arithmetic{}.Compute(context.Background(), tt.op, tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Value)
			assert.Zero(t, res.TokensUsed)
			assert.Zero(t, res.Cost)
		})
	}
}

func TestArithmeticDivideByZeroIsNaN(t *testing.T) {
	for _, a := range []float64{10, 0, -3} {
		res, err := Arithmetic{}.Compute(context.Background(), interfaces.OperationDivide, a, 0)
		require.NoError(t, err)
		assert.True(t, math.IsNaN(res.Value))
	}
}

func TestArithmeticUnknownOperation(t *testing.T) {
	_, err := Arithmetic{}.Compute(context.Background(), "modulo", 1, 2)
	assert.True(t, errors.Is(err, ErrUnknownOperation))
}

func TestFallbackUsesArithmeticWhenProviderFails(t *testing.T) {
	primary := &failingComputer{err: errors.New("provider unavailable")}
	f := &Fallback{Primary: primary, Secondary: Arithmetic{}}

	res, err := f.Compute(context.Background(), interfaces.OperationMultiply, 6, 7)
	require.NoError(t, err)
	assert.Equal(t, 42.0, res.Value)
	assert.Zero(t, res.TokensUsed)
	assert.Zero(t, res.Cost)
	assert.Equal(t, int32(1), primary.calls.Load())
}

func TestFallbackDoesNotMaskCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := &Fallback{Primary: &failingComputer{err: context.Canceled}, Secondary: Arithmetic{}}
	_, err := f.Compute(ctx, interfaces.OperationAdd, 1, 2)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPrompt(t *testing.T) {
	p, err := Prompt(interfaces.OperationDivide, 10, 2.5)
	require.NoError(t, err)
	assert.Contains(t, p, "division of 10 / 2.5")
	assert.Contains(t, p, "Return ONLY the numerical result")

	_, err = Prompt("pow", 1, 2)
	assert.True(t, errors.Is(err, ErrUnknownOperation))
}

func TestParseResult(t *testing.T) {
	ok := map[string]float64{
		"42":        42,
		" 2.5\n":    2.5,
		"1,000":     1000,
		"`-7`":      -7,
		"Infinity":  math.Inf(1),
		"-Infinity": math.Inf(-1),
	}
	for in, want := range ok {
		got, err := ParseResult(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "forty-two", "The answer is 42"} {
		_, err := ParseResult(in)
		assert.True(t, errors.Is(err, ErrUnparsableResult), in)
	}
}

func TestCost(t *testing.T) {
	assert.InDelta(t, 0.0001, Cost(50, 0.002), 1e-12)
	assert.Zero(t, Cost(0, 0.002))
}

func newClaudeServer(t *testing.T, status int, reply string, requests *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		assert.Contains(t, req, "messages")

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad request"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-test",
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]any{{"type": "text", "text": reply}},
			"usage":         map[string]any{"input_tokens": 40, "output_tokens": 10},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClaudeCompute(t *testing.T) {
	var requests atomic.Int32
	srv := newClaudeServer(t, http.StatusOK, "42", &requests)

	c := NewClaude(Options{APIKey: "test", PricePer1KTokens: 0.002}, option.WithBaseURL(srv.URL))
	res, err := c.Compute(context.Background(), interfaces.OperationMultiply, 6, 7)
	require.NoError(t, err)

	assert.Equal(t, 42.0, res.Value)
	assert.Equal(t, 50, res.TokensUsed)
	assert.InDelta(t, 0.0001, res.Cost, 1e-12)
	assert.Equal(t, "claude", res.Provider)
	assert.Equal(t, int32(1), requests.Load())
}

func TestClaudeNonNumericReply(t *testing.T) {
	var requests atomic.Int32
	srv := newClaudeServer(t, http.StatusOK, "I cannot do that", &requests)

	c := NewClaude(Options{APIKey: "test"}, option.WithBaseURL(srv.URL))
	_, err := c.Compute(context.Background(), interfaces.OperationAdd, 1, 2)
	assert.True(t, errors.Is(err, ErrUnparsableResult))
}

func TestClaudeFailureFallsBack(t *testing.T) {
	var requests atomic.Int32
	srv := newClaudeServer(t, http.StatusBadRequest, "", &requests)

	f := &Fallback{
		Primary:   NewClaude(Options{APIKey: "test"}, option.WithBaseURL(srv.URL)),
		Secondary: Arithmetic{},
	}
	res, err := f.Compute(context.Background(), interfaces.OperationMultiply, 6, 7)
	require.NoError(t, err)
	assert.Equal(t, 42.0, res.Value)
	assert.Zero(t, res.TokensUsed)
	assert.Zero(t, res.Cost)
	assert.GreaterOrEqual(t, requests.Load(), int32(1))
}

func TestGeminiCompute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": "15"}},
				},
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 30, "candidatesTokenCount": 2},
		})
	}))
	defer srv.Close()

	g, err := NewGemini(context.Background(), Options{APIKey: "test", PricePer1KTokens: 0.002}, srv.URL)
	require.NoError(t, err)

	res, err := g.Compute(context.Background(), interfaces.OperationAdd, 10, 5)
	require.NoError(t, err)
	assert.Equal(t, 15.0, res.Value)
	assert.Equal(t, 32, res.TokensUsed)
}

func TestNewSelectsStrategy(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, Options{Provider: "claude"})
	require.NoError(t, err)
	assert.IsType(t, Arithmetic{}, c)

	c, err = New(ctx, Options{Provider: "none", APIKey: "key"})
	require.NoError(t, err)
	assert.IsType(t, Arithmetic{}, c)

	c, err = New(ctx, Options{Provider: "claude", APIKey: "key"})
	require.NoError(t, err)
	require.IsType(t, &Fallback{}, c)
	assert.IsType(t, &Claude{}, c.(*Fallback).Primary)

	_, err = New(ctx, Options{Provider: "mystery", APIKey: "key"})
	assert.Error(t, err)
}
