package compute

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mtr002/compute-queue/internal/interfaces"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/metrics"
)

var (
	// ErrUnknownOperation is returned for an operation outside the four known kinds
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrUnparsableResult is returned when a provider answers with something that is not a number
	ErrUnparsableResult = errors.New("provider returned a non-numeric result")
)

// Result is the value of one operation plus what it cost to obtain
type Result struct {
	Value      float64
	TokensUsed int
	Cost       float64
	Provider   string
}

// Computer produces the numeric result of one operation
type Computer interface {
	Compute(ctx context.Context, op interfaces.Operation, a, b float64) (Result, error)
}

var operationNames = map[interfaces.Operation]string{
	interfaces.OperationAdd:      "addition",
	interfaces.OperationSubtract: "subtraction",
	interfaces.OperationMultiply: "multiplication",
	interfaces.OperationDivide:   "division",
}

var operationSymbols = map[interfaces.Operation]string{
	interfaces.OperationAdd:      "+",
	interfaces.OperationSubtract: "-",
	interfaces.OperationMultiply: "*",
	interfaces.OperationDivide:   "/",
}

const systemPrompt = "You are a precise mathematical calculator. Return only numerical results."

// Prompt builds the deterministic instruction sent to a provider
func Prompt(op interfaces.Operation, a, b float64) (string, error) {
	name, ok := operationNames[op]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	return fmt.Sprintf("Compute the %s of %g %s %g.\nReturn ONLY the numerical result, no explanation, no text, just the number.",
		name, a, operationSymbols[op], b), nil
}

// ParseResult extracts the number from a provider reply
func ParseResult(text string) (float64, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.Trim(cleaned, "`")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, fmt.Errorf("%w: empty reply", ErrUnparsableResult)
	}

	v, err := interfaces.ParseNumber(cleaned)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnparsableResult, text)
	}
	return v, nil
}

// Cost converts a token count into an estimated spend
func Cost(tokens int, pricePer1K float64) float64 {
	return float64(tokens) / 1000 * pricePer1K
}

// Arithmetic computes operations in-process. Division by zero yields NaN.
type Arithmetic struct{}

func (Arithmetic) Compute(_ context.Context, op interfaces.Operation, a, b float64) (Result, error) {
	var v float64
	switch op {
	case interfaces.OperationAdd:
		v = a + b
	case interfaces.OperationSubtract:
		v = a - b
	case interfaces.OperationMultiply:
		v = a * b
	case interfaces.OperationDivide:
		if b == 0 {
			v = math.NaN()
		} else {
			v = a / b
		}
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	return Result{Value: v, Provider: "local"}, nil
}

// Fallback tries Primary and, if it fails for any reason other than the
// caller giving up, answers with Secondary instead.
type Fallback struct {
	Primary   Computer
	Secondary Computer
}

func (f *Fallback) Compute(ctx context.Context, op interfaces.Operation, a, b float64) (Result, error) {
	res, err := f.Primary.Compute(ctx, op, a, b)
	if err == nil {
		return res, nil
	}
	if errors.Is(err, ErrUnknownOperation) {
		return Result{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	logger.Logger.Warn().
		Str("operation", string(op)).
		Err(err).
		Msg("Compute provider failed, using local arithmetic")
	metrics.ComputeFallbackTotal.WithLabelValues(string(op)).Inc()

	return f.Secondary.Compute(ctx, op, a, b)
}
