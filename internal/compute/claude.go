package compute

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/mtr002/compute-queue/internal/interfaces"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/metrics"
)

const defaultClaudeModel = "claude-3-5-haiku-latest"

// Claude computes operations through the Anthropic Messages API
type Claude struct {
	client     anthropic.Client
	model      string
	timeout    time.Duration
	pricePer1K float64
	limiter    *rate.Limiter
}

// NewClaude creates a Claude-backed computer. Extra request options are
// appended after the API key, which lets tests point the client elsewhere.
func NewClaude(opts Options, extra ...option.RequestOption) *Claude {
	model := opts.Model
	if model == "" {
		model = defaultClaudeModel
	}

	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(1),
	}, extra...)

	return &Claude{
		client:     anthropic.NewClient(reqOpts...),
		model:      model,
		timeout:    opts.timeout(),
		pricePer1K: opts.PricePer1KTokens,
		limiter:    opts.limiter(),
	}
}

func (c *Claude) Compute(ctx context.Context, op interfaces.Operation, a, b float64) (Result, error) {
	prompt, err := Prompt(op, a, b)
	if err != nil {
		return Result{}, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("claude rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   50,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("claude request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	value, err := ParseResult(text.String())
	if err != nil {
		return Result{}, err
	}

	tokens := int(resp.Usage.InputTokens + resp.Usage.OutputTokens)
	cost := Cost(tokens, c.pricePer1K)
	metrics.ComputeTokensTotal.WithLabelValues("claude").Add(float64(tokens))
	metrics.ComputeCostTotal.WithLabelValues("claude").Add(cost)

	logger.Logger.Debug().
		Str("operation", string(op)).
		Int("tokens", tokens).
		Float64("cost", cost).
		Msg("Claude computed operation")

	return Result{Value: value, TokensUsed: tokens, Cost: cost, Provider: "claude"}, nil
}
