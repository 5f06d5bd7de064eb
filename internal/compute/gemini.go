package compute

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/mtr002/compute-queue/internal/interfaces"
	"github.com/mtr002/compute-queue/internal/logger"
	"github.com/mtr002/compute-queue/internal/metrics"
)

const defaultGeminiModel = "gemini-2.0-flash"

// Gemini computes operations through the Google Gemini API
type Gemini struct {
	client     *genai.Client
	model      string
	timeout    time.Duration
	pricePer1K float64
	limiter    *rate.Limiter
}

// NewGemini creates a Gemini-backed computer. baseURL overrides the API endpoint when set.
func NewGemini(ctx context.Context, opts Options, baseURL string) (*Gemini, error) {
	cfg := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	model := opts.Model
	if model == "" {
		model = defaultGeminiModel
	}

	return &Gemini{
		client:     client,
		model:      model,
		timeout:    opts.timeout(),
		pricePer1K: opts.PricePer1KTokens,
		limiter:    opts.limiter(),
	}, nil
}

func (g *Gemini) Compute(ctx context.Context, op interfaces.Operation, a, b float64) (Result, error) {
	prompt, err := Prompt(op, a, b)
	if err != nil {
		return Result{}, err
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("gemini rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(callCtx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0),
		MaxOutputTokens:   50,
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	})
	if err != nil {
		return Result{}, fmt.Errorf("gemini request failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return Result{}, fmt.Errorf("%w: empty gemini response", ErrUnparsableResult)
	}

	value, err := ParseResult(resp.Text())
	if err != nil {
		return Result{}, err
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.PromptTokenCount + resp.UsageMetadata.CandidatesTokenCount)
	}
	cost := Cost(tokens, g.pricePer1K)
	metrics.ComputeTokensTotal.WithLabelValues("gemini").Add(float64(tokens))
	metrics.ComputeCostTotal.WithLabelValues("gemini").Add(cost)

	logger.Logger.Debug().
		Str("operation", string(op)).
		Int("tokens", tokens).
		Float64("cost", cost).
		Msg("Gemini computed operation")

	return Result{Value: value, TokensUsed: tokens, Cost: cost, Provider: "gemini"}, nil
}
