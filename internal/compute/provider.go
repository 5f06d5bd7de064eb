package compute

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/mtr002/compute-queue/internal/logger"
)

// Options configures the provider-backed computers
type Options struct {
	Provider         string // claude, gemini or none
	APIKey           string
	Model            string
	Timeout          time.Duration
	PricePer1KTokens float64
	RatePerSecond    float64
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 30 * time.Second
	}
	return o.Timeout
}

func (o Options) limiter() *rate.Limiter {
	if o.RatePerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(o.RatePerSecond), 1)
}

// New picks the compute strategy once at startup. Without a provider or
// credentials every operation is computed locally; otherwise the provider is
// tried first and local arithmetic answers when it fails.
func New(ctx context.Context, opts Options) (Computer, error) {
	if opts.Provider == "none" || opts.Provider == "" || opts.APIKey == "" {
		logger.Logger.Info().Str("provider", opts.Provider).Msg("No compute provider credentials, using local arithmetic")
		return Arithmetic{}, nil
	}

	var primary Computer
	switch opts.Provider {
	case "claude":
		primary = NewClaude(opts)
	case "gemini":
		g, err := NewGemini(ctx, opts, "")
		if err != nil {
			return nil, err
		}
		primary = g
	default:
		return nil, fmt.Errorf("unsupported compute provider %q", opts.Provider)
	}

	logger.Logger.Info().Str("provider", opts.Provider).Msg("Compute provider enabled with local fallback")
	return &Fallback{Primary: primary, Secondary: Arithmetic{}}, nil
}
