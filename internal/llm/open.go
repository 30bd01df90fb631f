package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	ProviderGemini = "gemini"
	ProviderGroq   = "groq"
	ProviderFake   = "fake"
)

// Options selects and tunes a provider.
type Options struct {
	Provider string
	Model    string
	APIKey   string
	RPS      float64
	Burst    int
	Retries  int
}

// Open builds the provider client wrapped with hooks, logging, retry and
// rate limiting, outermost first. fake, when non-nil, serves the fake
// provider.
func Open(ctx context.Context, opts Options, fake *FakeClient, logger *zap.Logger) (Client, error) {
	var inner Client
	switch opts.Provider {
	case ProviderGemini:
		cli, err := NewGeminiClient(ctx, opts.APIKey, opts.Model)
		if err != nil {
			return nil, err
		}
		inner = cli
	case ProviderGroq:
		cli, err := NewGroqClient(opts.APIKey, opts.Model)
		if err != nil {
			return nil, err
		}
		inner = cli
	case ProviderFake:
		if fake == nil {
			fake = &FakeClient{}
		}
		inner = fake
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", opts.Provider)
	}
	return Wrap(inner,
		WithHooks(),
		WithLogging(logger),
		Retry(opts.Retries+1, 500*time.Millisecond),
		RateLimit(opts.RPS, opts.Burst),
	), nil
}
