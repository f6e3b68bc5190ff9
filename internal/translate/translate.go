package translate

import (
	"context"
	"fmt"
	"iter"
)

// translation service provider
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Tier selects between a provider's fast and its higher quality model.
type Tier string

const (
	TierFast    Tier = "fast"
	TierQuality Tier = "quality"
)

// Request is one model call.
type Request struct {
	Prompt string
	Tier   Tier
}

// Backend is a single provider. Implementations make exactly one attempt per
// call; retrying, pacing and timeouts belong to Client.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
	// Stream yields text fragments as the model produces them. A non-nil
	// error ends the sequence.
	Stream(ctx context.Context, req Request) iter.Seq2[string, error]
}

// Models overrides the default model of each tier. Empty fields keep the
// provider default.
type Models struct {
	Fast    string
	Quality string
}

func (m Models) pick(tier Tier, fast, quality string) string {
	if tier == TierQuality {
		if m.Quality != "" {
			return m.Quality
		}
		return quality
	}
	if m.Fast != "" {
		return m.Fast
	}
	return fast
}

// creates a Backend for the provider
func Factory(
	ctx context.Context,
	provider Provider,
	apiKey string,
	models Models,
) (Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	switch provider {
	case ProviderGemini:
		return NewGeminiBackend(ctx, apiKey, models)
	case ProviderOpenAI:
		return NewOpenAIBackend(apiKey, models), nil
	case ProviderAnthropic:
		return NewAnthropicBackend(apiKey, models), nil
	default:
		return nil, fmt.Errorf("unsupported translation provider: %s", provider)
	}
}
