package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/pflag"

	"github.com/mgpai22/sublingo/internal/config"
)

var (
	geminiModels = []string{
		"gemini-3-pro-preview",
		"gemini-3-flash-preview",
		"gemini-2.5-pro",
		"gemini-2.5-flash",
		"gemini-2.5-flash-lite",
	}
	openAIModels = []string{
		"o1", "o3-mini", "o1-pro", "o3",
		"gpt-5", "gpt-5-nano", "gpt-5-mini", "gpt-5-pro",
		"gpt-5.1", "gpt-5.2", "gpt-5.2-pro",
	}
	anthropicModels = []string{
		"claude-haiku-4-5",
		"claude-sonnet-4-5",
		"claude-opus-4-1",
	}
)

func knownModels(provider string) []string {
	switch provider {
	case config.ProviderGemini:
		return geminiModels
	case config.ProviderOpenAI:
		return openAIModels
	case config.ProviderAnthropic:
		return anthropicModels
	default:
		return nil
	}
}

func isKnownModel(provider, model string) bool {
	return slices.Contains(knownModels(provider), strings.TrimSpace(model))
}

// validateModel rejects configured models the provider is not known to
// serve, unless --model-override is set
func validateModel(f *pflag.FlagSet, cfg config.Config) error {
	if override, _ := f.GetBool("model-override"); override {
		return nil
	}
	t := cfg.Translation
	for _, model := range []string{t.FastModel, t.QualityModel} {
		if model == "" || isKnownModel(t.Provider, model) {
			continue
		}
		return fmt.Errorf(
			"unsupported %s model %q: valid models are %s (use --model-override to bypass)",
			t.Provider,
			model,
			strings.Join(knownModels(t.Provider), ", "),
		)
	}
	return nil
}
