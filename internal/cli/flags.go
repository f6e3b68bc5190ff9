package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mgpai22/sublingo/internal/config"
	"github.com/mgpai22/sublingo/internal/pipeline"
	"github.com/mgpai22/sublingo/internal/translate"
)

// swapped out by tests
var newBackend = translate.Factory

// flags shared by every command that runs translation jobs
func addJobFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("target-language", "t", "", "Target language, as a code (zh, pt-BR) or a name")
	f.StringP("source-language", "s", "", "Source language (detected when empty)")
	f.String("provider", "", "Translation provider (gemini, openai, anthropic)")
	f.StringP("api-key", "k", "", "API key (or set GEMINI_API_KEY/OPENAI_API_KEY/ANTHROPIC_API_KEY)")
	f.String("model", "", "Model for the selected tier (provider-specific, uses sensible defaults)")
	f.Bool("model-override", false, "Allow any custom model, bypassing provider model validation")
	f.String("tier", "", "Model tier (fast, quality)")
	f.String("mode", "", "Model call mode (stream, unary)")
	f.StringP("display-mode", "m", "", "Output layout (translated_only, original_over_translated, translated_over_original, original_only)")
	f.String("on-failure", "", "What to do with batches that fail (passthrough, omit)")
	f.Int("concurrency", 0, "Number of batches translated in parallel")
	f.Int("max-chars", 0, "Character budget of one batch")
	f.Int("max-retries", 0, "Attempts per model call")
	f.Int("requests-per-minute", 0, "Model requests allowed per minute")
	f.Bool("resplit", false, "Split overlong translated subtitles into shorter ones")
	f.String("prompt", "", "Extra instructions for the model")
}

// loadConfig reads the config file and lays explicitly set flags over it
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	applyFlags(cmd.Flags(), &cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	if err := validateModel(cmd.Flags(), cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(f *pflag.FlagSet, cfg *config.Config) {
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	num := func(name string, dst *int) {
		if f.Changed(name) {
			*dst, _ = f.GetInt(name)
		}
	}

	t := &cfg.Translation
	str("target-language", &t.TargetLanguage)
	str("source-language", &t.SourceLanguage)
	str("provider", &t.Provider)
	str("api-key", &t.APIKey)
	str("tier", &t.ModelTier)
	str("mode", &t.Mode)
	str("display-mode", &t.DisplayMode)
	str("on-failure", &t.OnFailure)
	str("prompt", &t.Prompt)
	if f.Changed("model") {
		model, _ := f.GetString("model")
		if t.ModelTier == config.TierQuality {
			t.QualityModel = model
		} else {
			t.FastModel = model
		}
	}

	num("concurrency", &cfg.Batch.Concurrency)
	num("max-chars", &cfg.Batch.MaxChars)
	num("max-retries", &cfg.Retry.MaxRetries)
	num("requests-per-minute", &cfg.Retry.RequestsPerMinute)
	if f.Changed("resplit") {
		cfg.Resplit.Enabled, _ = f.GetBool("resplit")
	}
}

// newOrchestrator builds the provider backend and the shared client
func newOrchestrator(ctx context.Context, cfg config.Config) (*pipeline.Orchestrator, error) {
	if err := cfg.ResolveAPIKey(); err != nil {
		return nil, err
	}
	backend, err := newBackend(
		ctx,
		translate.Provider(cfg.Translation.Provider),
		cfg.Translation.APIKey,
		translate.Models{
			Fast:    cfg.Translation.FastModel,
			Quality: cfg.Translation.QualityModel,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create translator: %w", err)
	}

	client := translate.NewClient(backend,
		translate.WithRetryPolicy(translate.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxRetries,
			BaseDelay:   cfg.Retry.BaseDelay(),
			MaxDelay:    cfg.Retry.RateLimitDelay(),
		}),
		translate.WithTimeout(cfg.Retry.Timeout()),
		translate.WithRequestsPerMinute(cfg.Retry.RequestsPerMinute),
		translate.WithLogger(logger),
	)
	return pipeline.New(client, pipeline.WithLogger(logger)), nil
}
