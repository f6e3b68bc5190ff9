package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"golang.org/x/text/language"

	"github.com/mgpai22/sublingo/internal/subtitle"
)

// Config is the complete settings value for one translation job. It is built
// once (defaults, then file, then flags) and passed explicitly to every
// component; nothing in the core reads process-wide state.
type Config struct {
	Translation Translation `toml:"translation"`
	Batch       Batch       `toml:"batch"`
	Retry       Retry       `toml:"retry"`
	Resplit     Resplit     `toml:"resplit"`
	Server      Server      `toml:"server"`
}

type Translation struct {
	Provider       string `toml:"provider"`
	APIKey         string `toml:"api_key"`
	SourceLanguage string `toml:"source_language"`
	TargetLanguage string `toml:"target_language"`
	// "fast" or "quality"
	ModelTier    string `toml:"model_tier"`
	FastModel    string `toml:"fast_model"`
	QualityModel string `toml:"quality_model"`
	// "stream" or "unary"
	Mode        string `toml:"mode"`
	DisplayMode string `toml:"display_mode"`
	// "passthrough" keeps the source text of failed batches, "omit" drops them
	OnFailure string `toml:"on_failure"`
	Prompt    string `toml:"prompt"`
}

type Batch struct {
	MaxChars       int `toml:"max_chars"`
	GapThresholdMS int `toml:"gap_threshold_ms"`
	SceneBreakMS   int `toml:"scene_break_ms"`
	Concurrency    int `toml:"concurrency"`
}

type Retry struct {
	MaxRetries        int `toml:"max_retries"`
	BaseDelayMS       int `toml:"base_delay_ms"`
	RateLimitDelayMS  int `toml:"rate_limit_delay_ms"`
	TimeoutSeconds    int `toml:"timeout_seconds"`
	RequestsPerMinute int `toml:"requests_per_minute"`
}

type Resplit struct {
	Enabled       bool   `toml:"enabled"`
	MaxDurationMS int    `toml:"max_duration_ms"`
	MaxChars      int    `toml:"max_chars"`
	MinUnitMS     int    `toml:"min_unit_ms"`
	MaxLineChars  int    `toml:"max_line_chars"`
	ModelTier     string `toml:"model_tier"`
}

type Server struct {
	Addr          string `toml:"addr"`
	MaxUploadSize int64  `toml:"max_upload_bytes"`
}

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	TierFast    = "fast"
	TierQuality = "quality"

	ModeStream = "stream"
	ModeUnary  = "unary"

	OnFailurePassthrough = "passthrough"
	OnFailureOmit        = "omit"
)

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Translation: Translation{
			Provider:       ProviderGemini,
			TargetLanguage: "Chinese",
			ModelTier:      TierFast,
			Mode:           ModeStream,
			DisplayMode:    string(subtitle.ModeTranslatedOnly),
			OnFailure:      OnFailurePassthrough,
		},
		Batch: Batch{
			MaxChars:       1500,
			GapThresholdMS: 1500,
			SceneBreakMS:   10000,
			Concurrency:    3,
		},
		Retry: Retry{
			MaxRetries:        3,
			BaseDelayMS:       5000,
			RateLimitDelayMS:  60000,
			TimeoutSeconds:    120,
			RequestsPerMinute: 30,
		},
		Resplit: Resplit{
			Enabled:       false,
			MaxDurationMS: 6000,
			MaxChars:      80,
			MinUnitMS:     700,
			MaxLineChars:  subtitle.DefaultMaxCharsPerLine,
			ModelTier:     TierFast,
		},
		Server: Server{
			Addr:          "127.0.0.1:8000",
			MaxUploadSize: 10 << 20,
		},
	}
}

// Load starts from Default and overlays the TOML file at path, if any.
// A missing file is not an error when path is empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// LoadEnv reads KEY=value pairs from a dotenv file into the process
// environment without overriding variables that are already set.
func LoadEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// APIKeyEnvVar names the environment variable holding the provider's key.
func APIKeyEnvVar(provider string) string {
	switch provider {
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	default:
		return "API_KEY"
	}
}

// ResolveAPIKey fills Translation.APIKey from the environment when it is
// not set explicitly.
func (c *Config) ResolveAPIKey() error {
	if c.Translation.APIKey != "" {
		return nil
	}
	envVar := APIKeyEnvVar(c.Translation.Provider)
	c.Translation.APIKey = strings.TrimSpace(os.Getenv(envVar))
	if c.Translation.APIKey == "" {
		return fmt.Errorf(
			"API key is required: use --api-key flag, api_key in the config file or set %s",
			envVar,
		)
	}
	return nil
}

// Validate checks every field the pipeline relies on.
func (c Config) Validate() error {
	t := c.Translation
	switch t.Provider {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unsupported translation provider %q", t.Provider)
	}
	if strings.TrimSpace(t.TargetLanguage) == "" {
		return fmt.Errorf("target language is required")
	}
	if looksLikeTag(t.TargetLanguage) {
		tag := strings.ReplaceAll(strings.TrimSpace(t.TargetLanguage), "_", "-")
		if _, err := language.Parse(tag); err != nil {
			return fmt.Errorf("invalid target language %q: %w", t.TargetLanguage, err)
		}
	}
	if t.SourceLanguage != "" && subtitle.SameLanguage(t.SourceLanguage, t.TargetLanguage) {
		return fmt.Errorf(
			"source language %q and target language %q cannot be the same",
			t.SourceLanguage,
			t.TargetLanguage,
		)
	}
	if err := validTier(t.ModelTier); err != nil {
		return err
	}
	if t.Mode != ModeStream && t.Mode != ModeUnary {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeStream, ModeUnary, t.Mode)
	}
	if _, err := subtitle.ParseDisplayMode(t.DisplayMode); err != nil {
		return err
	}
	if t.OnFailure != OnFailurePassthrough && t.OnFailure != OnFailureOmit {
		return fmt.Errorf(
			"on_failure must be %q or %q, got %q",
			OnFailurePassthrough,
			OnFailureOmit,
			t.OnFailure,
		)
	}

	if c.Batch.MaxChars <= 0 {
		return fmt.Errorf("batch max_chars must be positive, got %d", c.Batch.MaxChars)
	}
	if c.Batch.GapThresholdMS < 0 || c.Batch.SceneBreakMS < 0 {
		return fmt.Errorf("batch gap thresholds cannot be negative")
	}
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Batch.Concurrency)
	}

	if c.Retry.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.BaseDelayMS < 0 || c.Retry.RateLimitDelayMS < 0 {
		return fmt.Errorf("retry delays cannot be negative")
	}
	if c.Retry.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.Retry.TimeoutSeconds)
	}
	if c.Retry.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute cannot be negative")
	}

	if c.Resplit.Enabled {
		if c.Resplit.MaxDurationMS <= 0 || c.Resplit.MaxChars <= 0 {
			return fmt.Errorf("resplit thresholds must be positive")
		}
		if c.Resplit.MinUnitMS < 0 {
			return fmt.Errorf("resplit min_unit_ms cannot be negative")
		}
		if err := validTier(c.Resplit.ModelTier); err != nil {
			return fmt.Errorf("resplit: %w", err)
		}
	}
	return nil
}

func validTier(tier string) error {
	if tier != TierFast && tier != TierQuality {
		return fmt.Errorf("model tier must be %q or %q, got %q", TierFast, TierQuality, tier)
	}
	return nil
}

// short codes like "zh", "pt-BR" or "zh-Hans" are treated as BCP 47 tags;
// anything else ("Simplified Chinese") is passed to the model verbatim
func looksLikeTag(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, " ") {
		return false
	}
	first := strings.SplitN(strings.ReplaceAll(s, "_", "-"), "-", 2)[0]
	return len(first) >= 2 && len(first) <= 3
}

func (c Config) DisplayMode() subtitle.DisplayMode {
	mode, err := subtitle.ParseDisplayMode(c.Translation.DisplayMode)
	if err != nil {
		return subtitle.ModeTranslatedOnly
	}
	return mode
}

func (c Config) Streaming() bool {
	return c.Translation.Mode != ModeUnary
}

func (b Batch) GapThreshold() time.Duration {
	return time.Duration(b.GapThresholdMS) * time.Millisecond
}

func (b Batch) SceneBreak() time.Duration {
	return time.Duration(b.SceneBreakMS) * time.Millisecond
}

func (r Retry) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

func (r Retry) RateLimitDelay() time.Duration {
	return time.Duration(r.RateLimitDelayMS) * time.Millisecond
}

func (r Retry) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

func (r Resplit) MaxDuration() time.Duration {
	return time.Duration(r.MaxDurationMS) * time.Millisecond
}

func (r Resplit) MinUnit() time.Duration {
	return time.Duration(r.MinUnitMS) * time.Millisecond
}
