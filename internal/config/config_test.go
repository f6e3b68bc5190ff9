package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mgpai22/sublingo/internal/subtitle"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, subtitle.ModeTranslatedOnly, cfg.DisplayMode())
	assert.True(t, cfg.Streaming())
	assert.Equal(t, 1500*time.Millisecond, cfg.Batch.GapThreshold())
	assert.Equal(t, 2*time.Minute, cfg.Retry.Timeout())
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sublingo.toml")
	contents := `
[translation]
provider = "openai"
target_language = "ja"
mode = "unary"
display_mode = "original_above_translated"

[batch]
max_chars = 400
concurrency = 5

[resplit]
enabled = true
max_duration_ms = 4000
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.Translation.Provider)
	assert.Equal(t, "ja", cfg.Translation.TargetLanguage)
	assert.False(t, cfg.Streaming())
	assert.Equal(t, subtitle.ModeOriginalOverTranslated, cfg.DisplayMode())
	assert.Equal(t, 400, cfg.Batch.MaxChars)
	assert.Equal(t, 5, cfg.Batch.Concurrency)
	assert.True(t, cfg.Resplit.Enabled)
	assert.Equal(t, 4*time.Second, cfg.Resplit.MaxDuration())
	// untouched keys keep their defaults
	assert.Equal(t, 80, cfg.Resplit.MaxChars)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[batch]\nmax_charz = 1\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown provider", func(c *Config) { c.Translation.Provider = "bard" }},
		{"missing target", func(c *Config) { c.Translation.TargetLanguage = " " }},
		{"invalid tag", func(c *Config) { c.Translation.TargetLanguage = "xx-!!" }},
		{"same languages", func(c *Config) {
			c.Translation.SourceLanguage = "English"
			c.Translation.TargetLanguage = "english"
		}},
		{"same language as name and code", func(c *Config) {
			c.Translation.SourceLanguage = "English"
			c.Translation.TargetLanguage = "en"
		}},
		{"bad tier", func(c *Config) { c.Translation.ModelTier = "turbo" }},
		{"bad mode", func(c *Config) { c.Translation.Mode = "batch" }},
		{"bad display mode", func(c *Config) { c.Translation.DisplayMode = "sideways" }},
		{"bad failure policy", func(c *Config) { c.Translation.OnFailure = "retry" }},
		{"zero budget", func(c *Config) { c.Batch.MaxChars = 0 }},
		{"zero concurrency", func(c *Config) { c.Batch.Concurrency = 0 }},
		{"zero retries", func(c *Config) { c.Retry.MaxRetries = 0 }},
		{"zero timeout", func(c *Config) { c.Retry.TimeoutSeconds = 0 }},
		{"resplit without thresholds", func(c *Config) {
			c.Resplit.Enabled = true
			c.Resplit.MaxChars = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAcceptsLanguageNamesAndTags(t *testing.T) {
	for _, lang := range []string{"zh", "zh-Hans", "pt_BR", "Simplified Chinese", "Japanese"} {
		cfg := Default()
		cfg.Translation.TargetLanguage = lang
		assert.NoError(t, cfg.Validate(), lang)
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "from-env")

	cfg := Default()
	cfg.Translation.Provider = ProviderOpenAI
	require.NoError(t, cfg.ResolveAPIKey())
	assert.Equal(t, "from-env", cfg.Translation.APIKey)

	explicit := Default()
	explicit.Translation.APIKey = "explicit"
	require.NoError(t, explicit.ResolveAPIKey())
	assert.Equal(t, "explicit", explicit.Translation.APIKey)

	t.Setenv("ANTHROPIC_API_KEY", "")
	missing := Default()
	missing.Translation.Provider = ProviderAnthropic
	err := missing.ResolveAPIKey()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SUBLINGO_TEST_KEY=dotenv\n"), 0o644))
	t.Setenv("SUBLINGO_TEST_KEY", "")
	require.NoError(t, os.Unsetenv("SUBLINGO_TEST_KEY"))

	require.NoError(t, LoadEnv(path))
	assert.Equal(t, "dotenv", os.Getenv("SUBLINGO_TEST_KEY"))

	assert.NoError(t, LoadEnv(filepath.Join(dir, "missing.env")))
}
