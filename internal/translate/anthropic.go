package translate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 8192

var (
	defaultAnthropicFast    = anthropic.ModelClaudeHaiku4_5
	defaultAnthropicQuality = anthropic.Model("claude-sonnet-4-5")
)

// implements Backend using Anthropic Claude
type AnthropicBackend struct {
	client anthropic.Client
	models Models
}

func NewAnthropicBackend(apiKey string, models Models) *AnthropicBackend {
	return &AnthropicBackend{
		client: anthropic.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
		models: models,
	}
}

func (b *AnthropicBackend) params(req Request) anthropic.MessageNewParams {
	model := b.models.pick(req.Tier, string(defaultAnthropicFast), string(defaultAnthropicQuality))
	return anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   anthropicMaxTokens,
		Temperature: anthropic.Float(0.5),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewTextBlock(req.Prompt),
			),
		},
	}
}

func (b *AnthropicBackend) Complete(ctx context.Context, req Request) (string, error) {
	message, err := b.client.Messages.New(ctx, b.params(req))
	if err != nil {
		return "", classifyAnthropic(err)
	}
	if message == nil {
		return "", ErrEmptyResponse
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

func (b *AnthropicBackend) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := b.client.Messages.NewStreaming(ctx, b.params(req))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
			if !ok {
				continue
			}
			text, ok := delta.Delta.AsAny().(anthropic.TextDelta)
			if !ok || text.Text == "" {
				continue
			}
			if !yield(text.Text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", classifyAnthropic(err))
		}
	}
}

func classifyAnthropic(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return statusError(ProviderAnthropic, apiErr.StatusCode, err)
	}
	return fmt.Errorf("%s: %w", ProviderAnthropic, err)
}
