package translate

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	defaultOpenAIFast    = "gpt-5-mini"
	defaultOpenAIQuality = "gpt-5"
)

// implements Backend using OpenAI Chat Completions
type OpenAIBackend struct {
	client openai.Client
	models Models
}

func NewOpenAIBackend(apiKey string, models Models) *OpenAIBackend {
	return &OpenAIBackend{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
		models: models,
	}
}

func (b *OpenAIBackend) params(req Request) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(req.Prompt),
		},
		Model: b.models.pick(req.Tier, defaultOpenAIFast, defaultOpenAIQuality),
	}
}

func (b *OpenAIBackend) Complete(ctx context.Context, req Request) (string, error) {
	completion, err := b.client.Chat.Completions.New(ctx, b.params(req))
	if err != nil {
		return "", classifyOpenAI(err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	text := completion.Choices[0].Message.Content
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (b *OpenAIBackend) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := b.client.Chat.Completions.NewStreaming(ctx, b.params(req))
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if text := chunk.Choices[0].Delta.Content; text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			yield("", classifyOpenAI(err))
		}
	}
}

func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return statusError(ProviderOpenAI, apiErr.StatusCode, err)
	}
	return fmt.Errorf("%s: %w", ProviderOpenAI, err)
}
