package translate

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultGeminiFast    = "gemini-2.5-flash"
	defaultGeminiQuality = "gemini-2.5-pro"
)

// implements Backend using Google Gemini
type GeminiBackend struct {
	client *genai.Client
	models Models
}

func NewGeminiBackend(
	ctx context.Context,
	apiKey string,
	models Models,
) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiBackend{
		client: client,
		models: models,
	}, nil
}

func (b *GeminiBackend) model(tier Tier) string {
	return b.models.pick(tier, defaultGeminiFast, defaultGeminiQuality)
}

func geminiRequest(req Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	parts := []*genai.Part{
		genai.NewPartFromText(req.Prompt),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.5),
	}
	return contents, config
}

func (b *GeminiBackend) Complete(ctx context.Context, req Request) (string, error) {
	contents, config := geminiRequest(req)

	result, err := b.client.Models.GenerateContent(ctx, b.model(req.Tier), contents, config)
	if err != nil {
		return "", classifyGemini(err)
	}

	text := geminiText(result)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

func (b *GeminiBackend) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		contents, config := geminiRequest(req)

		stream := b.client.Models.GenerateContentStream(ctx, b.model(req.Tier), contents, config)
		for result, err := range stream {
			if err != nil {
				yield("", classifyGemini(err))
				return
			}
			if text := geminiText(result); text != "" {
				if !yield(text, nil) {
					return
				}
			}
		}
	}
}

// concatenates the text parts of the first candidate that has any
func geminiText(result *genai.GenerateContentResponse) string {
	if result == nil {
		return ""
	}

	var sb strings.Builder
	for _, candidate := range result.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.Text != "" && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
		if sb.Len() > 0 {
			break
		}
	}
	return sb.String()
}

func classifyGemini(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(ProviderGemini, apiErr.Code, err)
	}
	return fmt.Errorf("%s: %w", ProviderGemini, err)
}
