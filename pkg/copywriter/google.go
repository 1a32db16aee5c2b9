package copywriter

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// DefaultGoogleModel is used when no model is configured.
const DefaultGoogleModel = "gemini-2.5-flash"

// Google completes prompts with the Gemini API. The SDK client needs a
// context to build, so it is created on first use.
type Google struct {
	apiKey string
	model  string

	mu     sync.Mutex
	client *genai.Client
}

// NewGoogle records the credentials. The key is required.
func NewGoogle(apiKey, model string) (*Google, error) {
	if apiKey == "" {
		return nil, errors.New("google backend needs GEMINI_API_KEY")
	}
	if model == "" {
		model = DefaultGoogleModel
	}
	return &Google{apiKey: apiKey, model: model}, nil
}

// Name implements Completer.
func (*Google) Name() string { return BackendGoogle }

func (g *Google) getClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	g.client = client
	return client, nil
}

// Complete implements Completer.
func (g *Google) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	client, err := g.getClient(ctx)
	if err != nil {
		return "", err
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: prompt}},
	}}
	//nolint:gosec // maxTokens is bounded by config validation
	result, err := client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}
	if result == nil {
		return "", errors.New("empty response from gemini")
	}
	return result.Text(), nil
}
