package copywriter

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI completes prompts with the Responses API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a client. The key is required; an empty baseURL means
// the public endpoint.
func NewOpenAI(apiKey, model, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai backend needs OPENAI_API_KEY")
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

// Name implements Completer.
func (*OpenAI) Name() string { return BackendOpenAI }

// Complete implements Completer.
func (o *OpenAI) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := o.client.Responses.New(ctx, responses.ResponseNewParams{
		Model:           o.model,
		MaxOutputTokens: openai.Int(int64(maxTokens)),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(prompt)},
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}
	text := resp.OutputText()
	if text == "" {
		return "", errors.New("empty response from openai")
	}
	return text, nil
}
