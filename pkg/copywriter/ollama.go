package copywriter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
)

const (
	// DefaultOllamaURL is the local Ollama daemon.
	DefaultOllamaURL = "http://localhost:11434"
	// DefaultOllamaModel is used when no model is configured.
	DefaultOllamaModel = "llama3.1"
)

// Ollama completes prompts against a local Ollama server.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama creates a client. An invalid host falls back to DefaultOllamaURL.
func NewOllama(hostURL, model string) *Ollama {
	if hostURL == "" {
		hostURL = DefaultOllamaURL
	}
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Host == "" {
		parsed, _ = url.Parse(DefaultOllamaURL)
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}
}

// Name implements Completer.
func (*Ollama) Name() string { return BackendOllama }

// Complete implements Completer.
func (o *Ollama) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
		Options: map[string]any{
			"num_predict": maxTokens,
		},
	}

	var response api.ChatResponse
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama request failed: %w", err)
	}
	return response.Message.Content, nil
}
