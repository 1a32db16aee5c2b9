// Package copywriter generates listing copy for products. The template
// writer needs no network; the LLM writer drives one of several model
// backends and falls back to another Writer when the backend fails.
package copywriter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"storepilot/pkg/catalog"
	"storepilot/pkg/limiter"
	"storepilot/pkg/logx"
)

// Backend names.
const (
	BackendTemplate  = "template"
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendOllama    = "ollama"
	BackendGoogle    = "google"
)

// ErrUnknownBackend is returned by New for an unrecognized backend name.
var ErrUnknownBackend = errors.New("unknown copywriter backend")

// Writer produces listing copy for one product.
type Writer interface {
	Name() string
	Write(ctx context.Context, p catalog.Product, opts catalog.ContentOptions) (catalog.ListingContent, error)
}

// Completer is a single-prompt text completion backend.
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// Config selects and tunes a backend.
type Config struct {
	Backend   string
	Model     string
	MaxTokens int
	OllamaURL string
	// BaseURL overrides the Anthropic or OpenAI endpoint.
	BaseURL string
	// APIKey is resolved by the caller from the secrets store.
	APIKey string
	// Limits throttle backend calls; calls over the limit use the fallback.
	Limits limiter.Limits
}

// DefaultMaxTokens caps completion length when Config.MaxTokens is unset.
const DefaultMaxTokens = 600

// New builds the Writer described by cfg. Every LLM backend falls back to
// the template writer.
func New(cfg Config) (Writer, error) {
	tmpl := NewTemplateWriter()
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" || backend == BackendTemplate {
		return tmpl, nil
	}

	completer, err := newCompleter(backend, cfg)
	if err != nil {
		return nil, err
	}
	w := NewLLMWriter(completer, cfg.MaxTokens, tmpl)
	if cfg.Limits.Enabled() {
		w.WithLimiter(limiter.New(backend, cfg.Limits, nil))
	}
	return w, nil
}

func newCompleter(backend string, cfg Config) (Completer, error) {
	switch backend {
	case BackendAnthropic:
		return NewAnthropic(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case BackendOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case BackendOllama:
		return NewOllama(cfg.OllamaURL, cfg.Model), nil
	case BackendGoogle:
		return NewGoogle(cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// LLMWriter prompts a Completer and parses its answer into listing copy.
type LLMWriter struct {
	completer Completer
	maxTokens int
	fallback  Writer
	budget    *TokenBudget
	limiter   *limiter.Limiter
	logger    *logx.Logger
}

// NewLLMWriter wraps completer. fallback may be nil.
func NewLLMWriter(completer Completer, maxTokens int, fallback Writer) *LLMWriter {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &LLMWriter{
		completer: completer,
		maxTokens: maxTokens,
		fallback:  fallback,
		budget:    NewTokenBudget(),
		logger:    logx.NewLogger("copywriter:" + completer.Name()),
	}
}

// WithLimiter throttles backend calls through l.
func (w *LLMWriter) WithLimiter(l *limiter.Limiter) *LLMWriter {
	w.limiter = l
	return w
}

// Name returns the backend name.
func (w *LLMWriter) Name() string { return w.completer.Name() }

// Write implements Writer.
func (w *LLMWriter) Write(ctx context.Context, p catalog.Product, opts catalog.ContentOptions) (catalog.ListingContent, error) {
	prompt := w.budget.Fit(BuildPrompt(p, opts), promptTokenLimit)
	logx.Debug(ctx, "copywriter", "prompt for %s is %d tokens", p.ID, w.budget.Count(prompt))

	text, err := w.complete(ctx, prompt)
	if err == nil {
		content, perr := ParseCompletion(text)
		if perr == nil {
			content.ProductID = p.ID
			content.Style = styleOrDefault(opts.Style)
			content.Backend = w.completer.Name()
			return content, nil
		}
		err = perr
	}

	if w.fallback == nil || ctx.Err() != nil {
		return catalog.ListingContent{}, fmt.Errorf("failed to generate copy for %s with %s: %w", p.ID, w.completer.Name(), err)
	}
	w.logger.Warn("%s failed for %s, falling back to %s: %v", w.completer.Name(), p.ID, w.fallback.Name(), err)
	return w.fallback.Write(ctx, p, opts)
}

func (w *LLMWriter) complete(ctx context.Context, prompt string) (string, error) {
	if w.limiter == nil {
		return w.completer.Complete(ctx, prompt, w.maxTokens)
	}
	if err := w.limiter.Acquire(); err != nil {
		return "", err
	}
	defer w.limiter.Release()
	if err := w.limiter.Reserve(w.budget.Count(prompt) + w.maxTokens); err != nil {
		return "", err
	}
	return w.completer.Complete(ctx, prompt, w.maxTokens)
}

const promptTokenLimit = 1500

// BuildPrompt renders the instruction sent to LLM backends.
func BuildPrompt(p catalog.Product, opts catalog.ContentOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write an e-commerce product listing in a %s tone", styleOrDefault(opts.Style))
	if opts.Language != "" {
		fmt.Fprintf(&b, " in %s", opts.Language)
	}
	b.WriteString(".\n")
	b.WriteString("Answer with the title on the first line, then a blank line, then a description paragraph, ")
	b.WriteString("then up to five bullet lines starting with \"- \", then a line \"Tags: \" followed by comma-separated tags.\n\n")
	fmt.Fprintf(&b, "Product: %s\n", p.Title)
	if p.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", p.Category)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "Notes: %s\n", p.Description)
	}
	keywords := append(append([]string(nil), p.Tags...), opts.Keywords...)
	if len(keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(keywords, ", "))
	}
	return b.String()
}

// ParseCompletion splits model output into title, description, bullets and tags.
func ParseCompletion(text string) (catalog.ListingContent, error) {
	var c catalog.ListingContent
	var desc []string
	for _, raw := range strings.Split(strings.TrimSpace(text), "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			continue
		case c.Title == "":
			c.Title = strings.Trim(strings.TrimPrefix(line, "Title:"), " *#\"")
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			c.Bullets = append(c.Bullets, strings.TrimSpace(line[2:]))
		case strings.HasPrefix(strings.ToLower(line), "tags:"):
			for _, tag := range strings.Split(line[len("tags:"):], ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					c.Tags = append(c.Tags, tag)
				}
			}
		default:
			desc = append(desc, line)
		}
	}
	if c.Title == "" {
		return c, errors.New("empty completion")
	}
	c.Description = strings.Join(desc, " ")
	return c, nil
}

func styleOrDefault(s catalog.ContentStyle) catalog.ContentStyle {
	if s == "" {
		return catalog.StyleProfessional
	}
	return s
}
