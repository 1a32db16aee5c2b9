package copywriter

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storepilot/pkg/catalog"
	"storepilot/pkg/limiter"
)

type fakeCompleter struct {
	reply   string
	err     error
	prompts []string
}

func (f *fakeCompleter) Name() string { return "fake" }

func (f *fakeCompleter) Complete(_ context.Context, prompt string, _ int) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func lamp() catalog.Product {
	return catalog.Product{ID: "p1", Title: "Desk Lamp", Category: "Home", Tags: []string{"Lighting", "lighting"}}
}

func TestTemplateWriter(t *testing.T) {
	w := NewTemplateWriter()
	c, err := w.Write(context.Background(), lamp(), catalog.ContentOptions{Style: catalog.StyleLuxury})
	require.NoError(t, err)

	assert.Equal(t, "p1", c.ProductID)
	assert.Equal(t, "Premium Desk Lamp", c.Title)
	assert.Contains(t, c.Description, "Desk Lamp")
	assert.Equal(t, []string{"lighting"}, c.Tags)
	assert.Equal(t, catalog.StyleLuxury, c.Style)
	assert.NotEmpty(t, c.Bullets)

	_, err = w.Write(context.Background(), catalog.Product{ID: "x"}, catalog.ContentOptions{})
	assert.Error(t, err)
}

func TestLLMWriterParsesCompletion(t *testing.T) {
	fc := &fakeCompleter{reply: "Title: Glow Desk Lamp\n\nA warm lamp for late nights.\nDimmable too.\n- USB-C powered\n- Three color modes\nTags: lamp, desk, office"}
	w := NewLLMWriter(fc, 0, nil)

	c, err := w.Write(context.Background(), lamp(), catalog.ContentOptions{Language: "English"})
	require.NoError(t, err)
	assert.Equal(t, "Glow Desk Lamp", c.Title)
	assert.Equal(t, "A warm lamp for late nights. Dimmable too.", c.Description)
	assert.Equal(t, []string{"USB-C powered", "Three color modes"}, c.Bullets)
	assert.Equal(t, []string{"lamp", "desk", "office"}, c.Tags)
	assert.Equal(t, "fake", c.Backend)
	assert.Equal(t, catalog.StyleProfessional, c.Style)

	require.Len(t, fc.prompts, 1)
	assert.Contains(t, fc.prompts[0], "Product: Desk Lamp")
	assert.Contains(t, fc.prompts[0], "in English")
}

func TestLLMWriterFallsBack(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("rate limited")}
	w := NewLLMWriter(fc, 100, NewTemplateWriter())

	c, err := w.Write(context.Background(), lamp(), catalog.ContentOptions{})
	require.NoError(t, err)
	assert.Equal(t, BackendTemplate, c.Backend)

	noFallback := NewLLMWriter(&fakeCompleter{reply: "   "}, 100, nil)
	_, err = noFallback.Write(context.Background(), lamp(), catalog.ContentOptions{})
	assert.ErrorContains(t, err, "empty completion")
}

func TestLLMWriterRespectsLimiter(t *testing.T) {
	reply := "Title: Glow Desk Lamp\n\nA warm lamp.\nTags: lamp"
	fc := &fakeCompleter{reply: reply}
	lim := limiter.New("fake", limiter.Limits{TokensPerMinute: 5000}, nil)
	w := NewLLMWriter(fc, 3000, NewTemplateWriter()).WithLimiter(lim)

	c, err := w.Write(context.Background(), lamp(), catalog.ContentOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fake", c.Backend)

	// The bucket cannot cover a second call this minute.
	c, err = w.Write(context.Background(), lamp(), catalog.ContentOptions{})
	require.NoError(t, err)
	assert.Equal(t, BackendTemplate, c.Backend)
	assert.Len(t, fc.prompts, 1)

	_, active := lim.Status()
	assert.Zero(t, active)
}

func TestNewSelectsBackend(t *testing.T) {
	w, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, BackendTemplate, w.Name())

	w, err = New(Config{Backend: "ollama", OllamaURL: "http://127.0.0.1:1"})
	require.NoError(t, err)
	assert.Equal(t, BackendOllama, w.Name())

	_, err = New(Config{Backend: "anthropic"})
	assert.Error(t, err)
	_, err = New(Config{Backend: "openai"})
	assert.Error(t, err)
	_, err = New(Config{Backend: "google"})
	assert.Error(t, err)

	w, err = New(Config{Backend: "Anthropic", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, BackendAnthropic, w.Name())

	_, err = New(Config{Backend: "carrier-pigeon"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestTokenBudget(t *testing.T) {
	b := NewTokenBudget()
	assert.Positive(t, b.Count("hello world, this is a listing"))

	long := strings.Repeat("lamp ", 500)
	fitted := b.Fit(long, 50)
	assert.LessOrEqual(t, b.Count(fitted), 50)
	assert.NotEmpty(t, fitted)
	assert.Equal(t, "short", b.Fit("short", 50))
}
