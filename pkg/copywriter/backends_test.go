package copywriter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storepilot/pkg/catalog"
	"storepilot/pkg/testkit"
)

func TestAnthropicAgainstMock(t *testing.T) {
	srv := testkit.MockAnthropicServer()
	defer srv.Close()

	w, err := New(Config{Backend: BackendAnthropic, APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	c, err := w.Write(context.Background(), lamp(), catalog.ContentOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Mock Listing", c.Title)
	assert.Equal(t, BackendAnthropic, c.Backend)
	assert.Equal(t, []string{"mock", "test"}, c.Tags)
}

func TestAnthropicFailureFallsBackToTemplate(t *testing.T) {
	srv := testkit.MockAnthropicServer()
	defer srv.Close()

	w, err := New(Config{Backend: BackendAnthropic, APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	p := lamp()
	p.Description = "please fail"
	c, err := w.Write(context.Background(), p, catalog.ContentOptions{})
	require.NoError(t, err)
	assert.Equal(t, BackendTemplate, c.Backend)
}

func TestOpenAIAgainstMock(t *testing.T) {
	srv := testkit.MockOpenAIServer()
	defer srv.Close()

	oc, err := NewOpenAI("test-key", "", srv.URL+"/")
	require.NoError(t, err)
	text, err := oc.Complete(context.Background(), "Product: lamp", 100)
	require.NoError(t, err)
	assert.Equal(t, testkit.MockListingText, text)
}

func TestOllamaAgainstMock(t *testing.T) {
	srv := testkit.MockOllamaServer()
	defer srv.Close()

	text, err := NewOllama(srv.URL, "").Complete(context.Background(), "Product: lamp", 100)
	require.NoError(t, err)
	assert.Equal(t, testkit.MockListingText, text)
}
