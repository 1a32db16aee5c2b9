package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storepilot/pkg/autopilot"
	"storepilot/pkg/catalog"
	"storepilot/pkg/copywriter"
)

const sampleYAML = `
agents:
  task_timeout: 45s
  think_delay: -1ns
autopilot:
  enabled: true
  mode: aggressive
  niches: [kitchen, "${STOREPILOT_TEST_NICHE}"]
  max_products_per_day: 4
  min_profit_margin: 30
  auto_publish: true
  content_style: casual
  exclude_keywords: [vape]
storage:
  dir: /var/lib/storepilot
webui:
  enabled: true
  port: 9090
copywriter:
  backend: Anthropic
  model: claude-sonnet-4-5
`

func TestParseFull(t *testing.T) {
	t.Setenv("STOREPILOT_TEST_NICHE", "garden")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Agents.TaskTimeout)
	assert.Negative(t, cfg.Agents.ThinkDelay)

	ap := cfg.AutoPilot
	assert.True(t, ap.Enabled)
	assert.Equal(t, autopilot.ModeAggressive, ap.Mode)
	assert.Equal(t, []string{"kitchen", "garden"}, ap.Niches)
	require.NotNil(t, ap.MaxProductsPerDay)
	assert.Equal(t, 4, *ap.MaxProductsPerDay)
	require.NotNil(t, ap.MinProfitMargin)
	assert.Equal(t, 30.0, *ap.MinProfitMargin)
	assert.True(t, ap.AutoPublish)
	assert.False(t, ap.AutoPricing)
	assert.Equal(t, catalog.StyleCasual, ap.ContentStyle)
	assert.Equal(t, []string{"vape"}, ap.ExcludeKeywords)

	assert.Equal(t, "/var/lib/storepilot/storepilot.db", cfg.DatabasePath())
	assert.Equal(t, "/var/lib/storepilot/events", cfg.EventLogPath())
	assert.Equal(t, "localhost:9090", cfg.WebUI.Addr())
	assert.Equal(t, copywriter.BackendAnthropic, cfg.Copywriter.Backend)
	assert.Equal(t, copywriter.DefaultMaxTokens, cfg.Copywriter.MaxTokens)
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultTaskTimeout, cfg.Agents.TaskTimeout)
	assert.Equal(t, autopilot.ModeBalanced, cfg.AutoPilot.Mode)
	assert.False(t, cfg.AutoPilot.Enabled)
	assert.Equal(t, filepath.Join(DefaultStorageDir, DefaultDatabaseFile), cfg.DatabasePath())
	assert.Equal(t, DefaultWebUIPort, cfg.WebUI.Port)
	assert.Equal(t, DefaultNamespace, cfg.Metrics.Namespace)
	assert.Equal(t, copywriter.BackendTemplate, cfg.Copywriter.Backend)
	assert.Equal(t, DefaultOllamaURL, cfg.Copywriter.OllamaURL)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STOREPILOT_WEBUI_PORT", "7070")
	t.Setenv("STOREPILOT_WEBUI_ENABLED", "true")
	t.Setenv("STOREPILOT_AGENTS_PACE", "5ms")
	t.Setenv("STOREPILOT_AUTOPILOT_MODE", "conservative")
	t.Setenv("STOREPILOT_AUTOPILOT_NICHES", "toys, games ,")
	t.Setenv("STOREPILOT_AUTOPILOT_MAX_PRODUCTS_PER_DAY", "9")
	t.Setenv("STOREPILOT_COPYWRITER_BACKEND", "ollama")

	cfg, err := Parse([]byte("webui:\n  port: 9090\n"))
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.WebUI.Port)
	assert.True(t, cfg.WebUI.Enabled)
	assert.Equal(t, 5*time.Millisecond, cfg.Agents.Pace)
	assert.Equal(t, autopilot.ModeConservative, cfg.AutoPilot.Mode)
	assert.Equal(t, []string{"toys", "games"}, cfg.AutoPilot.Niches)
	require.NotNil(t, cfg.AutoPilot.MaxProductsPerDay)
	assert.Equal(t, 9, *cfg.AutoPilot.MaxProductsPerDay)
	assert.Equal(t, copywriter.BackendOllama, cfg.Copywriter.Backend)
}

func TestBadEnvOverrideIsIgnored(t *testing.T) {
	t.Setenv("STOREPILOT_WEBUI_PORT", "eighty")
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultWebUIPort, cfg.WebUI.Port)
}

func TestValidation(t *testing.T) {
	for name, doc := range map[string]string{
		"port":            "webui:\n  port: 70000\n",
		"backend":         "copywriter:\n  backend: parrot\n",
		"timeout":         "agents:\n  task_timeout: -1s\n",
		"autopilot niche": "autopilot:\n  enabled: true\n",
		"autopilot cap":   "autopilot:\n  enabled: true\n  niches: [a]\n  max_products_per_day: 0\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}

	_, err := Parse([]byte("autopilot:\n  niches: []\n"))
	assert.NoError(t, err, "disabled autopilot is not validated")

	_, err = Parse([]byte("{not yaml"))
	assert.ErrorContains(t, err, "failed to parse config YAML")
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	cfg := Default()
	cfg.AutoPilot.Niches = []string{"books"}
	cfg.AutoPilot.MinProfitMargin = autopilot.Float(22)
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestCopywriterSettings(t *testing.T) {
	cfg := Default()
	cw, err := cfg.CopywriterSettings(nil)
	require.NoError(t, err)
	assert.Equal(t, copywriter.BackendTemplate, cw.Backend)
	assert.Empty(t, cw.APIKey)

	cfg.Copywriter.Backend = copywriter.BackendOpenAI
	t.Setenv("OPENAI_API_KEY", "")
	_, err = cfg.CopywriterSettings(&Secrets{})
	assert.ErrorIs(t, err, ErrSecretNotFound)

	cw, err = cfg.CopywriterSettings(NewSecrets(map[string]string{"OPENAI_API_KEY": "sk-1"}))
	require.NoError(t, err)
	assert.Equal(t, "sk-1", cw.APIKey)
	assert.Equal(t, copywriter.DefaultMaxTokens, cw.MaxTokens)
}
