package kernel

import (
	"bytes"
	"fmt"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storepilot/pkg/autopilot"
	"storepilot/pkg/clock"
	"storepilot/pkg/config"
	"storepilot/pkg/eventlog"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Dir = t.TempDir()
	cfg.Agents.Pace = -1
	cfg.Agents.ThinkDelay = -1
	return cfg
}

func newTestKernel(t *testing.T, cfg *config.Config, opts ...Option) *Kernel {
	t.Helper()
	opts = append([]Option{WithClock(clock.NewFake(time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)))}, opts...)
	k, err := NewKernel(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = k.Close() })
	return k
}

func TestKernelWiresServices(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutoPilot.Enabled = true
	cfg.AutoPilot.Config = autopilot.Config{
		Mode:        autopilot.ModeAggressive,
		Niches:      []string{"kitchen"},
		AutoPublish: true,
	}
	k := newTestKernel(t, cfg)
	require.NotNil(t, k.Store)
	require.NotNil(t, k.EventLog)
	require.NotNil(t, k.Metrics)

	require.NoError(t, k.Start())
	assert.Error(t, k.Start(), "second start")
	assert.True(t, k.Orchestrator.AutoPilot().Running())

	require.NoError(t, k.Store.Flush())
	summary, err := k.Store.Summary()
	require.NoError(t, err)
	assert.Equal(t, len(k.Orchestrator.AutoPilot().Decisions(0)), total(summary.Created))

	assert.Positive(t, k.EventLog.Written())
	records, err := eventlog.ReadEvents(k.EventLog.CurrentFile())
	require.NoError(t, err)
	assert.Len(t, records, k.EventLog.Written())

	var buf bytes.Buffer
	require.NoError(t, k.Metrics.WriteText(&buf))
	assert.Contains(t, buf.String(), "storepilot_events_total")

	require.NoError(t, k.Stop())
	require.NoError(t, k.Stop())
	assert.False(t, k.Orchestrator.AutoPilot().Running())
}

func total(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func TestKernelStorageCanBeDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.DisableAudit = true
	cfg.Storage.DisableEventLog = true
	cfg.Metrics.Disabled = true
	k := newTestKernel(t, cfg)

	assert.Nil(t, k.Store)
	assert.Nil(t, k.EventLog)
	assert.Nil(t, k.Metrics)
	_, err := os.Stat(cfg.DatabasePath())
	assert.True(t, os.IsNotExist(err))
}

func TestKernelRequiresBackendKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := testConfig(t)
	cfg.Copywriter.Backend = "anthropic"

	_, err := NewKernel(context.Background(), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrSecretNotFound)
}

func TestApplyAutoPilotConfig(t *testing.T) {
	k := newTestKernel(t, testConfig(t))
	ctx := context.Background()

	err := k.ApplyAutoPilotConfig(ctx, autopilot.Config{Mode: autopilot.ModeBalanced})
	assert.ErrorIs(t, err, autopilot.ErrInvalidConfig)

	require.NoError(t, k.ApplyAutoPilotConfig(ctx, autopilot.Config{Mode: autopilot.ModeBalanced, Niches: []string{"pets"}}))
	assert.False(t, k.Orchestrator.AutoPilot().Running(), "a stopped autopilot stays stopped")

	_, err = k.Orchestrator.StartAutoPilot(ctx, autopilot.Config{Mode: autopilot.ModeBalanced, Niches: []string{"pets"}})
	require.NoError(t, err)
	require.NoError(t, k.ApplyAutoPilotConfig(ctx, autopilot.Config{Mode: autopilot.ModeConservative, Niches: []string{"garden"}}))

	ap := k.Orchestrator.AutoPilot()
	assert.True(t, ap.Running())
	assert.Equal(t, autopilot.ModeConservative, ap.Config().Mode)
	assert.Equal(t, []string{"garden"}, ap.Config().Niches)
}

const reloadYAML = `
agents:
  think_delay: -1ns
  pace: -1ns
storage:
  dir: %q
  disable_event_log: true
  disable_audit: true
autopilot:
  enabled: true
  mode: balanced
  niches: [%s]
`

func writeConfig(t *testing.T, path, dir, niches string) {
	t.Helper()
	data := []byte(fmt.Sprintf(reloadYAML, dir, niches))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestConfigHotReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultConfigFile)
	writeConfig(t, path, dir, "pets")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	k := newTestKernel(t, cfg, WithConfigPath(path))
	require.NoError(t, k.Start())
	ap := k.Orchestrator.AutoPilot()
	require.Equal(t, []string{"pets"}, ap.Config().Niches)

	writeConfig(t, path, dir, "garden, kitchen")
	require.Eventually(t, func() bool {
		return len(ap.Config().Niches) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{"garden", "kitchen"}, ap.Config().Niches)

	// An invalid file leaves the running config alone.
	writeConfig(t, path, dir, "")
	time.Sleep(3 * DefaultReloadDebounce)
	assert.True(t, ap.Running())
	assert.Equal(t, []string{"garden", "kitchen"}, ap.Config().Niches)
}
