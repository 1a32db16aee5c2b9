// Package kernel is the composition root. It builds the orchestrator and
// every service around it from one config and owns their lifecycle.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"storepilot/pkg/autopilot"
	"storepilot/pkg/clock"
	"storepilot/pkg/config"
	"storepilot/pkg/copywriter"
	"storepilot/pkg/eventlog"
	"storepilot/pkg/logx"
	"storepilot/pkg/metrics"
	"storepilot/pkg/orchestrator"
	"storepilot/pkg/persistence"
	"storepilot/pkg/webui"
)

// Kernel owns the orchestrator and its supporting services.
type Kernel struct {
	ctx    context.Context //nolint:containedctx // Kernel lifecycle context
	cancel context.CancelFunc

	Config       *config.Config
	Secrets      *config.Secrets
	Logger       *logx.Logger
	SessionID    string
	Orchestrator *orchestrator.Orchestrator
	Store        *persistence.Store
	EventLog     *eventlog.Writer
	Metrics      *metrics.Recorder
	WebServer    *webui.Server

	configPath string
	clock      clock.Clock
	watcher    *ConfigWatcher
	unsubs     []func()

	mu      sync.Mutex
	running bool
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithSecrets supplies unlocked secrets; the default reads the environment only.
func WithSecrets(s *config.Secrets) Option { return func(k *Kernel) { k.Secrets = s } }

// WithConfigPath enables hot reload of the AutoPilot section from path.
func WithConfigPath(path string) Option { return func(k *Kernel) { k.configPath = path } }

// WithClock drives the AutoPilot timers from c.
func WithClock(c clock.Clock) Option { return func(k *Kernel) { k.clock = c } }

// NewKernel builds every service. Nothing runs until Start.
func NewKernel(parent context.Context, cfg *config.Config, opts ...Option) (*Kernel, error) {
	ctx, cancel := context.WithCancel(parent)
	k := &Kernel{
		ctx:       ctx,
		cancel:    cancel,
		Config:    cfg,
		Logger:    logx.NewLogger("kernel"),
		SessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.Secrets == nil {
		k.Secrets = config.NewSecrets(nil)
	}

	if err := k.initializeServices(); err != nil {
		k.teardown()
		cancel()
		return nil, fmt.Errorf("failed to initialize kernel services: %w", err)
	}
	return k, nil
}

func (k *Kernel) initializeServices() error {
	cwCfg, err := k.Config.CopywriterSettings(k.Secrets)
	if err != nil {
		return err
	}
	writer, err := copywriter.New(cwCfg)
	if err != nil {
		return fmt.Errorf("failed to create copywriter: %w", err)
	}

	if !k.Config.Storage.DisableAudit || !k.Config.Storage.DisableEventLog {
		if err := os.MkdirAll(k.Config.Storage.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}
	if !k.Config.Storage.DisableAudit {
		k.Store, err = persistence.Open(k.Config.DatabasePath(), k.SessionID)
		if err != nil {
			return fmt.Errorf("failed to open audit database: %w", err)
		}
		k.Logger.Info("Decision audit at %s (session %s)", k.Config.DatabasePath(), k.SessionID)
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithWriter(writer),
		orchestrator.WithTaskTimeout(k.Config.Agents.TaskTimeout),
		orchestrator.WithThinkDelay(k.Config.Agents.ThinkDelay),
		orchestrator.WithPace(k.Config.Agents.Pace),
	}
	if k.clock != nil {
		orchOpts = append(orchOpts, orchestrator.WithClock(k.clock))
	}
	if k.Store != nil {
		orchOpts = append(orchOpts, orchestrator.WithDecisionSink(k.Store))
	}
	k.Orchestrator, err = orchestrator.New(orchOpts...)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	if !k.Config.Storage.DisableEventLog {
		k.EventLog, err = eventlog.NewWriter(k.Config.EventLogPath())
		if err != nil {
			return fmt.Errorf("failed to create event log: %w", err)
		}
		k.unsubs = append(k.unsubs, k.Orchestrator.On(k.EventLog.Handler()))
	}

	var webOpts []webui.Option
	if !k.Config.Metrics.Disabled {
		k.Metrics = metrics.NewRecorder(k.Config.Metrics.Namespace)
		k.unsubs = append(k.unsubs, k.Orchestrator.On(k.Metrics.Observe))
		webOpts = append(webOpts, webui.WithMetricsHandler(k.Metrics.Handler()))
	}
	webOpts = append(webOpts, webui.WithSecrets(k.Secrets))
	if pw, err := k.Secrets.Get(WebUIPasswordSecret); err == nil {
		webOpts = append(webOpts, webui.WithPassword(pw))
	}
	k.WebServer = webui.NewServer(k.Orchestrator, k.Orchestrator.AutoPilot(), webOpts...)

	k.Logger.Info("Kernel services initialized (copywriter: %s)", writer.Name())
	return nil
}

// WebUIPasswordSecret holds the optional HTTP basic auth password.
const WebUIPasswordSecret = "STOREPILOT_WEBUI_PASSWORD"

// Context is cancelled by Stop.
func (k *Kernel) Context() context.Context { return k.ctx }

// Start launches AutoPilot when enabled, the config watcher when a config
// path was given, and the web UI when enabled.
func (k *Kernel) Start() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.running {
		return errors.New("kernel already running")
	}

	if k.configPath != "" {
		w, err := NewConfigWatcher(k.configPath, k.onConfigChange)
		if err != nil {
			k.Logger.Warn("Config hot reload disabled: %v", err)
		} else {
			k.watcher = w
			go w.Run(k.ctx)
		}
	}

	if k.Config.AutoPilot.Enabled {
		if _, err := k.Orchestrator.StartAutoPilot(k.ctx, k.Config.AutoPilot.Config); err != nil {
			return fmt.Errorf("failed to start autopilot: %w", err)
		}
	}

	if k.Config.WebUI.Enabled {
		if err := k.WebServer.StartServer(k.ctx, k.Config.WebUI.Addr()); err != nil {
			return fmt.Errorf("failed to start web server: %w", err)
		}
	}

	k.running = true
	return nil
}

// ApplyAutoPilotConfig restarts a running AutoPilot with cfg. An invalid
// cfg is rejected and the current run continues.
func (k *Kernel) ApplyAutoPilotConfig(ctx context.Context, cfg autopilot.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ap := k.Orchestrator.AutoPilot()
	if !ap.Running() {
		return nil
	}
	k.Orchestrator.StopAutoPilot()
	ap.Wait()
	if _, err := k.Orchestrator.StartAutoPilot(ctx, cfg); err != nil {
		return fmt.Errorf("failed to restart autopilot: %w", err)
	}
	k.Logger.Info("AutoPilot restarted in %s mode for %v", cfg.Mode, cfg.Niches)
	return nil
}

func (k *Kernel) onConfigChange(cfg *config.Config) {
	if err := k.ApplyAutoPilotConfig(k.ctx, cfg.AutoPilot.Config); err != nil {
		k.Logger.Warn("Ignoring reloaded autopilot config: %v", err)
	}
}

// Stop shuts every service down. Producers stop before the audit queue is
// drained and the database closed.
func (k *Kernel) Stop() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.running {
		return nil
	}
	k.Logger.Info("Stopping kernel services...")
	k.cancel()
	k.running = false
	return k.teardown()
}

// Close stops a running kernel or releases the services of one that was
// never started.
func (k *Kernel) Close() error {
	k.mu.Lock()
	running := k.running
	k.mu.Unlock()
	if running {
		return k.Stop()
	}
	k.cancel()
	return k.teardown()
}

func (k *Kernel) teardown() error {
	var errs []error
	if k.watcher != nil {
		errs = append(errs, k.watcher.Close())
		k.watcher = nil
	}
	if k.Orchestrator != nil {
		k.Orchestrator.Close()
	}
	for _, u := range k.unsubs {
		u()
	}
	k.unsubs = nil
	if k.WebServer != nil {
		k.WebServer.Close()
	}
	if k.EventLog != nil {
		errs = append(errs, k.EventLog.Close())
	}
	if k.Store != nil {
		errs = append(errs, k.Store.Close())
	}
	k.Logger.Info("Kernel services stopped")
	return errors.Join(errs...)
}
