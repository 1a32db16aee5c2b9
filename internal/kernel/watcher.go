package kernel

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"storepilot/pkg/config"
	"storepilot/pkg/logx"
)

// DefaultReloadDebounce collapses the burst of events one save produces.
const DefaultReloadDebounce = 200 * time.Millisecond

// ConfigWatcher reloads a config file whenever it changes and hands the
// result to onChange. Files that fail to load are logged and skipped.
type ConfigWatcher struct {
	path     string
	onChange func(*config.Config)
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *logx.Logger

	mu    sync.Mutex
	timer *time.Timer
	once  sync.Once
}

// NewConfigWatcher watches the directory holding path, so editors that
// replace the file by rename are still seen.
func NewConfigWatcher(path string, onChange func(*config.Config)) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify init: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &ConfigWatcher{
		path:     abs,
		onChange: onChange,
		debounce: DefaultReloadDebounce,
		watcher:  w,
		logger:   logx.NewLogger("config-watch"),
	}, nil
}

// Run dispatches reloads until ctx is cancelled or Close is called.
func (cw *ConfigWatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = cw.Close()
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != cw.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cw.schedule(ctx)
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warn("watch error: %v", err)
		}
	}
}

func (cw *ConfigWatcher) schedule(ctx context.Context) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		cw.reload()
	})
}

func (cw *ConfigWatcher) reload() {
	cfg, err := config.Load(cw.path)
	if err != nil {
		cw.logger.Warn("reload of %s failed: %v", cw.path, err)
		return
	}
	cw.logger.Info("reloaded %s", cw.path)
	cw.onChange(cfg)
}

// Close stops watching. It is safe to call more than once.
func (cw *ConfigWatcher) Close() error {
	var err error
	cw.once.Do(func() {
		cw.mu.Lock()
		if cw.timer != nil {
			cw.timer.Stop()
		}
		cw.mu.Unlock()
		err = cw.watcher.Close()
	})
	return err
}
