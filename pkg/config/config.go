// Package config loads storepilot.yaml, applies defaults and STOREPILOT_*
// environment overrides, validates the result and resolves API keys from
// the encrypted secrets file or the environment.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"storepilot/pkg/autopilot"
	"storepilot/pkg/copywriter"
	"storepilot/pkg/limiter"
	"storepilot/pkg/logx"
)

// File and directory defaults.
const (
	DefaultConfigFile   = "storepilot.yaml"
	DefaultStorageDir   = ".storepilot"
	DefaultDatabaseFile = "storepilot.db"
	DefaultEventLogDir  = "events"
	DefaultWebUIHost    = "localhost"
	DefaultWebUIPort    = 8080
	DefaultNamespace    = "storepilot"
	DefaultOllamaURL    = "http://localhost:11434"
	DefaultTaskTimeout  = 2 * time.Minute
	EnvPrefix           = "STOREPILOT_"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root of storepilot.yaml.
type Config struct {
	Agents     AgentsConfig     `yaml:"agents"`
	AutoPilot  AutoPilotConfig  `yaml:"autopilot"`
	Storage    StorageConfig    `yaml:"storage"`
	WebUI      WebUIConfig      `yaml:"webui"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Copywriter CopywriterConfig `yaml:"copywriter"`
}

// AgentsConfig tunes every agent.
type AgentsConfig struct {
	// TaskTimeout bounds one agent task; zero disables it.
	TaskTimeout time.Duration `yaml:"task_timeout"`
	// ThinkDelay is the pacing pause; negative disables it.
	ThinkDelay time.Duration `yaml:"think_delay"`
	// Pace is the simulated external call latency; negative disables it.
	Pace time.Duration `yaml:"pace"`
}

// AutoPilotConfig wraps the controller settings.
type AutoPilotConfig struct {
	// Enabled starts AutoPilot with the process.
	Enabled          bool `yaml:"enabled"`
	autopilot.Config `yaml:",inline"`
}

// StorageConfig places the on-disk state.
type StorageConfig struct {
	Dir          string `yaml:"dir"`
	DatabaseFile string `yaml:"database_file"`
	EventLogDir  string `yaml:"event_log_dir"`
	// DisableEventLog turns the JSONL trail off.
	DisableEventLog bool `yaml:"disable_event_log"`
	// DisableAudit turns the SQLite decision audit off.
	DisableAudit bool `yaml:"disable_audit"`
}

// WebUIConfig configures the HTTP API.
type WebUIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns host:port.
func (w WebUIConfig) Addr() string { return fmt.Sprintf("%s:%d", w.Host, w.Port) }

// MetricsConfig configures the Prometheus recorder.
type MetricsConfig struct {
	Disabled  bool   `yaml:"disabled"`
	Namespace string `yaml:"namespace"`
}

// CopywriterConfig selects the listing copy backend.
type CopywriterConfig struct {
	Backend   string `yaml:"backend"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	OllamaURL string `yaml:"ollama_url"`
	BaseURL   string `yaml:"base_url"`
	// TokensPerMinute and MaxConcurrent throttle the backend; zero is unlimited.
	TokensPerMinute int `yaml:"tokens_per_minute"`
	MaxConcurrent   int `yaml:"max_concurrent"`
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	applyDefaults(c)
	return c
}

// DatabasePath is where the decision audit lives.
func (c *Config) DatabasePath() string {
	return c.storagePath(c.Storage.DatabaseFile)
}

// EventLogPath is the directory of the JSONL event trail.
func (c *Config) EventLogPath() string {
	return c.storagePath(c.Storage.EventLogDir)
}

func (c *Config) storagePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Storage.Dir, p)
}

// APIKeyNames maps each LLM backend to the secret holding its key.
//
//nolint:gochecknoglobals
var APIKeyNames = map[string]string{
	copywriter.BackendAnthropic: "ANTHROPIC_API_KEY",
	copywriter.BackendOpenAI:    "OPENAI_API_KEY",
	copywriter.BackendGoogle:    "GEMINI_API_KEY",
}

// CopywriterSettings resolves the backend config, reading the API key from
// secrets. A missing key is an error for the backends that need one.
func (c *Config) CopywriterSettings(secrets *Secrets) (copywriter.Config, error) {
	cw := copywriter.Config{
		Backend:   c.Copywriter.Backend,
		Model:     c.Copywriter.Model,
		MaxTokens: c.Copywriter.MaxTokens,
		OllamaURL: c.Copywriter.OllamaURL,
		BaseURL:   c.Copywriter.BaseURL,
		Limits: limiter.Limits{
			TokensPerMinute: c.Copywriter.TokensPerMinute,
			MaxConcurrent:   c.Copywriter.MaxConcurrent,
		},
	}
	name, ok := APIKeyNames[c.Copywriter.Backend]
	if !ok {
		return cw, nil
	}
	key, err := secrets.Get(name)
	if err != nil {
		return cw, fmt.Errorf("copywriter backend %s: %w", c.Copywriter.Backend, err)
	}
	cw.APIKey = key
	return cw, nil
}

//nolint:gochecknoglobals
var validBackends = map[string]bool{
	copywriter.BackendTemplate:  true,
	copywriter.BackendAnthropic: true,
	copywriter.BackendOpenAI:    true,
	copywriter.BackendOllama:    true,
	copywriter.BackendGoogle:    true,
}

// Validate checks the loaded values.
func (c *Config) Validate() error {
	var problems []string
	if c.Agents.TaskTimeout < 0 {
		problems = append(problems, "agents.task_timeout must not be negative")
	}
	if c.WebUI.Port < 1 || c.WebUI.Port > 65535 {
		problems = append(problems, fmt.Sprintf("webui.port %d is out of range", c.WebUI.Port))
	}
	if !validBackends[c.Copywriter.Backend] {
		problems = append(problems, fmt.Sprintf("copywriter.backend %q is not one of template, anthropic, openai, ollama, google", c.Copywriter.Backend))
	}
	if c.Copywriter.MaxTokens < 0 {
		problems = append(problems, "copywriter.max_tokens must not be negative")
	}
	if c.Copywriter.TokensPerMinute < 0 || c.Copywriter.MaxConcurrent < 0 {
		problems = append(problems, "copywriter limits must not be negative")
	}
	if strings.TrimSpace(c.Storage.Dir) == "" {
		problems = append(problems, "storage.dir is required")
	}
	if c.AutoPilot.Enabled {
		if err := c.AutoPilot.Config.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func applyDefaults(c *Config) {
	if c.Agents.TaskTimeout == 0 {
		c.Agents.TaskTimeout = DefaultTaskTimeout
	}
	if c.AutoPilot.Mode == "" {
		c.AutoPilot.Mode = autopilot.ModeBalanced
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = DefaultStorageDir
	}
	if c.Storage.DatabaseFile == "" {
		c.Storage.DatabaseFile = DefaultDatabaseFile
	}
	if c.Storage.EventLogDir == "" {
		c.Storage.EventLogDir = DefaultEventLogDir
	}
	if c.WebUI.Host == "" {
		c.WebUI.Host = DefaultWebUIHost
	}
	if c.WebUI.Port == 0 {
		c.WebUI.Port = DefaultWebUIPort
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultNamespace
	}
	c.Copywriter.Backend = strings.ToLower(strings.TrimSpace(c.Copywriter.Backend))
	if c.Copywriter.Backend == "" {
		c.Copywriter.Backend = copywriter.BackendTemplate
	}
	if c.Copywriter.MaxTokens == 0 {
		c.Copywriter.MaxTokens = copywriter.DefaultMaxTokens
	}
	if c.Copywriter.OllamaURL == "" {
		c.Copywriter.OllamaURL = DefaultOllamaURL
	}
}

func getLogger() *logx.Logger {
	return logx.NewLogger("config")
}
