// storepilot runs the storefront automation core: agents, workflows,
// AutoPilot, the HTTP API and optionally an MCP tool server on stdio.
//
// Usage:
//
//	storepilot -config storepilot.yaml [-autopilot] [-discover niche]
//	           [-import url] [-competitors niche] [-limit N] [-mcp] [-set-secret NAME]
//	           [-audit N] [-metrics-dump] [-version]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"storepilot/internal/kernel"
	"storepilot/pkg/catalog"
	"storepilot/pkg/config"
	"storepilot/pkg/logx"
	"storepilot/pkg/mcpserver"
	"storepilot/pkg/version"
)

// PasswordEnv unlocks the secrets file without a prompt.
const PasswordEnv = "STOREPILOT_PASSWORD"

type options struct {
	configPath  string
	autopilot   bool
	discover    string
	importURL   string
	competitors string
	limit       int
	mcp         bool
	setSecret   string
	audit       int
	metricsDump bool
}

func main() {
	var opts options
	showVersion := flag.Bool("version", false, "Show version information")
	flag.StringVar(&opts.configPath, "config", config.DefaultConfigFile, "Path to config file")
	flag.BoolVar(&opts.autopilot, "autopilot", false, "Start AutoPilot regardless of autopilot.enabled")
	flag.StringVar(&opts.discover, "discover", "", "Run the product discovery workflow for a niche and exit")
	flag.StringVar(&opts.importURL, "import", "", "Run the quick import workflow for a supplier URL and exit")
	flag.StringVar(&opts.competitors, "competitors", "", "Run the competitor analysis workflow for a niche and exit")
	flag.IntVar(&opts.limit, "limit", 0, "Scout limit for -discover")
	flag.BoolVar(&opts.mcp, "mcp", false, "Serve MCP tools on stdin/stdout")
	flag.StringVar(&opts.setSecret, "set-secret", "", "Prompt for a value and store it in the encrypted secrets file")
	flag.IntVar(&opts.audit, "audit", 0, "Print the N most recent audited decisions and exit")
	flag.BoolVar(&opts.metricsDump, "metrics-dump", false, "Print metrics in Prometheus text format on exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}
	os.Exit(run(opts))
}

// run returns the process exit code so deferred cleanup runs before os.Exit.
func run(opts options) int {
	logger := logx.NewLogger("storepilot")

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if opts.autopilot {
		cfg.AutoPilot.Enabled = true
		if err := cfg.AutoPilot.Config.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot start AutoPilot: %v\n", err)
			return 1
		}
	}

	secrets, err := unlockSecrets(cfg.Storage.Dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to unlock secrets: %v\n", err)
		return 1
	}
	if opts.setSecret != "" {
		if err := setSecret(cfg.Storage.Dir, secrets, opts.setSecret); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to store secret: %v\n", err)
			return 1
		}
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	oneShot := opts.discover != "" || opts.importURL != "" || opts.competitors != "" || opts.audit > 0
	kopts := []kernel.Option{kernel.WithSecrets(secrets)}
	if !oneShot {
		kopts = append(kopts, kernel.WithConfigPath(opts.configPath))
	} else {
		cfg.AutoPilot.Enabled = false
		cfg.WebUI.Enabled = false
	}

	k, err := kernel.NewKernel(ctx, cfg, kopts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return 1
	}
	defer func() {
		if opts.metricsDump && k.Metrics != nil {
			if err := k.Metrics.WriteText(os.Stderr); err != nil {
				logger.Warn("metrics dump failed: %v", err)
			}
		}
		if err := k.Close(); err != nil {
			logger.Error("shutdown: %v", err)
		}
	}()

	if oneShot {
		if err := runOneShot(ctx, k, opts, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		return 0
	}

	if err := k.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
		return 1
	}

	if opts.mcp {
		logger.Info("Serving MCP tools on stdio")
		srv := mcpserver.New(k.Orchestrator, k.Orchestrator.AutoPilot())
		if err := mcpserver.ServeStdio(srv); err != nil {
			logger.Error("%v", err)
			return 1
		}
		return 0
	}

	logger.Info("storepilot running (session %s); press Ctrl+C to stop", k.SessionID)
	<-ctx.Done()
	logger.Info("Shutting down...")
	return 0
}

func runOneShot(ctx context.Context, k *kernel.Kernel, opts options, out io.Writer) error {
	var (
		result any
		err    error
	)
	switch {
	case opts.discover != "":
		result, err = k.Orchestrator.RunProductDiscoveryWorkflow(ctx, opts.discover, catalog.ScoutOptions{Limit: opts.limit})
	case opts.importURL != "":
		result, err = k.Orchestrator.RunQuickImportWorkflow(ctx, opts.importURL)
	case opts.competitors != "":
		result, err = k.Orchestrator.RunCompetitorAnalysisWorkflow(ctx, opts.competitors)
	case opts.audit > 0:
		if k.Store == nil {
			return errors.New("decision audit is disabled (storage.disable_audit)")
		}
		result, err = k.Store.RecentDecisions(opts.audit)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// unlockSecrets decrypts the secrets file when present, taking the password
// from the environment or an interactive prompt.
func unlockSecrets(dir string) (*config.Secrets, error) {
	if !config.SecretsFileExists(dir) {
		return config.NewSecrets(nil), nil
	}
	password, err := secretsPassword()
	if err != nil {
		return nil, err
	}
	return config.UnlockSecrets(dir, password)
}

func setSecret(dir string, secrets *config.Secrets, name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("secret name is required")
	}
	value, err := readPassword(fmt.Sprintf("Value for %s: ", name))
	if err != nil {
		return err
	}
	password, err := secretsPassword()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}
	secrets.Set(name, value)
	if err := secrets.Save(dir, password); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Stored %s (%d secrets)\n", name, len(secrets.Names()))
	return nil
}

func secretsPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}
	pw, err := readPassword("Secrets password: ")
	if err != nil {
		return "", fmt.Errorf("%s is not set: %w", PasswordEnv, err)
	}
	return pw, nil
}

// readPassword reads one line from the terminal without echo.
func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // fd fits in int
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	value := string(b)
	for i := range b {
		b[i] = 0
	}
	if value == "" {
		return "", errors.New("empty input")
	}
	return value, nil
}
