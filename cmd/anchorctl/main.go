// Package main is the entry point for the anchorctl binary, a command line
// front end for the Anchor API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/getanchor/anchor-go/pkg/anchor"
	"github.com/getanchor/anchor-go/pkg/config"
	"github.com/getanchor/anchor-go/pkg/telemetry"
)

const (
	defaultOutput = "json"
	// offlineAnnotation marks commands that never call the API.
	offlineAnnotation = "anchorctl/offline"
)

// globalOptions holds the persistent flags.
type globalOptions struct {
	ConfigPath   string
	APIKey       string
	BaseURL      string
	Workspace    string
	Output       string
	LogLevel     string
	LogFormat    string
	OTLPEndpoint string
}

// app carries state shared by every sub-command.
type app struct {
	opts   globalOptions
	stdout io.Writer
	stderr io.Writer

	profile   *config.Profile
	logger    *slog.Logger
	shutdown  func(context.Context) error
	transport http.RoundTripper
	client    *anchor.Client

	// setupTracing defaults to telemetry.SetupProvider.
	setupTracing func(context.Context, telemetry.Config) (func(context.Context) error, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{stdout: os.Stdout, stderr: os.Stderr}
	if err := execute(ctx, a, newRootCmd(a)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// execute runs cmd and then flushes telemetry. Cobra skips post-run hooks
// when RunE fails, so the flush happens here for failed commands too.
func execute(ctx context.Context, a *app, cmd *cobra.Command) error {
	err := cmd.ExecuteContext(ctx)
	if terr := a.teardown(ctx); terr != nil {
		if err == nil {
			return fmt.Errorf("failed to flush telemetry: %w", terr)
		}
		a.logger.Warn("failed to flush telemetry", "error", terr)
	}
	return err
}

// newRootCmd creates the root command for anchorctl.
func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "anchorctl",
		Short: "Command line client for the Anchor agent governance API",
		Long: `anchorctl manages Anchor agents, their versioned configuration and policy
packs, policy-governed data, checkpoints and the audit trail.

Credentials come from the profile file (default ~/.anchor/config.yaml), then
ANCHOR_API_KEY / ANCHOR_BASE_URL / ANCHOR_WORKSPACE_ID, then flags.

Example:
  anchorctl agents create support-bot --metadata team=cx
  anchorctl policy apply agent_123 --block-secrets=false --no-max-query-size`,
		Version:           anchor.Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.opts.ConfigPath, "config", "c", "", "Path to profile file (YAML); defaults to $ANCHOR_CONFIG or ~/.anchor/config.yaml")
	flags.StringVar(&a.opts.APIKey, "api-key", "", "API key (overrides profile and environment)")
	flags.StringVar(&a.opts.BaseURL, "base-url", "", "API base URL")
	flags.StringVarP(&a.opts.Workspace, "workspace", "w", "", "Workspace id for this invocation")
	flags.StringVarP(&a.opts.Output, "output", "o", defaultOutput, "Output format (json, yaml)")
	flags.StringVarP(&a.opts.LogLevel, "log-level", "l", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&a.opts.LogFormat, "log-format", "", "Log format (text, json)")
	flags.StringVar(&a.opts.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces")

	rootCmd.AddCommand(
		newAgentsCmd(a),
		newConfigCmd(a),
		newDataCmd(a),
		newCheckpointsCmd(a),
		newAuditCmd(a),
		newPolicyCmd(a),
		newWorkspaceCmd(a),
		newProfileCmd(a),
	)
	return rootCmd
}

// setup loads the profile and wires logging and tracing. Commands that
// talk to the API build their client lazily through api().
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if a.opts.Output != "json" && a.opts.Output != "yaml" {
		return fmt.Errorf("invalid --output %q, supported: json, yaml", a.opts.Output)
	}

	offline := isOffline(cmd)
	profile, err := a.loadProfile(offline)
	if err != nil {
		return err
	}
	a.profile = profile

	a.logger = slog.New(newLogHandler(a.stderr, profile.Logging))
	slog.SetDefault(a.logger)

	if profile.Telemetry.ServiceVersion == "" {
		profile.Telemetry.ServiceVersion = anchor.Version
	}
	setupTracing := a.setupTracing
	if setupTracing == nil {
		setupTracing = telemetry.SetupProvider
	}
	shutdown, err := setupTracing(cmd.Context(), profile.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	a.shutdown = shutdown
	return nil
}

// profilePath resolves --config, then $ANCHOR_CONFIG, then the default.
func (a *app) profilePath() string {
	if a.opts.ConfigPath != "" {
		return a.opts.ConfigPath
	}
	if path := os.Getenv(config.EnvConfigPath); path != "" {
		return path
	}
	return config.DefaultPath()
}

func (a *app) overrides() config.Overrides {
	return config.Overrides{
		APIKey:       a.opts.APIKey,
		BaseURL:      a.opts.BaseURL,
		WorkspaceID:  a.opts.Workspace,
		LogLevel:     a.opts.LogLevel,
		LogFormat:    a.opts.LogFormat,
		OTLPEndpoint: a.opts.OTLPEndpoint,
	}
}

func (a *app) loadProfile(offline bool) (*config.Profile, error) {
	profile, err := config.LoadWith(a.profilePath(), a.overrides())
	if err != nil && offline {
		// Offline commands only need logging settings.
		profile = &config.Profile{Logging: config.LoggingConfig{Level: a.opts.LogLevel, Format: a.opts.LogFormat}}
		err = profile.Logging.Validate()
	}
	if err != nil {
		return nil, err
	}
	return profile, nil
}

func newLogHandler(w io.Writer, cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// api returns the shared client, building it on first use.
func (a *app) api() (*anchor.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	if a.profile == nil {
		return nil, errors.New("profile not loaded")
	}

	cfg := a.profile.ClientConfig()
	cfg.Logger = a.logger
	transport := a.transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	cfg.HTTPClient = &http.Client{
		Timeout:   a.profile.Timeout,
		Transport: otelhttp.NewTransport(transport),
	}

	client, err := anchor.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	a.client = client
	return client, nil
}

func (a *app) teardown(ctx context.Context) error {
	if a.shutdown == nil {
		return nil
	}
	shutdown := a.shutdown
	a.shutdown = nil
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return shutdown(ctx)
}

func isOffline(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[offlineAnnotation] == "true" {
			return true
		}
	}
	return false
}

// exitCode maps error kinds to distinct exit statuses for scripting.
func exitCode(err error) int {
	switch {
	case anchor.IsAuthentication(err):
		return 3
	case anchor.IsNotFound(err):
		return 4
	case anchor.IsPolicyViolation(err):
		return 5
	case anchor.IsValidation(err):
		return 6
	case anchor.IsRateLimited(err):
		return 7
	default:
		return 1
	}
}
