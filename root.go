package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"igpost/internal/authflow"
	"igpost/internal/config"
	"igpost/internal/creds"
	"igpost/internal/insta"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath   string
	flagSessionFile  string
	flagUsername     string
	flagPassword     string
	flagSessionToken string
	flagJSON         bool
	flagVerbose      bool
	flagQuiet        bool
)

// resolvedCfg holds the effective configuration loaded by
// PersistentPreRunE. Available to all subcommands after the pre-run phase.
var resolvedCfg *config.Resolved

// httpClientTimeout bounds individual API requests so a hung connection
// cannot block a publish indefinitely.
const httpClientTimeout = 120 * time.Second

// newRootCmd builds the fully-assembled root command with all subcommands
// registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "igpost",
		Short:   "Non-interactive Instagram video publisher",
		Long:    "Publish videos to an Instagram account, reusing a saved session when valid and falling back to username/password login.",
		Version: version,
		// Silence Cobra's default error/usage printing — main() handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagSessionFile, "session-file", "", "path to persist/restore session settings")
	cmd.PersistentFlags().StringVarP(&flagUsername, "username", "u", "", "Instagram username")
	cmd.PersistentFlags().StringVarP(&flagPassword, "password", "p", "", "Instagram password")
	cmd.PersistentFlags().StringVar(&flagSessionToken, "session-token", "", "session id token for single-shot login")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newProfileCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain and stores it in resolvedCfg.
func loadConfig() error {
	cli := config.CLIOverrides{
		ConfigPath:  flagConfigPath,
		SessionFile: flagSessionFile,
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger from the resolved config and CLI
// flags. CLI flags win over the config-file level. A terminal gets the
// text handler; redirected stderr gets JSON for machine consumption.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// newClient builds the platform client from the resolved config.
func newClient(logger *slog.Logger) *insta.Client {
	baseURL := resolvedCfg.BaseURL
	if baseURL == "" {
		baseURL = insta.DefaultBaseURL
	}

	return insta.NewClient(baseURL, &http.Client{Timeout: httpClientTimeout}, logger)
}

// resolveCredentials runs the fixed precedence chain: secrets file, then
// environment, then CLI flags.
func resolveCredentials(logger *slog.Logger) (creds.Credentials, string) {
	source := creds.Source{
		SecretsPath:   resolvedCfg.SecretsFile,
		Explicit:      creds.Credentials{Username: flagUsername, Password: flagPassword},
		ExplicitToken: flagSessionToken,
	}

	return source.Resolve(logger)
}

// authenticate produces an authenticated client using the session-reuse
// flow.
func authenticate(ctx context.Context, logger *slog.Logger) (*insta.Client, error) {
	client := newClient(logger)

	credentials, token := resolveCredentials(logger)

	logger.Debug("starting authentication flow",
		slog.String("credentials", credentials.Redacted()),
		slog.String("session_file", resolvedCfg.SessionFile),
	)

	delayMin, delayMax := resolvedCfg.DelayRange()

	_, err := authflow.Authenticate(ctx, client, authflow.Options{
		SessionPath:  resolvedCfg.SessionFile,
		Credentials:  credentials,
		SessionToken: token,
		DelayMin:     delayMin,
		DelayMax:     delayMax,
	}, logger)
	if err != nil {
		return nil, err
	}

	return client, nil
}
