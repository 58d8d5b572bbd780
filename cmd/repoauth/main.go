package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/config"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/telemetry"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	verbose    bool
)

// errDenied makes the process exit non-zero without printing an error.
var errDenied = errors.New("access denied")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errDenied) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "repoauth",
		Short: "Assign Static Web Apps roles from GitHub repository access",
		Long: `repoauth answers the Azure Static Web Apps role-assignment callback.

A signed-in GitHub user receives the configured role when they can access
the configured repository, checked either as a GitHub App installation
(collaborator permission) or with the user's own OAuth token
(repository visibility). Every other outcome yields no roles.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "repoauth %s\n", version)
		},
	}
}

// loadConfig reads configuration and builds the process logger.
func loadConfig(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	logger := telemetry.NewLogger(level, cfg.Log.Format, logOut)
	telemetry.SetDefault(logger)
	return cfg, logger, nil
}
