package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nuitsjp/swa-github-repo-auth/internal/access"
	"github.com/nuitsjp/swa-github-repo-auth/internal/audit"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/config"
	"github.com/spf13/cobra"
)

func checkCmd() *cobra.Command {
	var user, token string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one authorization and print the decision",
		Long: `Run one authorization against the configured repository.

Prints "granted" or "denied" and exits 1 when denied.

Example:
  repoauth check --user octocat
  repoauth check --token gho_xxx   # with access.mode=token`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return check(cmd.Context(), cfg, logger, cmd.OutOrStdout(), user, token)
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "GitHub login to check (app mode)")
	cmd.Flags().StringVar(&token, "token", "", "GitHub OAuth token to check (token mode)")
	cmd.MarkFlagsMutuallyExclusive("user", "token")
	cmd.MarkFlagsOneRequired("user", "token")

	return cmd
}

func check(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer, user, token string) error {
	mode, authorizer, err := buildAuthorizer(cfg)
	if err != nil {
		return err
	}

	subject, label := user, user
	switch {
	case mode == access.ModeToken && token == "":
		return fmt.Errorf("--token is required when access.mode is token")
	case mode == access.ModeApp && user == "":
		return fmt.Errorf("--user is required when access.mode is app")
	case mode == access.ModeToken:
		subject, label = token, "token"
	}

	auditLogger, _, closeAudit := openAudit(ctx, cfg, logger)
	defer closeAudit()

	outcome := authorizer.Evaluate(ctx, subject, logger)
	auditLogger.Log(ctx, audit.Event{
		Username:   label,
		Repository: cfg.Repository(),
		Mode:       string(mode),
		Decision:   outcome.Kind.String(),
		Reason:     outcome.Reason,
		Source:     audit.SourceCLI,
	})

	if !outcome.Allowed() {
		fmt.Fprintln(out, "denied")
		return errDenied
	}
	fmt.Fprintln(out, "granted")
	return nil
}
