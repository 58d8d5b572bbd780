package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nuitsjp/swa-github-repo-auth/internal/access"
	"github.com/nuitsjp/swa-github-repo-auth/internal/audit"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/config"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/server"
	"github.com/nuitsjp/swa-github-repo-auth/internal/rbac"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the role-assignment HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("repoauth starting",
		"version", version,
		"port", cfg.Server.Port,
		"mode", cfg.Access.Mode,
		"repository", cfg.Repository(),
	)

	// Missing settings do not stop the server: every request is denied
	// until they are supplied.
	if err := cfg.Validate(); err != nil {
		logger.Warn("configuration incomplete, all requests will be denied", "error", err)
	}

	minLevel, ok := rbac.ParsePermissionLevel(cfg.Audit.MinPermission)
	if !ok || minLevel == rbac.PermissionNone {
		return fmt.Errorf("invalid audit.minpermission %q", cfg.Audit.MinPermission)
	}

	mode, authorizer, err := buildAuthorizer(cfg)
	if err != nil {
		return err
	}

	auditLogger, pool, closeAudit := openAudit(ctx, cfg, logger)
	defer closeAudit()

	accessHandler, err := access.NewHandler(access.HandlerConfig{
		Mode:       mode,
		Role:       cfg.Access.Role,
		Repository: cfg.Repository(),
		Authorizer: authorizer,
		Audit:      auditLogger,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		AccessHandler: accessHandler,
		AuditMinLevel: minLevel,
		Logger:        logger,
	}
	if pool != nil {
		deps.Pool = pool
		deps.AuditHandler = audit.NewHandler(pool, audit.NewStore())
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, deps)
	return srv.Start(ctx)
}
