package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nuitsjp/swa-github-repo-auth/internal/access"
	"github.com/nuitsjp/swa-github-repo-auth/internal/audit"
	"github.com/nuitsjp/swa-github-repo-auth/internal/auth"
	"github.com/nuitsjp/swa-github-repo-auth/internal/github"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/config"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/database"
)

// buildAuthorizer returns the authorizer for the configured mode.
func buildAuthorizer(cfg *config.Config) (access.Mode, access.Authorizer, error) {
	mode, err := access.ParseMode(cfg.Access.Mode)
	if err != nil {
		return "", nil, err
	}

	client, err := github.NewClient(github.ClientConfig{
		BaseURL:    cfg.GitHub.API.BaseURL,
		APIVersion: cfg.GitHub.API.Version,
		UserAgent:  cfg.GitHub.API.UserAgent,
		Timeout:    cfg.GitHub.API.Timeout(),
	})
	if err != nil {
		return "", nil, fmt.Errorf("creating GitHub client: %w", err)
	}

	if mode == access.ModeToken {
		a, err := access.NewDirectTokenAuthorizer(client, cfg.GitHub.RepoOwner, cfg.GitHub.RepoName)
		return mode, a, err
	}

	a, err := access.NewGitHubAppAuthorizer(access.AppConfig{
		Owner: cfg.GitHub.RepoOwner,
		Repo:  cfg.GitHub.RepoName,
		Identity: auth.ServiceIdentity{
			AppID:          cfg.GitHub.App.ID,
			InstallationID: cfg.GitHub.App.InstallationID,
			PrivateKey:     cfg.GitHub.App.PrivateKey,
		},
		Client: client,
	})
	return mode, a, err
}

// openAudit connects to the decision store when one is configured. Without a
// database, or when the connection fails, decisions go to a NopLogger.
func openAudit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.Logger, *database.Pool, func()) {
	if cfg.Database.URL == "" {
		return audit.NopLogger{}, nil, func() {}
	}

	logger.Info("connecting to database")
	pool, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Warn("database connection failed, starting without audit", "error", err)
		return audit.NopLogger{}, nil, func() {}
	}
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Warn("schema setup failed, starting without audit", "error", err)
		pool.Close()
		return audit.NopLogger{}, nil, func() {}
	}

	auditLogger := audit.NewAsyncLogger(pool, audit.NewStore(), audit.LoggerConfig{
		BufferSize:    cfg.Audit.BufferSize,
		BatchSize:     cfg.Audit.BatchSize,
		FlushInterval: time.Duration(cfg.Audit.FlushIntervalMS) * time.Millisecond,
		Logger:        logger,
	})
	logger.Info("audit logger started")

	return auditLogger, pool, func() {
		_ = auditLogger.Close()
		pool.Close()
	}
}
