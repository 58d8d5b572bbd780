package access

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nuitsjp/swa-github-repo-auth/internal/auth"
	"github.com/nuitsjp/swa-github-repo-auth/internal/github"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/telemetry"
	"github.com/nuitsjp/swa-github-repo-auth/internal/rbac"
)

// TokenSource yields installation credentials.
type TokenSource interface {
	Token(ctx context.Context, logger telemetry.Logger) (auth.InstallationCredential, error)
}

// PermissionChecker reads a collaborator's permission level.
type PermissionChecker interface {
	Check(ctx context.Context, token, username string, logger telemetry.Logger) (rbac.PermissionResult, error)
}

// RepositoryAuthorizer grants access to any collaborator whose permission on
// the repository is above none, acting as a GitHub App installation.
type RepositoryAuthorizer struct {
	owner       string
	repo        string
	tokens      TokenSource
	permissions PermissionChecker
}

// NewRepositoryAuthorizer wires a token source and permission checker.
func NewRepositoryAuthorizer(owner, repo string, tokens TokenSource, permissions PermissionChecker) (*RepositoryAuthorizer, error) {
	if tokens == nil {
		return nil, fmt.Errorf("access: token source is required")
	}
	if permissions == nil {
		return nil, fmt.Errorf("access: permission checker is required")
	}
	return &RepositoryAuthorizer{
		owner:       strings.TrimSpace(owner),
		repo:        strings.TrimSpace(repo),
		tokens:      tokens,
		permissions: permissions,
	}, nil
}

// AppConfig configures NewGitHubAppAuthorizer.
type AppConfig struct {
	Owner    string
	Repo     string
	Identity auth.ServiceIdentity
	Client   *github.Client
}

// NewGitHubAppAuthorizer builds the installation token source and the
// collaborator permission evaluator for cfg.
func NewGitHubAppAuthorizer(cfg AppConfig) (*RepositoryAuthorizer, error) {
	tokens, err := auth.NewInstallationTokenSource(cfg.Identity, cfg.Client)
	if err != nil {
		return nil, err
	}
	evaluator, err := rbac.NewEvaluator(cfg.Client, strings.TrimSpace(cfg.Owner), strings.TrimSpace(cfg.Repo))
	if err != nil {
		return nil, err
	}
	return NewRepositoryAuthorizer(cfg.Owner, cfg.Repo, tokens, evaluator)
}

// Authorize reports whether username may access the repository.
func (a *RepositoryAuthorizer) Authorize(ctx context.Context, username string, logger telemetry.Logger) bool {
	return a.Evaluate(ctx, username, logger).Allowed()
}

// Evaluate runs input validation, credential acquisition and the permission
// query, stopping at the first failure. It never panics on remote failures.
func (a *RepositoryAuthorizer) Evaluate(ctx context.Context, username string, logger telemetry.Logger) Outcome {
	logger = telemetry.OrNop(logger)

	if username == "" {
		logger.Warn("No GitHub username supplied to repository authorizer.")
		return deny("no username", rbac.ErrAccessDenied)
	}
	if a.owner == "" || a.repo == "" {
		logger.Warn("Repository identification is not configured.")
		return errored("repository not configured", ErrRepositoryNotConfigured)
	}

	cred, err := a.tokens.Token(ctx, logger)
	if err != nil {
		logger.Warn("Unable to acquire installation token.")
		return errored("installation token unavailable", err)
	}

	res, err := a.permissions.Check(ctx, cred.Token, username, logger)
	if err != nil {
		if res.Status == http.StatusUnauthorized {
			// The installation token was revoked early; drop it.
			if inv, ok := a.tokens.(interface{ Invalidate() }); ok {
				inv.Invalidate()
			}
		}
		logger.Error("GitHub API error while authorizing repository access.",
			"user", username, "status", res.Status, "error", err)
		return errored("permission query failed", err)
	}

	if res.NotFound {
		logger.Warn("Repository access denied: not found.",
			"user", username, "reason", "not found", "status", res.Status)
		return deny("not found", rbac.ErrAccessDenied)
	}

	logger.Info("GitHub permission check result.", "user", username, "permission", res.Level.String())
	if !res.Level.GrantsAccess() {
		logger.Warn("Repository access denied: no permission.",
			"user", username, "reason", "no permission", "permission", res.Level.String())
		return deny("no permission", rbac.ErrAccessDenied)
	}

	logger.Info("Repository access granted.", "user", username, "permission", res.Level.String())
	return grant(res.Level)
}
