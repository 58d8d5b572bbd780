package access

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nuitsjp/swa-github-repo-auth/internal/github"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/telemetry"
	"github.com/nuitsjp/swa-github-repo-auth/internal/rbac"
)

// DirectTokenAuthorizer is the degraded variant used without a GitHub App:
// it asks GitHub whether the caller's own token can see the repository.
type DirectTokenAuthorizer struct {
	client *github.Client
	owner  string
	repo   string
}

// NewDirectTokenAuthorizer creates a DirectTokenAuthorizer.
func NewDirectTokenAuthorizer(client *github.Client, owner, repo string) (*DirectTokenAuthorizer, error) {
	if client == nil {
		return nil, fmt.Errorf("access: github client is required")
	}
	return &DirectTokenAuthorizer{
		client: client,
		owner:  strings.TrimSpace(owner),
		repo:   strings.TrimSpace(repo),
	}, nil
}

// Evaluate checks repository visibility using accessToken as the bearer.
func (a *DirectTokenAuthorizer) Evaluate(ctx context.Context, accessToken string, logger telemetry.Logger) Outcome {
	logger = telemetry.OrNop(logger)

	if accessToken == "" {
		logger.Warn("No access token supplied to repository authorizer.")
		return deny("no access token", rbac.ErrAccessDenied)
	}
	if a.owner == "" || a.repo == "" {
		logger.Warn("Repository identification is not configured.")
		return errored("repository not configured", ErrRepositoryNotConfigured)
	}

	path := fmt.Sprintf("/repos/%s/%s", url.PathEscape(a.owner), url.PathEscape(a.repo))
	err := a.client.Do(ctx, http.MethodGet, path, accessToken, nil, nil)
	if err == nil {
		logger.Info("Repository access granted.")
		return grant(rbac.PermissionRead)
	}

	switch status := github.StatusCode(err); status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		logger.Warn("Repository access denied.", "status", status)
		return deny(fmt.Sprintf("status %d", status), fmt.Errorf("%w: %v", rbac.ErrAccessDenied, err))
	default:
		logger.Error("GitHub API error while authorizing repository access.", "status", status, "error", err)
		return errored("repository check failed", fmt.Errorf("%w: %v", rbac.ErrPermissionQuery, err))
	}
}
