package rbac

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nuitsjp/swa-github-repo-auth/internal/github"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/telemetry"
)

// PermissionResult is a classified collaborator-permission answer.
type PermissionResult struct {
	Level PermissionLevel
	// Status is the HTTP status of the query.
	Status int
	// NotFound is set when GitHub answered 404: the user is not a
	// collaborator, or the repository is invisible to the installation.
	NotFound bool
}

// Evaluator queries the collaborator-permission endpoint for one repository.
type Evaluator struct {
	client *github.Client
	owner  string
	repo   string
}

// NewEvaluator creates an Evaluator for owner/repo.
func NewEvaluator(client *github.Client, owner, repo string) (*Evaluator, error) {
	if client == nil {
		return nil, fmt.Errorf("rbac: github client is required")
	}
	return &Evaluator{client: client, owner: owner, repo: repo}, nil
}

type permissionResponse struct {
	Permission *string `json:"permission"`
	RoleName   string  `json:"role_name"`
}

// Check reads username's permission using an installation token. A 404 is a
// definitive "none". Any other failure is returned wrapped in
// ErrPermissionQuery and must be treated as none by callers. No retries.
func (e *Evaluator) Check(ctx context.Context, token, username string, logger telemetry.Logger) (PermissionResult, error) {
	logger = telemetry.OrNop(logger)

	path := fmt.Sprintf("/repos/%s/%s/collaborators/%s/permission",
		url.PathEscape(e.owner), url.PathEscape(e.repo), url.PathEscape(username))

	var body permissionResponse
	err := e.client.Do(ctx, http.MethodGet, path, token, nil, &body)
	if err != nil {
		status := github.StatusCode(err)
		if status == http.StatusNotFound {
			return PermissionResult{Level: PermissionNone, Status: status, NotFound: true}, nil
		}
		return PermissionResult{Level: PermissionNone, Status: status}, fmt.Errorf("%w: %v", ErrPermissionQuery, err)
	}

	if body.Permission == nil {
		return PermissionResult{Level: PermissionNone, Status: http.StatusOK}, nil
	}

	level, ok := ParsePermissionLevel(*body.Permission)
	if !ok {
		// Finer roles surface through role_name; fall back to it before giving up.
		if fromRole, roleOK := ParsePermissionLevel(body.RoleName); roleOK && body.RoleName != "" {
			return PermissionResult{Level: fromRole, Status: http.StatusOK}, nil
		}
		logger.Warn("Unrecognized GitHub permission value; treating as none.",
			"user", username, "permission", *body.Permission)
		return PermissionResult{Level: PermissionNone, Status: http.StatusOK}, nil
	}
	return PermissionResult{Level: level, Status: http.StatusOK}, nil
}
