// Package access decides whether a GitHub identity may use the configured
// repository. Every failure resolves to a denial; detail survives only in the
// returned Outcome and in logs.
package access

import (
	"context"
	"fmt"

	"github.com/nuitsjp/swa-github-repo-auth/internal/auth"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/telemetry"
	"github.com/nuitsjp/swa-github-repo-auth/internal/rbac"
)

// ErrRepositoryNotConfigured means the repository owner or name is absent.
var ErrRepositoryNotConfigured = fmt.Errorf("%w: repository owner/name", auth.ErrConfigurationMissing)

// OutcomeKind tags an Outcome.
type OutcomeKind int

const (
	Granted OutcomeKind = iota
	Denied
	Error
)

func (k OutcomeKind) String() string {
	switch k {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "error"
	}
}

// Outcome is the result of one authorization. Err is set for Denied and
// Error and can be matched with errors.Is against auth.ErrConfigurationMissing,
// auth.ErrSigning, auth.ErrCredentialExchange, rbac.ErrPermissionQuery and
// rbac.ErrAccessDenied.
type Outcome struct {
	Kind   OutcomeKind
	Level  rbac.PermissionLevel
	Reason string
	Err    error
}

// Allowed collapses the outcome to the access decision.
func (o Outcome) Allowed() bool {
	return o.Kind == Granted
}

// Decision renders the outcome in the rbac decision shape.
func (o Outcome) Decision() rbac.Decision {
	d := rbac.Decision{Allowed: o.Allowed()}
	if !d.Allowed {
		d.Reason = o.Reason
	}
	return d
}

func grant(level rbac.PermissionLevel) Outcome {
	return Outcome{Kind: Granted, Level: level}
}

func deny(reason string, err error) Outcome {
	return Outcome{Kind: Denied, Reason: reason, Err: err}
}

func errored(reason string, err error) Outcome {
	return Outcome{Kind: Error, Reason: reason, Err: err}
}

// Authorizer evaluates one subject against the repository. For the GitHub App
// variant the subject is a login; for the direct-token variant it is the
// caller's own access token.
type Authorizer interface {
	Evaluate(ctx context.Context, subject string, logger telemetry.Logger) Outcome
}

// Allow is the boolean form of a.Evaluate.
func Allow(ctx context.Context, a Authorizer, subject string, logger telemetry.Logger) bool {
	return a.Evaluate(ctx, subject, logger).Allowed()
}
