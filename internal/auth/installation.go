package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/nuitsjp/swa-github-repo-auth/internal/github"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/telemetry"
	"golang.org/x/sync/singleflight"
)

// ExpiryBuffer is how close to expiry a cached installation token may get
// before it is treated as expired.
const ExpiryBuffer = 60 * time.Second

// InstallationTokenSource exchanges app JWTs for installation tokens and
// caches the current one. Safe for concurrent use: cache reads never block,
// and concurrent refreshes are collapsed into one exchange.
type InstallationTokenSource struct {
	identity ServiceIdentity
	client   *github.Client
	now      func() time.Time

	current atomic.Pointer[InstallationCredential]
	group   singleflight.Group
}

// TokenSourceOption configures an InstallationTokenSource.
type TokenSourceOption func(*InstallationTokenSource)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TokenSourceOption {
	return func(s *InstallationTokenSource) {
		s.now = now
	}
}

// NewInstallationTokenSource creates a token source for identity. The
// private key is normalized once here.
func NewInstallationTokenSource(identity ServiceIdentity, client *github.Client, opts ...TokenSourceOption) (*InstallationTokenSource, error) {
	if client == nil {
		return nil, fmt.Errorf("auth: github client is required")
	}
	identity.PrivateKey = NormalizePrivateKey(identity.PrivateKey)

	s := &InstallationTokenSource{
		identity: identity,
		client:   client,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Token returns a cached installation token when it is outside the expiry
// buffer, otherwise performs a fresh exchange. Failures are logged on the
// caller's logger and returned wrapped in ErrConfigurationMissing,
// ErrSigning or ErrCredentialExchange.
//
// Concurrent callers share one exchange. The exchange is detached from the
// cancellation of whichever caller started it; each caller stops waiting
// when its own ctx is done.
func (s *InstallationTokenSource) Token(ctx context.Context, logger telemetry.Logger) (InstallationCredential, error) {
	logger = telemetry.OrNop(logger)

	if cred := s.current.Load(); cred.validAt(s.now(), ExpiryBuffer) {
		return *cred, nil
	}

	if !s.identity.Configured() {
		logger.Warn("GitHub App credentials are not configured.")
		return InstallationCredential{}, ErrConfigurationMissing
	}

	flight := s.group.DoChan("installation-token", func() (any, error) {
		// Another caller may have refreshed while we waited to get here.
		if cred := s.current.Load(); cred.validAt(s.now(), ExpiryBuffer) {
			return *cred, nil
		}
		return s.exchange(context.WithoutCancel(ctx), logger)
	})

	select {
	case res := <-flight:
		if res.Err != nil {
			logExchangeFailure(logger, res.Err)
			return InstallationCredential{}, res.Err
		}
		return res.Val.(InstallationCredential), nil
	case <-ctx.Done():
		err := fmt.Errorf("%w: %w", ErrCredentialExchange, ctx.Err())
		logExchangeFailure(logger, err)
		return InstallationCredential{}, err
	}
}

// Invalidate drops the cached token so the next Token call exchanges again.
func (s *InstallationTokenSource) Invalidate() {
	s.current.Store(nil)
}

type accessTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// errUnusableResponse marks an exchange that succeeded at the HTTP level but
// returned no token or an expiry inside the buffer.
var errUnusableResponse = errors.New("response lacks a token or a usable expiry")

func (s *InstallationTokenSource) exchange(ctx context.Context, logger telemetry.Logger) (InstallationCredential, error) {
	assertion, err := SignAppToken(s.identity, s.now())
	if err != nil {
		return InstallationCredential{}, err
	}

	path := fmt.Sprintf("/app/installations/%s/access_tokens", url.PathEscape(s.identity.InstallationID))

	var resp accessTokenResponse
	if err := s.client.Do(ctx, http.MethodPost, path, assertion.Value, struct{}{}, &resp); err != nil {
		return InstallationCredential{}, fmt.Errorf("%w: %w", ErrCredentialExchange, err)
	}

	expiresAt, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	cred := &InstallationCredential{Token: resp.Token, ExpiresAt: expiresAt}
	if err != nil || !cred.validAt(s.now(), ExpiryBuffer) {
		return InstallationCredential{}, fmt.Errorf("%w: %w", ErrCredentialExchange, errUnusableResponse)
	}

	s.current.Store(cred)
	logger.Info("Obtained GitHub App installation token.", "expires_at", expiresAt)
	return *cred, nil
}

func logExchangeFailure(logger telemetry.Logger, err error) {
	if errors.Is(err, errUnusableResponse) {
		logger.Warn("Failed to obtain installation access token.")
		return
	}
	logger.Error("Failed to create GitHub App installation token.", "error", err)
	if status := github.StatusCode(err); status != 0 {
		logger.Error("GitHub App token endpoint responded with error status.", "status", status)
	}
}
