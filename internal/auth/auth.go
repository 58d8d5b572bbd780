package auth

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrConfigurationMissing means the app id, installation id or private key
	// is absent. No network call is attempted.
	ErrConfigurationMissing = errors.New("github app credentials not configured")
	// ErrSigning means the app JWT could not be built or signed.
	ErrSigning = errors.New("signing app token")
	// ErrCredentialExchange means the installation token exchange failed in
	// transport or returned an unusable response.
	ErrCredentialExchange = errors.New("installation token exchange failed")
)

// ServiceIdentity is the GitHub App identity used to act on a repository.
type ServiceIdentity struct {
	AppID          string
	InstallationID string
	PrivateKey     string
}

// Configured reports whether all three identity fields are present.
func (id ServiceIdentity) Configured() bool {
	return strings.TrimSpace(id.AppID) != "" &&
		strings.TrimSpace(id.InstallationID) != "" &&
		strings.TrimSpace(id.PrivateKey) != ""
}

// SignedAssertion is a short-lived app JWT. It is used for exactly one
// exchange and is never logged or cached.
type SignedAssertion struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// InstallationCredential is a revocable installation access token.
type InstallationCredential struct {
	Token     string
	ExpiresAt time.Time
}

// validAt reports whether c can still be handed out at now, given buffer.
func (c *InstallationCredential) validAt(now time.Time, buffer time.Duration) bool {
	return c != nil && c.Token != "" && now.Add(buffer).Before(c.ExpiresAt)
}
