package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// appTokenBackdate absorbs clock drift between us and GitHub.
	appTokenBackdate = 60 * time.Second
	// appTokenLifetime stays under GitHub's 10 minute ceiling.
	appTokenLifetime = 8 * time.Minute
)

// NormalizePrivateKey turns literal "\n" sequences (single-line env values)
// into real newlines.
func NormalizePrivateKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}

// SignAppToken builds an RS256 app JWT for identity. The key must already be
// PEM with real newlines; see NormalizePrivateKey.
func SignAppToken(identity ServiceIdentity, now time.Time) (SignedAssertion, error) {
	if strings.TrimSpace(identity.PrivateKey) == "" {
		return SignedAssertion{}, fmt.Errorf("%w: private key is empty", ErrSigning)
	}
	if strings.TrimSpace(identity.AppID) == "" {
		return SignedAssertion{}, fmt.Errorf("%w: app id is empty", ErrSigning)
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(identity.PrivateKey))
	if err != nil {
		return SignedAssertion{}, fmt.Errorf("%w: parsing private key: %v", ErrSigning, err)
	}

	now = now.Truncate(time.Second)
	issuedAt := now.Add(-appTokenBackdate)
	expiresAt := now.Add(appTokenLifetime)

	claims := jwt.RegisteredClaims{
		Issuer:    identity.AppID,
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return SignedAssertion{}, fmt.Errorf("%w: %v", ErrSigning, err)
	}

	return SignedAssertion{
		Value:     signed,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}
