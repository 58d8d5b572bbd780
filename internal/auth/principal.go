package auth

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// PrincipalHeader carries the base64 JSON principal injected by Static Web Apps.
const PrincipalHeader = "X-MS-Client-Principal"

const providerGitHub = "github"

// ClientPrincipal is the caller identity handed to the role endpoint.
type ClientPrincipal struct {
	IdentityProvider string   `json:"identityProvider"`
	UserID           string   `json:"userId,omitempty"`
	UserDetails      string   `json:"userDetails,omitempty"`
	AccessToken      string   `json:"-"`
	UserRoles        []string `json:"userRoles,omitempty"`
}

// Label is the best human-readable name for logs.
func (p *ClientPrincipal) Label() string {
	switch {
	case p == nil:
		return "unknown"
	case p.UserDetails != "":
		return p.UserDetails
	case p.UserID != "":
		return p.UserID
	default:
		return "unknown"
	}
}

// wirePrincipal accepts both the current camelCase and legacy snake_case names.
type wirePrincipal struct {
	IdentityProvider  string   `json:"identityProvider"`
	UserID            string   `json:"userId"`
	UserIDLegacy      string   `json:"user_id"`
	UserDetails       string   `json:"userDetails"`
	UserDetailsLegacy string   `json:"user_details"`
	AccessToken       string   `json:"accessToken"`
	AccessTokenLegacy string   `json:"access_token"`
	UserRoles         []string `json:"userRoles"`
}

type principalEnvelope struct {
	ClientPrincipal json.RawMessage `json:"clientPrincipal"`
}

// ExtractPrincipal returns the GitHub principal of r, looking first at the
// JSON body (either {"clientPrincipal": {...}} or the principal itself) and
// then at the X-MS-Client-Principal header. It returns nil when no GitHub
// principal can be found. The body is restored for later readers.
func ExtractPrincipal(r *http.Request) *ClientPrincipal {
	if r == nil {
		return nil
	}

	if r.Body != nil {
		data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(data))
		if err == nil {
			if p := principalFromJSON(data); p != nil {
				return p
			}
		}
	}

	decoded, ok := DecodePrincipalHeader(r.Header.Get(PrincipalHeader))
	if !ok {
		return nil
	}
	return principalFromJSON(decoded)
}

// DecodePrincipalHeader base64-decodes a principal header value and checks
// that it is JSON.
func DecodePrincipalHeader(value string) ([]byte, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, false
	}
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, false
	}
	if !json.Valid(decoded) {
		return nil, false
	}
	return decoded, true
}

func principalFromJSON(data []byte) *ClientPrincipal {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	candidate := data
	var envelope principalEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil
	}
	if raw := bytes.TrimSpace(envelope.ClientPrincipal); len(raw) > 0 && raw[0] == '{' {
		candidate = raw
	}

	var w wirePrincipal
	if err := json.Unmarshal(candidate, &w); err != nil {
		return nil
	}
	return normalizePrincipal(w)
}

func normalizePrincipal(w wirePrincipal) *ClientPrincipal {
	if w.IdentityProvider != providerGitHub {
		return nil
	}
	return &ClientPrincipal{
		IdentityProvider: providerGitHub,
		UserID:           firstNonEmpty(w.UserID, w.UserIDLegacy),
		UserDetails:      firstNonEmpty(w.UserDetails, w.UserDetailsLegacy),
		AccessToken:      firstNonEmpty(w.AccessToken, w.AccessTokenLegacy),
		UserRoles:        w.UserRoles,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
