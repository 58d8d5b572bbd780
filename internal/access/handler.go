package access

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nuitsjp/swa-github-repo-auth/internal/audit"
	"github.com/nuitsjp/swa-github-repo-auth/internal/auth"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/middleware"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/telemetry"
	"github.com/nuitsjp/swa-github-repo-auth/internal/rbac"
)

// Mode selects how a principal is checked.
type Mode string

const (
	// ModeApp checks the principal's login as a GitHub App installation.
	ModeApp Mode = "app"
	// ModeToken checks repository visibility with the principal's own token.
	ModeToken Mode = "token"
)

// ParseMode maps a configured mode name onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeApp, "":
		return ModeApp, nil
	case ModeToken:
		return ModeToken, nil
	default:
		return "", fmt.Errorf("unknown authorization mode %q", s)
	}
}

// DefaultRole is assigned to principals that pass the repository check.
const DefaultRole = "authorized"

// HandlerConfig configures NewHandler.
type HandlerConfig struct {
	Mode       Mode
	Role       string
	Repository string // "owner/name", recorded with each decision
	Authorizer Authorizer
	Audit      audit.Logger
	Logger     *slog.Logger
}

// Handler is the Static Web Apps role-assignment endpoint.
type Handler struct {
	mode       Mode
	role       string
	repository string
	authorizer Authorizer
	audit      audit.Logger
	logger     *slog.Logger
}

// NewHandler validates cfg and returns a Handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Authorizer == nil {
		return nil, fmt.Errorf("access: authorizer is required")
	}
	if cfg.Mode != ModeApp && cfg.Mode != ModeToken {
		return nil, fmt.Errorf("access: unknown mode %q", cfg.Mode)
	}
	if cfg.Role == "" {
		cfg.Role = DefaultRole
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.Nop()
	}
	return &Handler{
		mode:       cfg.Mode,
		role:       cfg.Role,
		repository: cfg.Repository,
		authorizer: cfg.Authorizer,
		audit:      cfg.Audit,
		logger:     cfg.Logger,
	}, nil
}

// RegisterRoutes mounts the role endpoint under both of its names.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/authorize", h.HandleRoles)
	mux.HandleFunc("POST /api/GetRoles", h.HandleRoles)
}

type rolesResponse struct {
	Roles []string `json:"roles"`
}

// HandleRoles answers {"roles": [...]} with status 200 in every case. A
// principal that is not authorized receives no roles.
func (h *Handler) HandleRoles(w http.ResponseWriter, r *http.Request) {
	logger := h.logger
	requestID := middleware.GetRequestID(r.Context())
	if requestID != "" {
		logger = logger.With("request_id", requestID)
	}

	written := false
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Unhandled authorization error.", "panic", fmt.Sprint(rec))
			if !written {
				writeRoles(w, nil)
			}
		}
	}()

	roles := h.resolve(r, logger, requestID)
	written = true
	writeRoles(w, roles)
}

func (h *Handler) resolve(r *http.Request, logger *slog.Logger, requestID string) []string {
	principal := auth.ExtractPrincipal(r)
	if principal == nil {
		logger.Info("Non-GitHub identity detected, assigning anonymous role.")
		return nil
	}

	var outcome Outcome
	switch h.mode {
	case ModeToken:
		if principal.AccessToken == "" {
			logger.Warn("GitHub principal missing access token, denying access.", "user", principal.Label())
			outcome = deny("missing access token", nil)
		} else {
			outcome = h.authorizer.Evaluate(r.Context(), principal.AccessToken, logger)
		}
	default:
		outcome = h.authorizer.Evaluate(r.Context(), principal.UserDetails, logger)
	}

	label := principal.Label()
	var roles []string
	if outcome.Allowed() {
		roles = []string{h.role}
		logger.Info(fmt.Sprintf("User %s: access granted", label), "role", h.role)
	} else {
		logger.Info(fmt.Sprintf("User %s: access denied", label), "reason", outcome.Reason)
	}

	h.record(r, principal, outcome, requestID)
	return roles
}

func (h *Handler) record(r *http.Request, principal *auth.ClientPrincipal, outcome Outcome, requestID string) {
	metadata := map[string]any{
		audit.MetadataIdentityProvider: principal.IdentityProvider,
	}
	if outcome.Allowed() {
		metadata[audit.MetadataPermission] = outcome.Level.String()
		metadata[audit.MetadataRole] = h.role
	}
	h.audit.Log(r.Context(), audit.Event{
		Username:   principal.Label(),
		Repository: h.repository,
		Mode:       string(h.mode),
		Decision:   outcome.Kind.String(),
		Reason:     outcome.Reason,
		RequestID:  requestID,
		Metadata:   metadata,
		Source:     audit.SourceAPI,
	})
}

// ResolveLevel evaluates the caller of r the same way HandleRoles does and
// reports the repository permission it holds. It lets rbac.RequireLevel guard
// other routes with the repository as the source of truth.
func (h *Handler) ResolveLevel(r *http.Request) (rbac.PermissionLevel, error) {
	principal := auth.ExtractPrincipal(r)
	if principal == nil {
		return rbac.PermissionNone, rbac.ErrUnauthenticated
	}
	subject := principal.UserDetails
	if h.mode == ModeToken {
		subject = principal.AccessToken
	}
	if subject == "" {
		return rbac.PermissionNone, rbac.ErrUnauthenticated
	}

	outcome := h.authorizer.Evaluate(r.Context(), subject, h.logger)
	switch outcome.Kind {
	case Granted:
		return outcome.Level, nil
	case Denied:
		return rbac.PermissionNone, rbac.ErrAccessDenied
	default:
		return rbac.PermissionNone, outcome.Err
	}
}

func writeRoles(w http.ResponseWriter, roles []string) {
	if roles == nil {
		roles = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rolesResponse{Roles: roles})
}
