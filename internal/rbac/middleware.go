package rbac

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/telemetry"
)

// ErrUnauthenticated means the request carried no usable identity.
var ErrUnauthenticated = errors.New("authentication required")

// LevelResolver reports the repository permission held by the caller of r.
type LevelResolver interface {
	ResolveLevel(r *http.Request) (PermissionLevel, error)
}

// MiddlewareOption configures RBAC middleware behavior.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	logger telemetry.Logger
}

// WithLogger attaches a logger that records every refusal.
func WithLogger(logger telemetry.Logger) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.logger = logger
	}
}

// RequireLevel returns middleware that lets a request through only when its
// caller holds at least min on the repository.
func RequireLevel(resolver LevelResolver, min PermissionLevel, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	var mc middlewareConfig
	for _, opt := range opts {
		opt(&mc)
	}
	logger := telemetry.OrNop(mc.logger)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			level, err := resolver.ResolveLevel(r)
			switch {
			case errors.Is(err, ErrUnauthenticated):
				logger.Warn("rbac refused request", "path", r.URL.Path, "reason", "unauthenticated")
				writeError(w, http.StatusUnauthorized, map[string]string{
					"error": "authentication required",
				})
				return
			case errors.Is(err, ErrAccessDenied):
				// Explicit negative answer; fall through to the level check.
				level = PermissionNone
			case err != nil:
				logger.Error("rbac check failed", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusInternalServerError, map[string]string{
					"error": "authorization check failed",
				})
				return
			}

			if !level.AtLeast(min) {
				decision := Decision{Allowed: false, Reason: "requires " + min.String() + ", has " + level.String()}
				logger.Warn("rbac refused request", "path", r.URL.Path, "reason", decision.Reason)
				writeError(w, http.StatusForbidden, map[string]string{
					"error":  "forbidden",
					"reason": decision.Reason,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeError(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
