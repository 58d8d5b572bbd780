package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nuitsjp/swa-github-repo-auth/internal/access"
	"github.com/nuitsjp/swa-github-repo-auth/internal/audit"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/middleware"
	"github.com/nuitsjp/swa-github-repo-auth/internal/rbac"
)

// Dependencies holds all injected dependencies for the server.
type Dependencies struct {
	Pool          *pgxpool.Pool
	AccessHandler *access.Handler
	AuditHandler  *audit.Handler
	AuditMinLevel rbac.PermissionLevel // required to list decisions
	Logger        *slog.Logger
}

type Server struct {
	httpServer *http.Server
	pool       *pgxpool.Pool
	handler    http.Handler
}

func New(addr string, deps Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		pool: deps.Pool,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReadiness)

	if deps.AccessHandler != nil {
		deps.AccessHandler.RegisterRoutes(mux)
	}

	// Decision history, visible to sufficiently privileged collaborators
	if deps.AuditHandler != nil && deps.AccessHandler != nil {
		var opts []rbac.MiddlewareOption
		if deps.Logger != nil {
			opts = append(opts, rbac.WithLogger(deps.Logger))
		}
		mux.Handle("GET /api/v1/decisions",
			rbac.RequireLevel(deps.AccessHandler, deps.AuditMinLevel, opts...)(
				http.HandlerFunc(deps.AuditHandler.HandleListDecisions),
			),
		)
	}

	var handler http.Handler = mux
	if deps.Logger != nil {
		handler = middleware.Logging(deps.Logger)(handler)
	}
	handler = middleware.RequestID(handler)

	s.handler = handler
	s.httpServer.Handler = handler
	return s
}

// Handler returns the full middleware-wrapped handler chain (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}

	slog.Info("server starting", "addr", listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadiness reports ready without a database: the audit trail is
// optional and authorization does not depend on it.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "audit": "disabled"})
		return
	}

	if err := s.pool.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database ping failed",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "audit": "enabled"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
