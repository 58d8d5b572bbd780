package server_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nuitsjp/swa-github-repo-auth/internal/access"
	"github.com/nuitsjp/swa-github-repo-auth/internal/audit"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/server"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/telemetry"
	"github.com/nuitsjp/swa-github-repo-auth/internal/rbac"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// levelAuthorizer grants each known login the mapped level.
type levelAuthorizer map[string]rbac.PermissionLevel

func (a levelAuthorizer) Evaluate(_ context.Context, subject string, _ telemetry.Logger) access.Outcome {
	level, ok := a[subject]
	if !ok || !level.GrantsAccess() {
		return access.Outcome{Kind: access.Denied, Reason: "no permission", Err: rbac.ErrAccessDenied}
	}
	return access.Outcome{Kind: access.Granted, Level: level}
}

func newTestServer(t *testing.T, logs *bytes.Buffer) *server.Server {
	t.Helper()
	h, err := access.NewHandler(access.HandlerConfig{
		Mode:       access.ModeApp,
		Repository: "octocat/demo",
		Authorizer: levelAuthorizer{"octocat": rbac.PermissionAdmin, "hubot": rbac.PermissionRead},
	})
	require.NoError(t, err)

	deps := server.Dependencies{
		AccessHandler: h,
		AuditHandler:  audit.NewHandler(nil, nil),
		AuditMinLevel: rbac.PermissionMaintain,
	}
	if logs != nil {
		deps.Logger = telemetry.NewLogger("info", "json", logs)
	}
	return server.New(":0", deps)
}

func principalHeader(login string) string {
	return base64.StdEncoding.EncodeToString([]byte(`{"identityProvider":"github","userDetails":"` + login + `"}`))
}

func TestServer_HealthCheck(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	err := json.Unmarshal(w.Body.Bytes(), &body)
	require.NoError(t, err)
	assert.Equal(t, "ok", body["status"])
}

func TestServer_ReadinessCheck_NoDB(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"audit":"disabled"`)
}

func TestServer_NotFound(t *testing.T) {
	srv := server.New(":0", server.Dependencies{})

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_AuthorizeRoute(t *testing.T) {
	var logs bytes.Buffer
	srv := newTestServer(t, &logs)

	body := `{"clientPrincipal":{"identityProvider":"github","userDetails":"octocat"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/authorize", strings.NewReader(body))
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"roles":["authorized"]}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Contains(t, logs.String(), `"msg":"http request"`)
}

func TestServer_AuthorizeRejectsGet(t *testing.T) {
	srv := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/authorize", nil)
	w := httptest.NewRecorder()

	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_DecisionsRequireMaintain(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"admin", principalHeader("octocat"), http.StatusOK},
		{"read only", principalHeader("hubot"), http.StatusForbidden},
		{"stranger", principalHeader("nobody"), http.StatusForbidden},
		{"anonymous", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions", nil)
			if tt.header != "" {
				req.Header.Set("X-MS-Client-Principal", tt.header)
			}
			w := httptest.NewRecorder()

			srv.Handler().ServeHTTP(w, req)

			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	srv := server.New("127.0.0.1:0", server.Dependencies{})

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	cancel()

	err := <-errCh
	assert.NoError(t, err)
}
