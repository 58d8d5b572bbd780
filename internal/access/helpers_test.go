package access_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nuitsjp/swa-github-repo-auth/internal/github"
	"github.com/stretchr/testify/require"
)

var (
	keyOnce sync.Once
	keyPEM  string
	keyErr  error
)

func testKeyPEM(t *testing.T) string {
	t.Helper()
	keyOnce.Do(func() {
		var key *rsa.PrivateKey
		key, keyErr = rsa.GenerateKey(rand.Reader, 2048)
		if keyErr != nil {
			return
		}
		keyPEM = string(pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		}))
	})
	require.NoError(t, keyErr)
	return keyPEM
}

type logEntry struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordingLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

// mentions reports whether any entry at level has text in its message or
// in one of its string attribute values.
func (l *recordingLogger) mentions(level, text string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.level != level {
			continue
		}
		if strings.Contains(e.msg, text) {
			return true
		}
		for _, a := range e.args {
			if s, ok := a.(string); ok && strings.Contains(s, text) {
				return true
			}
		}
	}
	return false
}

// fakeGitHub serves the installation token and collaborator permission
// endpoints for octocat/demo with installation 2.
type fakeGitHub struct {
	mu          sync.Mutex
	permissions map[string]string // login -> permission; absent -> 404
	permStatus  atomic.Int32      // non-zero overrides the permission response
	tokenStatus atomic.Int32

	exchanges   atomic.Int32
	permChecks  atomic.Int32
	issuedToken atomic.Int32
}

func newFakeGitHub(t *testing.T) (*fakeGitHub, *httptest.Server) {
	f := &fakeGitHub{permissions: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /app/installations/2/access_tokens", f.handleToken)
	mux.HandleFunc("GET /repos/octocat/demo/collaborators/{user}/permission", f.handlePermission)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeGitHub) setPermission(user, perm string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permissions[user] = perm
}

func (f *fakeGitHub) handleToken(w http.ResponseWriter, r *http.Request) {
	f.exchanges.Add(1)
	if status := f.tokenStatus.Load(); status != 0 {
		w.WriteHeader(int(status))
		return
	}
	n := f.issuedToken.Add(1)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"token":      "inst-" + string(rune('0'+n)),
		"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	})
}

func (f *fakeGitHub) handlePermission(w http.ResponseWriter, r *http.Request) {
	f.permChecks.Add(1)
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer inst-") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if status := f.permStatus.Load(); status != 0 {
		w.WriteHeader(int(status))
		return
	}
	f.mu.Lock()
	perm, ok := f.permissions[r.PathValue("user")]
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"permission": perm})
}

func newClient(t *testing.T, baseURL string) *github.Client {
	t.Helper()
	c, err := github.NewClient(github.ClientConfig{BaseURL: baseURL, Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}
