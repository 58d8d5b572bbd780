package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleListDecisions_NilPool(t *testing.T) {
	h := NewHandler(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions", nil)
	w := httptest.NewRecorder()

	h.HandleListDecisions(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
	assert.Contains(t, w.Body.String(), `"decisions":[]`)
}

func TestHandleListDecisions_ValidFilters(t *testing.T) {
	h := NewHandler(nil, nil)
	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/decisions?limit=25&username=octocat&decision=denied&after=2026-02-25T00:00:00Z",
		nil,
	)
	w := httptest.NewRecorder()

	h.HandleListDecisions(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":0`)
}

func TestHandleListDecisions_BadRequests(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"zero limit", "limit=0"},
		{"limit too large", "limit=500"},
		{"non-numeric limit", "limit=ten"},
		{"unknown decision", "decision=maybe"},
		{"bad after", "after=yesterday"},
		{"bad before", "before=2026-02-26"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(nil, nil)
			req := httptest.NewRequest(http.MethodGet, "/api/v1/decisions?"+tt.query, nil)
			w := httptest.NewRecorder()

			h.HandleListDecisions(w, req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}
