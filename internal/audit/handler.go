package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/database"
)

// Handler serves decision query endpoints.
type Handler struct {
	db    database.Querier
	store *Store
}

// NewHandler creates a decision query handler. A nil db serves empty results.
func NewHandler(db database.Querier, store *Store) *Handler {
	if store == nil {
		store = NewStore()
	}
	return &Handler{db: db, store: store}
}

// HandleListDecisions returns recent access decisions.
// GET /api/v1/decisions?limit=50&username=octocat&decision=denied&after=<timestamp>
func (h *Handler) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	params := ListParams{Limit: 50}
	if raw := q.Get("limit"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil || n == 0 || n > 200 {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be between 1 and 200"})
			return
		}
		params.Limit = n
	}
	if raw := q.Get("username"); raw != "" {
		params.Username = &raw
	}
	if raw := q.Get("decision"); raw != "" {
		switch raw {
		case DecisionGranted, DecisionDenied, DecisionError:
			params.Decision = &raw
		default:
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown decision filter"})
			return
		}
	}
	for key, dst := range map[string]**time.Time{"after": &params.After, "before": &params.Before} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeAuditJSON(w, http.StatusBadRequest, map[string]string{"error": key + " must be RFC3339"})
			return
		}
		*dst = &t
	}

	if h.db == nil {
		writeAuditJSON(w, http.StatusOK, map[string]any{"decisions": []any{}, "count": 0})
		return
	}

	events, err := h.store.List(r.Context(), h.db, params)
	if err != nil {
		slog.Error("listing access decisions", "error", err)
		writeAuditJSON(w, http.StatusInternalServerError, map[string]string{"error": "query failed"})
		return
	}

	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"id":         e.ID,
			"username":   e.Username,
			"repository": e.Repository,
			"mode":       e.Mode,
			"decision":   e.Decision,
			"reason":     e.Reason,
			"request_id": e.RequestID,
			"metadata":   e.Metadata,
			"source":     e.Source,
			"created_at": e.CreatedAt,
		})
	}

	writeAuditJSON(w, http.StatusOK, map[string]any{"decisions": out, "count": len(out)})
}

func writeAuditJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parsePositiveInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid")
		}
		n = n*10 + int(c-'0')
		if n > 1<<20 {
			return 0, fmt.Errorf("too large")
		}
	}
	return n, nil
}
