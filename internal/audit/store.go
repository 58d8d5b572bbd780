package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nuitsjp/swa-github-repo-auth/internal/platform/database"
)

// Store handles decision persistence.
type Store struct{}

// NewStore creates an audit Store.
func NewStore() *Store {
	return &Store{}
}

// InsertBatch writes a batch of events to the database.
func (s *Store) InsertBatch(ctx context.Context, db database.Querier, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	sql, args, err := buildBatchInsert(events)
	if err != nil {
		return fmt.Errorf("building batch insert: %w", err)
	}
	_, err = db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("inserting access decisions: %w", err)
	}
	return nil
}

const insertColumns = "(id, username, repository, mode, decision, reason, request_id, metadata, source, created_at)"

// buildBatchInsert constructs a multi-row INSERT statement.
func buildBatchInsert(events []Event) (string, []any, error) {
	const width = 10
	placeholders := make([]string, 0, len(events))
	args := make([]any, 0, len(events)*width)

	for i, e := range events {
		marks := make([]string, width)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", i*width+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ", ")+")")

		var metaJSON []byte
		if e.Metadata != nil {
			var err error
			metaJSON, err = json.Marshal(e.Metadata)
			if err != nil {
				return "", nil, fmt.Errorf("marshaling metadata: %w", err)
			}
		}

		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdAt := e.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		args = append(args, id, e.Username, e.Repository, e.Mode, e.Decision,
			nullable(e.Reason), nullable(e.RequestID), metaJSON, e.Source, createdAt)
	}

	sql := fmt.Sprintf("INSERT INTO access_decisions %s VALUES %s", insertColumns, strings.Join(placeholders, ", "))
	return sql, args, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ListParams defines filters for querying decisions.
type ListParams struct {
	Username *string
	Decision *string
	After    *time.Time
	Before   *time.Time
	Limit    int
}

// List returns the most recent decisions matching p, newest first.
func (s *Store) List(ctx context.Context, db database.Querier, p ListParams) ([]Event, error) {
	sql, args := buildListQuery(p)
	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying access decisions: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e         Event
			reason    *string
			requestID *string
			metadata  []byte
		)
		if err := rows.Scan(&e.ID, &e.Username, &e.Repository, &e.Mode, &e.Decision,
			&reason, &requestID, &metadata, &e.Source, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning access decision: %w", err)
		}
		if reason != nil {
			e.Reason = *reason
		}
		if requestID != nil {
			e.RequestID = *requestID
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata for %s: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading access decisions: %w", err)
	}
	return events, nil
}

// buildListQuery constructs a parameterized SELECT for decisions.
func buildListQuery(p ListParams) (string, []any) {
	var conditions []string
	var args []any
	argN := 1

	if p.Username != nil {
		conditions = append(conditions, fmt.Sprintf("username = $%d", argN))
		args = append(args, *p.Username)
		argN++
	}
	if p.Decision != nil {
		conditions = append(conditions, fmt.Sprintf("decision = $%d", argN))
		args = append(args, *p.Decision)
		argN++
	}
	if p.After != nil {
		conditions = append(conditions, fmt.Sprintf("created_at > $%d", argN))
		args = append(args, *p.After)
		argN++
	}
	if p.Before != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argN))
		args = append(args, *p.Before)
		argN++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ") + "\n\t\t"
	}

	sql := fmt.Sprintf(
		`SELECT id, username, repository, mode, decision, reason, request_id, metadata, source, created_at
		FROM access_decisions
		%sORDER BY created_at DESC
		LIMIT $%d`,
		where, argN,
	)
	args = append(args, p.Limit)

	return sql, args
}
