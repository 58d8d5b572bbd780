package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one recorded access decision.
type Event struct {
	ID         uuid.UUID
	Username   string // login or principal label; empty when none was supplied
	Repository string // "owner/name"
	Mode       string // "app" or "token"
	Decision   string // "granted", "denied", "error"
	Reason     string
	RequestID  string
	Metadata   map[string]any
	Source     string // "api", "cli"
	CreatedAt  time.Time
}

const (
	DecisionGranted = "granted"
	DecisionDenied  = "denied"
	DecisionError   = "error"
)

const (
	SourceAPI = "api"
	SourceCLI = "cli"
)

const (
	MetadataIdentityProvider = "identity_provider"
	MetadataPermission       = "permission"
	MetadataRole             = "role"
)

// Logger is the audit logging interface. Log is fire-and-forget.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }
