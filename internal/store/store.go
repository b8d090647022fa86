// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/parleyhq/parley/internal/conversation"
)

// Session is one persisted conversation with its UI preferences.
type Session struct {
	SessionID      string
	Title          string
	Model          string
	Mode           string
	Providers      []string
	CreatedLocally bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository defines the interface for persisting sessions and their
// conversation logs.
type Repository interface {
	// CreateSession inserts a new session record.
	CreateSession(ctx context.Context, s *Session) error

	// GetSession retrieves a session by id. Returns nil when not found.
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// ListSessions returns all sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]*Session, error)

	// UpdateSessionPrefs persists the session's UI preferences.
	UpdateSessionPrefs(ctx context.Context, sessionID, model, mode string, providers []string) error

	// TouchSession bumps the session's updated_at timestamp.
	TouchSession(ctx context.Context, sessionID string, at time.Time) error

	// SaveEntry upserts one log entry (and its tool calls) for a session.
	SaveEntry(ctx context.Context, sessionID string, e *conversation.Entry) error

	// UpdateToolCall persists a tool call's current state.
	UpdateToolCall(ctx context.Context, sessionID string, call *conversation.ToolCall) error

	// LoadConversation returns a session's entries in log order.
	LoadConversation(ctx context.Context, sessionID string) ([]*conversation.Entry, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
