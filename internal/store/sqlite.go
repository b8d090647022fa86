package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parleyhq/parley/internal/conversation"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Serializes writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		model TEXT,
		mode TEXT,
		providers_json TEXT,
		created_locally INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		session_id TEXT NOT NULL,
		entry_id INTEGER NOT NULL,
		sender TEXT NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		thinking INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, entry_id)
	);

	CREATE TABLE IF NOT EXISTS tool_calls (
		session_id TEXT NOT NULL,
		tool_id TEXT NOT NULL,
		entry_id INTEGER NOT NULL,
		tool_name TEXT NOT NULL,
		input TEXT,
		output TEXT,
		error TEXT,
		status TEXT NOT NULL,
		confirmation_id TEXT,
		confirmation_message TEXT,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (session_id, tool_id)
	);
	CREATE INDEX IF NOT EXISTS idx_tool_calls_entry ON tool_calls(session_id, entry_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// CreateSession inserts a new session record.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *Session) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	providers, err := marshalProviders(sess.Providers)
	if err != nil {
		return err
	}

	query := `
	INSERT INTO sessions (session_id, title, model, mode, providers_json, created_locally, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		sess.SessionID, sess.Title, sess.Model, sess.Mode, providers,
		boolToInt(sess.CreatedLocally), sess.CreatedAt.Unix(), sess.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `
		SELECT session_id, title, model, mode, providers_json, created_locally, created_at, updated_at
		FROM sessions WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return sess, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *SQLiteStore) ListSessions(ctx context.Context) ([]*Session, error) {
	query := `
		SELECT session_id, title, model, mode, providers_json, created_locally, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// UpdateSessionPrefs persists the session's UI preferences.
func (s *SQLiteStore) UpdateSessionPrefs(ctx context.Context, sessionID, model, mode string, providers []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	providersJSON, err := marshalProviders(providers)
	if err != nil {
		return err
	}

	query := `UPDATE sessions SET model = ?, mode = ?, providers_json = ?, updated_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, model, mode, providersJSON, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("update session prefs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateSessionPrefs affected 0 rows", "session_id", sessionID)
	}
	return nil
}

// TouchSession bumps the session's updated_at timestamp.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `UPDATE sessions SET updated_at = ? WHERE session_id = ?`
	if _, err := s.db.ExecContext(ctx, query, at.Unix(), sessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// SaveEntry upserts one log entry and its tool calls.
func (s *SQLiteStore) SaveEntry(ctx context.Context, sessionID string, e *conversation.Entry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO messages (session_id, entry_id, sender, text, thinking, created_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, entry_id) DO UPDATE SET
		text = excluded.text,
		thinking = excluded.thinking`

	err := withBusyRetry(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, query,
			sessionID, e.ID, string(e.Sender), e.Text, boolToInt(e.Thinking), time.Now().Unix(),
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("save entry: %w", err)
	}

	for _, call := range e.ToolCalls {
		if err := s.upsertToolCall(ctx, sessionID, e.ID, call); err != nil {
			return err
		}
	}
	return nil
}

// UpdateToolCall persists a tool call's current state.
func (s *SQLiteStore) UpdateToolCall(ctx context.Context, sessionID string, call *conversation.ToolCall) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	UPDATE tool_calls SET output = ?, error = ?, status = ?, confirmation_id = ?, confirmation_message = ?
	WHERE session_id = ? AND tool_id = ?`

	var result sql.Result
	err := withBusyRetry(ctx, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query,
			call.Output, call.Error, string(call.Status),
			call.ConfirmationID, call.ConfirmationMessage,
			sessionID, call.ID,
		)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update tool call: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateToolCall affected 0 rows", "session_id", sessionID, "tool_id", call.ID)
	}
	return nil
}

// LoadConversation returns a session's entries in log order.
func (s *SQLiteStore) LoadConversation(ctx context.Context, sessionID string) ([]*conversation.Entry, error) {
	query := `
		SELECT entry_id, sender, text, thinking
		FROM messages WHERE session_id = ? ORDER BY entry_id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close message rows", "error", closeErr)
		}
	}()

	byEntry := make(map[int64]*conversation.Entry)
	var entries []*conversation.Entry
	for rows.Next() {
		var e conversation.Entry
		var thinking int
		var sender string
		if err := rows.Scan(&e.ID, &sender, &e.Text, &thinking); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		e.Sender = conversation.Sender(sender)
		e.Thinking = thinking != 0
		byEntry[e.ID] = &e
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	if err := s.attachToolCalls(ctx, sessionID, byEntry); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *SQLiteStore) attachToolCalls(ctx context.Context, sessionID string, byEntry map[int64]*conversation.Entry) error {
	query := `
		SELECT tool_id, entry_id, tool_name, input, output, error, status,
		       confirmation_id, confirmation_message, created_at
		FROM tool_calls WHERE session_id = ? ORDER BY created_at, tool_id`

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("query tool calls: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close tool call rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		var call conversation.ToolCall
		var entryID, createdAt int64
		var input, output, errMsg, confirmationID, confirmationMessage sql.NullString
		var status string

		if err := rows.Scan(
			&call.ID, &entryID, &call.ToolName, &input, &output, &errMsg,
			&status, &confirmationID, &confirmationMessage, &createdAt,
		); err != nil {
			return fmt.Errorf("scan tool call row: %w", err)
		}

		if input.Valid {
			call.Input = json.RawMessage(input.String)
		}
		call.Output = output.String
		call.Error = errMsg.String
		call.Status = conversation.ToolStatus(status)
		call.ConfirmationID = confirmationID.String
		call.ConfirmationMessage = confirmationMessage.String
		call.Timestamp = time.Unix(createdAt, 0)

		entry, ok := byEntry[entryID]
		if !ok {
			slog.Warn("tool call references missing entry", "session_id", sessionID, "tool_id", call.ID)
			continue
		}
		entry.ToolCalls = append(entry.ToolCalls, &call)
	}
	return rows.Err()
}

func (s *SQLiteStore) upsertToolCall(ctx context.Context, sessionID string, entryID int64, call *conversation.ToolCall) error {
	query := `
	INSERT INTO tool_calls (
		session_id, tool_id, entry_id, tool_name, input, output, error, status,
		confirmation_id, confirmation_message, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id, tool_id) DO UPDATE SET
		output = excluded.output,
		error = excluded.error,
		status = excluded.status,
		confirmation_id = excluded.confirmation_id,
		confirmation_message = excluded.confirmation_message`

	var input interface{}
	if len(call.Input) > 0 {
		input = string(call.Input)
	}

	ts := call.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		sessionID, call.ID, entryID, call.ToolName, input,
		call.Output, call.Error, string(call.Status),
		call.ConfirmationID, call.ConfirmationMessage, ts.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert tool call: %w", err)
	}
	return nil
}

func scanSession(scan func(dest ...any) error) (*Session, error) {
	var sess Session
	var model, mode, providers sql.NullString
	var createdLocally int
	var createdAt, updatedAt int64

	err := scan(
		&sess.SessionID, &sess.Title, &model, &mode, &providers,
		&createdLocally, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	sess.Model = model.String
	sess.Mode = mode.String
	sess.CreatedLocally = createdLocally != 0
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)

	if providers.Valid && providers.String != "" {
		if err := json.Unmarshal([]byte(providers.String), &sess.Providers); err != nil {
			return nil, fmt.Errorf("decode providers: %w", err)
		}
	}
	return &sess, nil
}

func marshalProviders(providers []string) (interface{}, error) {
	if len(providers) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(providers)
	if err != nil {
		return nil, fmt.Errorf("encode providers: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
