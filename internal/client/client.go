package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/protocol"
	"github.com/parleyhq/parley/internal/session"
	"github.com/parleyhq/parley/internal/store"
)

var ErrSessionNotFound = errors.New("session not found")

const (
	persistTimeout = 5 * time.Second
	maxTitleRunes  = 48
)

// Preferences are the UI-level session settings carried on every
// outbound message and persisted per session.
type Preferences struct {
	Model     string
	Mode      string
	Providers []string
}

// Client is the single coordinator between the connection, the
// conversation state machines, and persistence. All inbound envelopes
// funnel through handleEnvelope, serialized by the client mutex, so the
// state machines themselves stay lock-free.
type Client struct {
	cfg    *config.Config
	repo   store.Repository
	conn   *Conn
	userID string

	mu           sync.Mutex
	log          *conversation.Log
	acc          *conversation.Accumulator
	tracker      *conversation.Tracker
	sess         session.Context
	prefs        Preferences
	sending      bool
	turnDone     bool
	syncingPrefs bool
	statusLine   string
	lastUsage    *protocol.UsageData
	lastError    string
	onChange     func()

	// Persistence runs on a single worker so writes land in dispatch
	// order; each op gets a snapshot taken under the client mutex.
	persistCh   chan func(context.Context)
	persistDone chan struct{}
	closeOnce   sync.Once
}

// New wires a client to its backend URL and persistence. repo may be nil
// for an ephemeral, in-memory-only client.
func New(cfg *config.Config, repo store.Repository, userID string) *Client {
	log := conversation.NewLog()
	c := &Client{
		cfg:         cfg,
		repo:        repo,
		userID:      userID,
		log:         log,
		acc:         conversation.NewAccumulator(log),
		tracker:     conversation.NewTracker(log),
		persistCh:   make(chan func(context.Context), 256),
		persistDone: make(chan struct{}),
	}
	go c.persistLoop()
	c.conn = NewConn(ConnConfig{
		URL:               cfg.BackendURL,
		UserID:            userID,
		MaxAttempts:       cfg.ReconnectMaxAttempts,
		BackoffBase:       cfg.ReconnectBase,
		BackoffCap:        cfg.ReconnectCap,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		KeepaliveInterval: cfg.KeepaliveInterval,
	}, c.handleEnvelope)
	return c
}

// Connect starts the backend connection. Idempotent.
func (c *Client) Connect() { c.conn.Connect() }

// Disconnect tears down the connection and stops reconnecting.
func (c *Client) Disconnect() { c.conn.Disconnect() }

// Close disconnects and shuts down the persistence worker after draining
// queued writes.
func (c *Client) Close() {
	c.conn.Disconnect()
	c.closeOnce.Do(func() { close(c.persistDone) })
}

// ConnState reports the connection status.
func (c *Client) ConnState() ConnState { return c.conn.State() }

// SetOnChange registers a callback invoked after every state mutation.
// The callback runs outside the client lock.
func (c *Client) SetOnChange(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// Entries returns a deep snapshot of the conversation log. Live entries
// keep mutating under the client lock, so callers get copies.
func (c *Client) Entries() []*conversation.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.log.Entries()
	out := make([]*conversation.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, copyEntry(e))
	}
	return out
}

// Sending reports whether a turn is in flight.
func (c *Client) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// SessionID returns the active session id, empty when none.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess.SessionID
}

// Preferences returns the current session preferences.
func (c *Client) Preferences() Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs
}

// StatusLine returns the transient backend activity line, empty when idle.
func (c *Client) StatusLine() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLine
}

// LastUsage returns token accounting from the most recent completed turn,
// nil when none has been reported.
func (c *Client) LastUsage() *protocol.UsageData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsage
}

// LastError returns the most recent backend-reported error message.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// Send submits a user message. It refuses empty input, overlapping sends,
// and sends while disconnected, in that order. The first send of a fresh
// client lazily creates a session; the user entry is echoed into the log
// before the write so the UI renders it immediately.
func (c *Client) Send(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	c.mu.Lock()
	if c.sending {
		slog.Warn("send rejected, previous turn still in flight")
		c.mu.Unlock()
		return false
	}
	if !c.conn.State().IsConnected {
		slog.Warn("send rejected, not connected")
		c.mu.Unlock()
		return false
	}

	// The session id switches before the message goes out so replies
	// tagged with it pass the guard.
	if !c.sess.Active() {
		c.createSessionLocked(text)
	}

	entry := c.log.Append(&conversation.Entry{
		Sender: conversation.SenderUser,
		Text:   text,
	})

	msg := protocol.NewSendMessage(text, c.userID, c.sess.SessionID)
	msg.Model = c.prefs.Model
	msg.Mode = c.prefs.Mode
	msg.ProviderPreference = c.prefs.Providers
	msg.UIState = protocol.UIState{
		SelectedModel:     c.prefs.Model,
		SelectedMode:      c.prefs.Mode,
		SelectedProviders: c.prefs.Providers,
	}

	c.sending = true
	c.turnDone = false
	c.lastError = ""
	sessID := c.sess.SessionID
	c.mu.Unlock()

	c.persistEntry(sessID, entry)

	if !c.conn.Send(msg) {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
		return false
	}
	c.notifyChange()
	return true
}

// RespondToConfirmation answers a pending execution confirmation. The
// decision is sent to the backend and applied locally: cancel completes
// the call immediately, execute returns it to running.
func (c *Client) RespondToConfirmation(confirmationID string, execute bool) bool {
	decision := protocol.DecisionCancel
	if execute {
		decision = protocol.DecisionExecute
	}

	c.mu.Lock()
	sessID := c.sess.SessionID
	c.mu.Unlock()

	ok := c.conn.Send(protocol.NewConfirmationResponse(confirmationID, decision, c.userID, sessID))

	c.mu.Lock()
	call := c.tracker.ApplyDecision(confirmationID, execute)
	c.mu.Unlock()

	if call != nil {
		c.persistToolCall(sessID, call)
		c.notifyChange()
	}
	return ok
}

// Cancel abandons the in-flight turn. The backend request is advisory;
// local sending state clears and any open streaming entry is finalized
// with its partial text regardless of delivery.
func (c *Client) Cancel() {
	c.mu.Lock()
	sessID := c.sess.SessionID
	c.mu.Unlock()

	c.conn.Send(protocol.NewCancelRequest(c.userID, sessID))

	c.mu.Lock()
	c.sending = false
	c.statusLine = ""
	entry := c.acc.Finish()
	c.mu.Unlock()

	if entry != nil {
		c.persistEntry(sessID, entry)
	}
	c.notifyChange()
}

// CallTool invokes a backend tool directly, bypassing the agent loop.
func (c *Client) CallTool(toolName string, params json.RawMessage) bool {
	c.mu.Lock()
	sessID := c.sess.SessionID
	c.mu.Unlock()

	return c.conn.Send(&protocol.DirectToolCall{
		UserID:    c.userID,
		SessionID: sessID,
		DirectToolCall: protocol.ToolInvocation{
			ToolName:   toolName,
			Parameters: params,
		},
	})
}

// SetPreferences records new session preferences and persists them. While
// a pushed preference update is propagating back through the change
// listener this is a record-only call, otherwise the listener echo would
// persist the same values in a loop.
func (c *Client) SetPreferences(p Preferences) {
	c.mu.Lock()
	c.prefs = p
	suppressed := c.syncingPrefs
	sessID := c.sess.SessionID
	c.mu.Unlock()

	if suppressed || sessID == "" || c.repo == nil {
		return
	}
	providers := append([]string(nil), p.Providers...)
	c.enqueuePersist(func(ctx context.Context) {
		if err := c.repo.UpdateSessionPrefs(ctx, sessID, p.Model, p.Mode, providers); err != nil {
			slog.Warn("failed to persist preferences", "session_id", sessID, "error", err)
		}
	})
}

// SwitchSession loads a persisted conversation and makes it active. The
// ordering is fixed: flush any open streaming entry into the previous
// session, reset the tracker and send state, then install the loaded log.
// Stuck tool calls are repaired before the conversation is shown.
func (c *Client) SwitchSession(ctx context.Context, sessionID string) error {
	if c.repo == nil {
		return errors.New("no session store configured")
	}

	c.mu.Lock()
	if sessionID == c.sess.SessionID {
		c.mu.Unlock()
		return nil
	}
	prevSess := c.sess.SessionID
	flushed := c.acc.Finish()
	c.tracker.Reset()
	c.sending = false
	c.turnDone = false
	c.statusLine = ""
	c.lastUsage = nil
	c.mu.Unlock()

	if flushed != nil && prevSess != "" {
		c.persistEntry(prevSess, flushed)
	}

	sess, err := c.repo.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return ErrSessionNotFound
	}
	entries, err := c.repo.LoadConversation(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	c.mu.Lock()
	c.log.Replace(entries)
	repaired := conversation.RepairStale(c.log, conversation.JanitorOptions{
		LoadedFromPersistence: true,
		SessionUpdatedAt:      sess.UpdatedAt,
		StaleAfter:            c.cfg.StaleToolAfter,
	})
	c.acc.Reset()
	c.sess = session.Context{SessionID: sessionID}
	c.prefs = Preferences{Model: sess.Model, Mode: sess.Mode, Providers: sess.Providers}
	c.mu.Unlock()

	for _, call := range repaired {
		c.persistToolCall(sessionID, call)
	}
	c.notifyChange()
	return nil
}

// NewSession clears the conversation; the next Send lazily creates a
// fresh session. Partial streamed text is flushed to the old session
// before anything resets.
func (c *Client) NewSession() {
	c.mu.Lock()
	prevSess := c.sess.SessionID
	flushed := c.acc.Finish()
	c.tracker.Reset()
	c.log.Reset()
	c.acc.Reset()
	c.sess = session.Context{}
	c.sending = false
	c.turnDone = false
	c.statusLine = ""
	c.lastUsage = nil
	c.lastError = ""
	c.mu.Unlock()

	if flushed != nil && prevSess != "" {
		c.persistEntry(prevSess, flushed)
	}
	c.notifyChange()
}

// handleEnvelope is the dispatch loop body: every inbound envelope passes
// the session guard, mutates state under the lock, then persistence and
// change notification happen outside it.
func (c *Client) handleEnvelope(env *protocol.Envelope) {
	c.mu.Lock()

	if !session.Accept(env, c.sess.SessionID) {
		slog.Debug("dropping envelope for inactive session",
			"type", env.Type, "session_id", env.SessionID)
		c.mu.Unlock()
		return
	}

	var entries []*conversation.Entry
	var calls []*conversation.ToolCall
	var touch bool
	prefsPushed := false
	sessID := c.sess.SessionID

	switch env.Type {
	case protocol.TypeMessage, protocol.TypeThinking:
		thinking := env.Type == protocol.TypeThinking
		c.acc.Append(env.Message.Text, thinking)
		if classifyBoundary(env.Message, c.sending, c.cfg.ChunkHeuristic, c.cfg.ChunkThreshold) == boundaryFinal {
			if e := c.acc.Finish(); e != nil {
				entries = append(entries, e)
			}
		}

	case protocol.TypeToolCall:
		// A tool call closes any open streaming entry so the log stays
		// chronological.
		if e := c.acc.Finish(); e != nil {
			entries = append(entries, e)
		}
		if _, entry := c.tracker.StartCall(env.ToolCall.ID, env.ToolCall.ToolName, env.ToolCall.Input); entry != nil {
			entries = append(entries, entry)
		}

	case protocol.TypeToolResult:
		if call := c.tracker.ResolveCall(env.ToolResult.ID, env.ToolResult.Output, env.ToolResult.Error); call != nil {
			calls = append(calls, call)
		}

	case protocol.TypeToolStatus:
		if env.ToolStatus.Status == protocol.StatusSettingUpEnvironment {
			if call := c.tracker.MarkEnvironmentSetup(); call != nil {
				calls = append(calls, call)
			}
		} else {
			slog.Debug("ignoring tool status", "status", env.ToolStatus.Status)
		}

	case protocol.TypeExecutionConfirmation:
		d := env.Confirmation
		if call := c.tracker.RequestConfirmation(d.ToolName, d.ConfirmationID, d.Message); call != nil {
			calls = append(calls, call)
		}

	case protocol.TypeError:
		d := env.Error
		if d.Code == protocol.CodeReadOnlyMode {
			// Read-only rejections read as an ordinary reply.
			if e := c.acc.Finish(); e != nil {
				entries = append(entries, e)
			}
			entries = append(entries, c.log.Append(&conversation.Entry{
				Sender: conversation.SenderBot,
				Text:   d.Message,
			}))
		} else {
			c.lastError = d.Message
			slog.Warn("backend error", "code", d.Code, "message", d.Message)
		}
		c.sending = false
		c.statusLine = ""

	case protocol.TypeStatus:
		c.statusLine = env.Status.State
		if env.Status.Detail != "" {
			c.statusLine = env.Status.State + ": " + env.Status.Detail
		}

	case protocol.TypeComplete, protocol.TypeFinished, protocol.TypeUsageInfo:
		if env.Usage != nil {
			c.lastUsage = env.Usage
		}
		if c.turnDone {
			slog.Debug("duplicate completion signal, ignoring", "type", env.Type)
			break
		}
		c.turnDone = true
		c.sending = false
		c.statusLine = ""
		if e := c.acc.Finish(); e != nil {
			entries = append(entries, e)
		}
		touch = true

	case protocol.TypeControl:
		if env.Control.Action == "set_preferences" {
			c.syncingPrefs = true
			c.prefs = Preferences{
				Model:     env.Control.Model,
				Mode:      env.Control.Mode,
				Providers: env.Control.Providers,
			}
			prefsPushed = true
		} else {
			slog.Debug("ignoring control action", "action", env.Control.Action)
		}
	}

	c.mu.Unlock()

	for _, e := range entries {
		c.persistEntry(sessID, e)
	}
	for _, call := range calls {
		c.persistToolCall(sessID, call)
	}
	if touch {
		c.touchSession(sessID)
	}

	// The listener may echo pushed preferences back through
	// SetPreferences; the flag stays up until the echo has run.
	c.notifyChange()
	if prefsPushed {
		c.mu.Lock()
		c.syncingPrefs = false
		c.mu.Unlock()
	}
}

// createSessionLocked establishes a session for the first send. The
// caller holds the lock.
func (c *Client) createSessionLocked(firstMessage string) {
	id := uuid.NewString()
	c.sess = session.Context{SessionID: id, CreatedLocally: true}
	slog.Info("created session", "session_id", id)

	if c.repo == nil {
		return
	}
	rec := &store.Session{
		SessionID:      id,
		Title:          deriveTitle(firstMessage),
		Model:          c.prefs.Model,
		Mode:           c.prefs.Mode,
		Providers:      append([]string(nil), c.prefs.Providers...),
		CreatedLocally: true,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	c.enqueuePersist(func(ctx context.Context) {
		if err := c.repo.CreateSession(ctx, rec); err != nil {
			slog.Warn("failed to persist session", "session_id", id, "error", err)
		}
	})
}

// persistLoop is the single persistence worker. Running every write on
// one goroutine keeps DB effects in dispatch order: the insert for a
// tool_call always lands before the update for its tool_result.
func (c *Client) persistLoop() {
	for {
		select {
		case fn := <-c.persistCh:
			c.runPersist(fn)
		case <-c.persistDone:
			for {
				select {
				case fn := <-c.persistCh:
					c.runPersist(fn)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) runPersist(fn func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	fn(ctx)
}

func (c *Client) enqueuePersist(fn func(context.Context)) {
	select {
	case c.persistCh <- fn:
	case <-c.persistDone:
	}
}

// persistEntry queues a write of the entry as it is right now. The live
// entry keeps mutating on later envelopes, so the worker gets a deep
// snapshot taken under the client mutex.
func (c *Client) persistEntry(sessionID string, e *conversation.Entry) {
	if c.repo == nil || sessionID == "" {
		return
	}
	c.mu.Lock()
	snap := copyEntry(e)
	c.mu.Unlock()

	c.enqueuePersist(func(ctx context.Context) {
		if err := c.repo.SaveEntry(ctx, sessionID, snap); err != nil {
			slog.Warn("failed to persist entry", "session_id", sessionID, "entry_id", snap.ID, "error", err)
		}
	})
}

func (c *Client) persistToolCall(sessionID string, call *conversation.ToolCall) {
	if c.repo == nil || sessionID == "" {
		return
	}
	c.mu.Lock()
	snap := copyToolCall(call)
	c.mu.Unlock()

	c.enqueuePersist(func(ctx context.Context) {
		if err := c.repo.UpdateToolCall(ctx, sessionID, snap); err != nil {
			slog.Warn("failed to persist tool call", "session_id", sessionID, "tool_id", snap.ID, "error", err)
		}
	})
}

func (c *Client) touchSession(sessionID string) {
	if c.repo == nil || sessionID == "" {
		return
	}
	at := time.Now()
	c.enqueuePersist(func(ctx context.Context) {
		if err := c.repo.TouchSession(ctx, sessionID, at); err != nil {
			slog.Warn("failed to touch session", "session_id", sessionID, "error", err)
		}
	})
}

func copyEntry(e *conversation.Entry) *conversation.Entry {
	ce := *e
	if len(e.ToolCalls) > 0 {
		calls := make([]*conversation.ToolCall, len(e.ToolCalls))
		for i, call := range e.ToolCalls {
			calls[i] = copyToolCall(call)
		}
		ce.ToolCalls = calls
	}
	return &ce
}

func copyToolCall(call *conversation.ToolCall) *conversation.ToolCall {
	cc := *call
	return &cc
}

func (c *Client) notifyChange() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// deriveTitle builds a session title from the first message, truncated on
// a rune boundary.
func deriveTitle(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= maxTitleRunes {
		return string(runes)
	}
	return string(runes[:maxTitleRunes]) + "..."
}
