// Package client owns the single duplex connection to the agent backend
// and rebuilds the conversation from its event stream: connection
// lifecycle with bounded reconnect, envelope dispatch, and outbound send
// coordination.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/parleyhq/parley/internal/protocol"
)

// ConnState is the observable connection status.
type ConnState struct {
	IsConnected       bool
	IsConnecting      bool
	Err               error
	ReconnectAttempts int
}

type connPhase int

const (
	phaseIdle connPhase = iota
	phaseConnecting
	phaseOpen
	phaseClosed
)

// ConnConfig bounds the reconnect behavior of a Conn.
type ConnConfig struct {
	URL               string
	UserID            string
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	HandshakeTimeout  time.Duration
	KeepaliveInterval time.Duration
}

// Conn manages the persistent WebSocket to the backend: connect,
// handshake, reconnect with exponential backoff and jitter, and clean
// teardown. Inbound payloads are decoded once and handed to the handler;
// malformed ones are logged and dropped, never fatal.
type Conn struct {
	cfg     ConnConfig
	handler func(*protocol.Envelope)

	mu         sync.Mutex
	ws         *websocket.Conn
	phase      connPhase
	attempts   int
	lastErr    error
	closed     bool // Disconnect was called; no further retries
	retryTimer *time.Timer
	liveDone   chan struct{} // closes when the current socket dies
}

// NewConn creates a connection manager. handler is invoked from the read
// loop, one envelope at a time.
func NewConn(cfg ConnConfig, handler func(*protocol.Envelope)) *Conn {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Conn{cfg: cfg, handler: handler}
}

// SetUserID records a late-arriving identity so the next (re)connect can
// carry it in the handshake.
func (c *Conn) SetUserID(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.UserID = userID
}

// State returns the observable connection status.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnState{
		IsConnected:       c.phase == phaseOpen,
		IsConnecting:      c.phase == phaseConnecting,
		Err:               c.lastErr,
		ReconnectAttempts: c.attempts,
	}
}

// Connect starts the connection. It is idempotent: a call while already
// connecting or open is a no-op.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.phase == phaseConnecting || c.phase == phaseOpen {
		c.mu.Unlock()
		return
	}
	c.closed = false
	c.phase = phaseConnecting
	c.mu.Unlock()

	go c.dial()
}

// Disconnect tears the connection down and stops any pending retry. The
// socket is closed only if it is open or connecting, avoiding
// double-close errors.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	ws := c.ws
	c.ws = nil
	closing := c.phase == phaseOpen || c.phase == phaseConnecting
	c.phase = phaseClosed
	c.mu.Unlock()

	if ws != nil && closing {
		if err := ws.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			slog.Debug("failed to close websocket", "error", err)
		}
	}
}

// Send marshals v as JSON and writes it as a text frame. Returns false
// when the connection is not open or the write fails.
func (c *Conn) Send(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal outbound envelope", "error", err)
		return false
	}
	return c.SendRaw(string(data))
}

// SendRaw writes a pre-encoded text frame.
func (c *Conn) SendRaw(text string) bool {
	c.mu.Lock()
	ws := c.ws
	open := c.phase == phaseOpen
	c.mu.Unlock()

	if !open || ws == nil {
		slog.Warn("send dropped, connection not open")
		return false
	}
	if err := ws.Write(context.Background(), websocket.MessageText, []byte(text)); err != nil {
		slog.Warn("websocket write failed", "error", err)
		return false
	}
	return true
}

func (c *Conn) dial() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
	ws, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		c.handleClose(err)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if closeErr := ws.Close(websocket.StatusNormalClosure, "client disconnect"); closeErr != nil {
			slog.Debug("failed to close websocket", "error", closeErr)
		}
		return
	}
	c.ws = ws
	c.phase = phaseOpen
	c.attempts = 0
	c.lastErr = nil
	c.liveDone = make(chan struct{})
	done := c.liveDone
	userID := c.cfg.UserID
	c.mu.Unlock()

	slog.Info("connected to backend", "url", c.cfg.URL)

	// Identity may not be known yet; the handshake is skipped and a later
	// reconnect will carry it.
	if userID == "" {
		slog.Warn("identity not yet known, skipping init handshake")
	} else if !c.Send(protocol.NewInitHandshake(userID)) {
		slog.Warn("failed to send init handshake")
	}

	if c.cfg.KeepaliveInterval > 0 {
		go c.keepaliveLoop(done)
	}

	c.readLoop(ws, done)
}

func (c *Conn) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.Read(context.Background())
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("websocket closed by peer", "status", websocket.CloseStatus(err))
			}
			// Route transport errors through the close path so retry
			// logic has a single entry point.
			c.handleClose(err)
			return
		}

		env, decErr := protocol.Decode(data)
		if decErr != nil {
			slog.Warn("dropping malformed envelope", "error", decErr)
			continue
		}
		c.handler(env)
	}
}

func (c *Conn) keepaliveLoop(done chan struct{}) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.Send(protocol.NewPing())
		}
	}
}

// handleClose is the single entry point for transport failures. While a
// retry budget remains it schedules a reconnect after
// min(base*2^attempts, cap) plus jitter; exhausting the budget is a
// terminal failure surfaced through State().
func (c *Conn) handleClose(err error) {
	c.mu.Lock()
	if c.ws != nil {
		if closeErr := c.ws.CloseNow(); closeErr != nil {
			slog.Debug("failed to close websocket after error", "error", closeErr)
		}
		c.ws = nil
	}

	if c.closed {
		c.phase = phaseClosed
		c.mu.Unlock()
		return
	}

	c.lastErr = err
	if c.attempts >= c.cfg.MaxAttempts {
		c.phase = phaseClosed
		attempts := c.attempts
		c.mu.Unlock()
		slog.Error("reconnect budget exhausted", "attempts", attempts, "error", err)
		return
	}

	delay := backoffDelay(c.attempts, c.cfg.BackoffBase, c.cfg.BackoffCap)
	c.attempts++
	c.phase = phaseConnecting
	c.retryTimer = time.AfterFunc(delay, c.dial)
	attempts := c.attempts
	c.mu.Unlock()

	slog.Warn("connection lost, scheduling reconnect",
		"attempt", attempts,
		"delay", delay,
		"error", err,
	)
}

// backoffDelay computes min(base*2^attempt, cap) plus up to one base of
// jitter. Jitter prevents thundering-herd reconnects.
func backoffDelay(attempt int, base, capDelay time.Duration) time.Duration {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if capDelay < base {
		capDelay = base
	}

	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= capDelay {
			delay = capDelay
			break
		}
	}
	return delay + time.Duration(rand.Int64N(int64(base)))
}
