// Package session scopes inbound events to the active conversation and
// owns the session-scoped state handle that resets atomically on switch.
package session

import "github.com/parleyhq/parley/internal/protocol"

// Context identifies the active conversation. A session is either
// pre-existing (loaded from storage) or created lazily on first send.
type Context struct {
	SessionID      string
	CreatedLocally bool
}

// Active reports whether a session has been established.
func (c Context) Active() bool {
	return c.SessionID != ""
}

// Accept is a pure filter: an envelope tagged with a session id that
// differs from the active one is rejected. Envelopes without a session id
// are accepted for compatibility with sessions created before the guard
// existed.
func Accept(env *protocol.Envelope, activeSessionID string) bool {
	if env.SessionID == "" {
		return true
	}
	return env.SessionID == activeSessionID
}
