// Package conversation holds the ordered message log and the state
// machines that reconstruct it from the multiplexed event stream. It is
// pure data: no I/O, no transport awareness.
package conversation

import (
	"encoding/json"
	"time"
)

// Sender distinguishes user entries from agent entries.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// ToolStatus is the lifecycle state of one tool call.
type ToolStatus string

const (
	ToolPending              ToolStatus = "pending"
	ToolRunning              ToolStatus = "running"
	ToolSettingUpEnvironment ToolStatus = "setting_up_environment"
	ToolAwaitingConfirmation ToolStatus = "awaiting_confirmation"
	ToolCompleted            ToolStatus = "completed"
	ToolError                ToolStatus = "error"
	ToolCancelled            ToolStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s ToolStatus) Terminal() bool {
	switch s {
	case ToolCompleted, ToolError, ToolCancelled:
		return true
	default:
		return false
	}
}

// ToolCall is one tracked tool invocation inside a log entry.
type ToolCall struct {
	ID                  string          `json:"id"`
	ToolName            string          `json:"tool_name"`
	Input               json.RawMessage `json:"input,omitempty"`
	Output              string          `json:"output,omitempty"`
	Error               string          `json:"error,omitempty"`
	Status              ToolStatus      `json:"status"`
	Timestamp           time.Time       `json:"timestamp"`
	ConfirmationID      string          `json:"confirmation_id,omitempty"`
	ConfirmationMessage string          `json:"confirmation_message,omitempty"`
}

// Entry is one unit of the conversation log. A bot entry may carry free
// text, tool calls, or both; chronological rendering interleaves them.
type Entry struct {
	ID        int64       `json:"id"`
	Sender    Sender      `json:"sender"`
	Text      string      `json:"text"`
	Streaming bool        `json:"is_streaming,omitempty"`
	Thinking  bool        `json:"is_thinking,omitempty"`
	ToolCalls []*ToolCall `json:"tool_calls,omitempty"`
}

// Log is the append-only conversation sequence. Existing entries mutate
// in place (streaming text, tool transitions) but are never reordered.
type Log struct {
	entries []*Entry
	nextID  int64
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{nextID: 1}
}

// Append adds the entry and assigns it a monotonically increasing id.
func (l *Log) Append(e *Entry) *Entry {
	e.ID = l.nextID
	l.nextID++
	l.entries = append(l.entries, e)
	return e
}

// Entries returns the backing slice. Callers must treat it as read-only.
func (l *Log) Entries() []*Entry {
	return l.entries
}

// Len returns the number of entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Last returns the most recent entry, or nil for an empty log.
func (l *Log) Last() *Entry {
	if len(l.entries) == 0 {
		return nil
	}
	return l.entries[len(l.entries)-1]
}

// Replace swaps in a persisted conversation, keeping id assignment ahead
// of every existing entry.
func (l *Log) Replace(entries []*Entry) {
	l.entries = entries
	l.nextID = 1
	for _, e := range entries {
		if e.ID >= l.nextID {
			l.nextID = e.ID + 1
		}
	}
}

// Reset discards all entries, e.g. on session switch.
func (l *Log) Reset() {
	l.entries = nil
	l.nextID = 1
}
