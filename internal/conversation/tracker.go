package conversation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Tracker correlates asynchronous tool events by id and advances each
// call through its lifecycle, writing updates into the log. A given id
// resolves exactly once: resolution removes it from the correlation map,
// so a duplicate tool_result is a harmless no-op.
type Tracker struct {
	log   *Log
	byID  map[string]*ToolCall
	calls []*ToolCall // creation order, for most-recent-running lookups
	seq   atomic.Int64
	now   func() time.Time
}

// NewTracker binds a tracker to the log it appends tool entries into.
func NewTracker(log *Log) *Tracker {
	return &Tracker{
		log:  log,
		byID: make(map[string]*ToolCall),
		now:  time.Now,
	}
}

// StartCall records a new tool invocation and appends a log entry
// carrying exactly this call. An empty id gets a locally generated one.
// The entry is nil when the id was already tracked.
func (t *Tracker) StartCall(id, toolName string, input json.RawMessage) (*ToolCall, *Entry) {
	if id == "" {
		id = t.generateID()
	}
	if existing, ok := t.byID[id]; ok {
		slog.Warn("duplicate tool_call id, ignoring", "tool_id", id, "tool_name", toolName)
		return existing, nil
	}

	call := &ToolCall{
		ID:        id,
		ToolName:  toolName,
		Input:     input,
		Status:    ToolRunning,
		Timestamp: t.now(),
	}
	t.byID[id] = call
	t.calls = append(t.calls, call)
	entry := t.log.Append(&Entry{
		Sender:    SenderBot,
		ToolCalls: []*ToolCall{call},
	})
	return call, entry
}

// ResolveCall applies a tool_result. Unknown ids are expected under
// session switches and races; they change nothing and return nil.
func (t *Tracker) ResolveCall(id, output, errMsg string) *ToolCall {
	call, ok := t.byID[id]
	if !ok {
		slog.Debug("tool_result for unknown id, ignoring", "tool_id", id)
		return nil
	}

	call.Output = output
	if errMsg != "" {
		call.Error = errMsg
		call.Status = ToolError
	} else {
		call.Status = ToolCompleted
	}
	delete(t.byID, id)
	return call
}

// MarkEnvironmentSetup transitions the most recently created running
// call to setting_up_environment. The wire event carries no tool id, so
// recency is the only available correlation; this is best-effort.
func (t *Tracker) MarkEnvironmentSetup() *ToolCall {
	call := t.lastRunning("")
	if call == nil {
		slog.Debug("tool_status with no running tool, ignoring")
		return nil
	}
	call.Status = ToolSettingUpEnvironment
	return call
}

// RequestConfirmation moves the most recent running call for the named
// tool to awaiting_confirmation and records the confirmation handle.
func (t *Tracker) RequestConfirmation(toolName, confirmationID, message string) *ToolCall {
	call := t.lastRunning(toolName)
	if call == nil {
		slog.Debug("execution_confirmation with no matching tool, ignoring",
			"tool_name", toolName, "confirmation_id", confirmationID)
		return nil
	}
	call.Status = ToolAwaitingConfirmation
	call.ConfirmationID = confirmationID
	call.ConfirmationMessage = message
	return call
}

// ApplyDecision resolves a pending confirmation locally. Cancel completes
// the call immediately without a round trip; execute returns it to
// running to await the eventual tool_result.
func (t *Tracker) ApplyDecision(confirmationID string, execute bool) *ToolCall {
	var call *ToolCall
	for i := len(t.calls) - 1; i >= 0; i-- {
		if t.calls[i].ConfirmationID == confirmationID && t.calls[i].Status == ToolAwaitingConfirmation {
			call = t.calls[i]
			break
		}
	}
	if call == nil {
		slog.Debug("confirmation decision for unknown id, ignoring", "confirmation_id", confirmationID)
		return nil
	}

	if execute {
		call.Status = ToolRunning
		return call
	}
	call.Status = ToolCancelled
	call.Output = "Cancelled by user."
	delete(t.byID, call.ID)
	return call
}

// Tracking reports whether the id is still awaiting resolution.
func (t *Tracker) Tracking(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// Reset clears the correlation map and ordering, e.g. on session switch.
func (t *Tracker) Reset() {
	t.byID = make(map[string]*ToolCall)
	t.calls = nil
}

// lastRunning returns the most recently created call still in a running
// state, optionally filtered by tool name. setting_up_environment counts
// as running for confirmation purposes.
func (t *Tracker) lastRunning(toolName string) *ToolCall {
	for i := len(t.calls) - 1; i >= 0; i-- {
		c := t.calls[i]
		if c.Status != ToolRunning && c.Status != ToolSettingUpEnvironment {
			continue
		}
		if toolName != "" && c.ToolName != toolName {
			continue
		}
		return c
	}
	return nil
}

// generateID builds a fallback correlation id. Timestamp-only ids collide
// under bursty delivery, so a monotonic counter is combined with a random
// component; ids stay unique for the session lifetime.
func (t *Tracker) generateID() string {
	return fmt.Sprintf("local-%d-%s", t.seq.Add(1), uuid.NewString())
}
