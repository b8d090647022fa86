package conversation

import (
	"fmt"
	"log/slog"
	"time"
)

// DefaultStaleAfter is the fallback age beyond which a non-terminal tool
// call is considered stuck when the persistence signal is unavailable.
const DefaultStaleAfter = 5 * time.Minute

const interruptedOutput = "This tool call was interrupted before it finished. " +
	"The workflow that started it is no longer running."

// JanitorOptions controls the post-load reconciliation pass.
type JanitorOptions struct {
	// LoadedFromPersistence marks the log as restored from storage. A
	// persisted conversation is only loaded after its workflow ended, so
	// any still-running call is stuck by definition.
	LoadedFromPersistence bool

	// SessionUpdatedAt is the session's last-updated timestamp, used by
	// the age check when a call has no timestamp of its own.
	SessionUpdatedAt time.Time

	// StaleAfter overrides DefaultStaleAfter when positive.
	StaleAfter time.Duration

	// Now overrides the clock for tests.
	Now time.Time
}

// RepairStale rewrites tool calls left in a non-terminal state by a
// crashed or completed remote workflow. It runs once, synchronously, when
// a persisted conversation is loaded; it is not part of the live path.
// Returns the repaired calls so the caller can persist the rewrites.
func RepairStale(log *Log, opts JanitorOptions) []*ToolCall {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	staleAfter := opts.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	var repaired []*ToolCall
	for _, entry := range log.Entries() {
		for _, call := range entry.ToolCalls {
			if !stuckStatus(call.Status) {
				continue
			}
			if !opts.LoadedFromPersistence && !exceedsAge(call, opts.SessionUpdatedAt, now, staleAfter) {
				continue
			}

			call.Status = ToolError
			if call.Output == "" {
				call.Output = interruptedOutput
			}
			if call.Error == "" {
				call.Error = fmt.Sprintf("%s was interrupted", call.ToolName)
			}
			repaired = append(repaired, call)
			slog.Info("repaired stuck tool call",
				"tool_id", call.ID,
				"tool_name", call.ToolName,
			)
		}
	}
	return repaired
}

// stuckStatus covers running and its environment-setup sub-state, plus
// awaiting_confirmation: a persisted conversation can never answer a
// confirmation, so such calls are stuck by the same argument.
func stuckStatus(s ToolStatus) bool {
	switch s {
	case ToolRunning, ToolSettingUpEnvironment, ToolAwaitingConfirmation:
		return true
	default:
		return false
	}
}

// exceedsAge is the redundant time-based fallback: either the call's own
// timestamp or the session's last update must be older than the cutoff.
func exceedsAge(call *ToolCall, sessionUpdated, now time.Time, staleAfter time.Duration) bool {
	cutoff := now.Add(-staleAfter)
	if !call.Timestamp.IsZero() {
		return call.Timestamp.Before(cutoff)
	}
	if !sessionUpdated.IsZero() {
		return sessionUpdated.Before(cutoff)
	}
	return false
}
