package conversation

import (
	"testing"
	"time"
)

func loadedLog(statuses ...ToolStatus) *Log {
	log := NewLog()
	for i, s := range statuses {
		log.Append(&Entry{
			Sender: SenderBot,
			ToolCalls: []*ToolCall{{
				ID:       string(rune('A' + i)),
				ToolName: "run_command",
				Status:   s,
			}},
		})
	}
	return log
}

func TestRepairStaleOnPersistedLoad(t *testing.T) {
	t.Parallel()

	log := loadedLog(ToolRunning, ToolSettingUpEnvironment, ToolAwaitingConfirmation, ToolCompleted)
	repaired := RepairStale(log, JanitorOptions{LoadedFromPersistence: true})

	if len(repaired) != 3 {
		t.Fatalf("repaired %d calls, want 3", len(repaired))
	}
	for _, call := range repaired {
		if call.Status != ToolError {
			t.Errorf("call %s left in status %q", call.ID, call.Status)
		}
		if call.Output == "" {
			t.Errorf("call %s has no explanatory output", call.ID)
		}
		if call.Error == "" {
			t.Errorf("call %s has no error text", call.ID)
		}
	}

	done := log.Entries()[3].ToolCalls[0]
	if done.Status != ToolCompleted {
		t.Errorf("terminal call was rewritten to %q", done.Status)
	}
}

func TestRepairStalePreservesExistingOutput(t *testing.T) {
	t.Parallel()

	log := NewLog()
	log.Append(&Entry{
		Sender: SenderBot,
		ToolCalls: []*ToolCall{{
			ID:       "T1",
			ToolName: "run_command",
			Status:   ToolRunning,
			Output:   "partial output",
		}},
	})

	RepairStale(log, JanitorOptions{LoadedFromPersistence: true})
	if got := log.Entries()[0].ToolCalls[0].Output; got != "partial output" {
		t.Errorf("existing output overwritten: %q", got)
	}
}

func TestRepairStaleAgeFallback(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	log := NewLog()
	log.Append(&Entry{
		Sender: SenderBot,
		ToolCalls: []*ToolCall{{
			ID:        "old",
			ToolName:  "run_command",
			Status:    ToolRunning,
			Timestamp: now.Add(-10 * time.Minute),
		}},
	})
	log.Append(&Entry{
		Sender: SenderBot,
		ToolCalls: []*ToolCall{{
			ID:        "fresh",
			ToolName:  "run_command",
			Status:    ToolRunning,
			Timestamp: now.Add(-30 * time.Second),
		}},
	})

	repaired := RepairStale(log, JanitorOptions{Now: now})
	if len(repaired) != 1 || repaired[0].ID != "old" {
		t.Fatalf("repaired %v, want only the old call", repaired)
	}
	if got := log.Entries()[1].ToolCalls[0].Status; got != ToolRunning {
		t.Errorf("fresh call rewritten to %q", got)
	}
}

func TestRepairStaleUsesSessionTimestamp(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	log := loadedLog(ToolRunning)

	repaired := RepairStale(log, JanitorOptions{
		SessionUpdatedAt: now.Add(-time.Hour),
		Now:              now,
	})
	if len(repaired) != 1 {
		t.Errorf("repaired %d calls, want 1 via session age", len(repaired))
	}
}

func TestRepairStaleNothingToDo(t *testing.T) {
	t.Parallel()

	log := loadedLog(ToolCompleted, ToolError, ToolCancelled)
	if repaired := RepairStale(log, JanitorOptions{LoadedFromPersistence: true}); len(repaired) != 0 {
		t.Errorf("repaired %d terminal calls", len(repaired))
	}
}
