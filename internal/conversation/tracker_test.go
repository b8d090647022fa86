package conversation

import (
	"testing"
)

func TestTrackerCorrelatesResultByID(t *testing.T) {
	t.Parallel()

	log := NewLog()
	tr := NewTracker(log)

	call, entry := tr.StartCall("T1", "read_file", nil)
	if entry == nil {
		t.Fatal("expected a log entry for the new call")
	}
	if call.Status != ToolRunning {
		t.Fatalf("got status %q, want running", call.Status)
	}

	resolved := tr.ResolveCall("T1", "file contents", "")
	if resolved == nil {
		t.Fatal("expected T1 to resolve")
	}
	if resolved.Status != ToolCompleted {
		t.Errorf("got status %q, want completed", resolved.Status)
	}
	if resolved.Output != "file contents" {
		t.Errorf("got output %q", resolved.Output)
	}
}

func TestTrackerUnknownResultIsNoOp(t *testing.T) {
	t.Parallel()

	log := NewLog()
	tr := NewTracker(log)
	tr.StartCall("T1", "read_file", nil)

	if resolved := tr.ResolveCall("T9", "stray", ""); resolved != nil {
		t.Errorf("unknown id resolved a call: %+v", resolved)
	}
	if log.Len() != 1 {
		t.Errorf("log grew on unknown result: %d entries", log.Len())
	}
	if !tr.Tracking("T1") {
		t.Error("T1 should still be pending")
	}
}

func TestTrackerResolvesExactlyOnce(t *testing.T) {
	t.Parallel()

	tr := NewTracker(NewLog())
	tr.StartCall("T1", "read_file", nil)

	first := tr.ResolveCall("T1", "ok", "")
	if first == nil {
		t.Fatal("first resolution failed")
	}
	if second := tr.ResolveCall("T1", "overwrite", ""); second != nil {
		t.Error("duplicate result resolved again")
	}
	if first.Output != "ok" {
		t.Errorf("duplicate result mutated output: %q", first.Output)
	}
}

func TestTrackerErrorResult(t *testing.T) {
	t.Parallel()

	tr := NewTracker(NewLog())
	tr.StartCall("T1", "run_command", nil)

	resolved := tr.ResolveCall("T1", "", "permission denied")
	if resolved.Status != ToolError {
		t.Errorf("got status %q, want error", resolved.Status)
	}
	if resolved.Error != "permission denied" {
		t.Errorf("got error %q", resolved.Error)
	}
}

func TestTrackerDuplicateStartIgnored(t *testing.T) {
	t.Parallel()

	log := NewLog()
	tr := NewTracker(log)

	first, _ := tr.StartCall("T1", "read_file", nil)
	second, entry := tr.StartCall("T1", "read_file", nil)

	if entry != nil {
		t.Error("duplicate start appended a second entry")
	}
	if first != second {
		t.Error("duplicate start returned a different call")
	}
	if log.Len() != 1 {
		t.Errorf("got %d entries, want 1", log.Len())
	}
}

func TestTrackerEnvironmentSetupTargetsMostRecent(t *testing.T) {
	t.Parallel()

	tr := NewTracker(NewLog())
	older, _ := tr.StartCall("T1", "run_command", nil)
	newer, _ := tr.StartCall("T2", "run_command", nil)

	marked := tr.MarkEnvironmentSetup()
	if marked != newer {
		t.Fatalf("marked %v, want most recent call", marked)
	}
	if newer.Status != ToolSettingUpEnvironment {
		t.Errorf("got status %q", newer.Status)
	}
	if older.Status != ToolRunning {
		t.Errorf("older call changed status: %q", older.Status)
	}
}

func TestTrackerEnvironmentSetupWithNoRunningTool(t *testing.T) {
	t.Parallel()

	tr := NewTracker(NewLog())
	if marked := tr.MarkEnvironmentSetup(); marked != nil {
		t.Errorf("marked a call with nothing running: %+v", marked)
	}
}

func TestTrackerConfirmationApproveFlow(t *testing.T) {
	t.Parallel()

	tr := NewTracker(NewLog())
	call, _ := tr.StartCall("T1", "terraform_apply", nil)

	if got := tr.RequestConfirmation("terraform_apply", "C1", "apply 3 changes?"); got != call {
		t.Fatal("confirmation did not attach to the running call")
	}
	if call.Status != ToolAwaitingConfirmation {
		t.Fatalf("got status %q", call.Status)
	}
	if call.ConfirmationID != "C1" {
		t.Errorf("got confirmation id %q", call.ConfirmationID)
	}

	tr.ApplyDecision("C1", true)
	if call.Status != ToolRunning {
		t.Errorf("approved call should return to running, got %q", call.Status)
	}

	resolved := tr.ResolveCall("T1", "applied", "")
	if resolved == nil || resolved.Status != ToolCompleted {
		t.Error("approved call should still resolve by id")
	}
}

func TestTrackerConfirmationCancelCompletesLocally(t *testing.T) {
	t.Parallel()

	tr := NewTracker(NewLog())
	call, _ := tr.StartCall("T1", "terraform_apply", nil)
	tr.RequestConfirmation("terraform_apply", "C1", "apply?")

	tr.ApplyDecision("C1", false)
	if call.Status != ToolCancelled {
		t.Fatalf("got status %q, want cancelled", call.Status)
	}
	if call.Output != "Cancelled by user." {
		t.Errorf("got output %q", call.Output)
	}
	// Cancellation is final even if the backend later answers anyway.
	if resolved := tr.ResolveCall("T1", "late result", ""); resolved != nil {
		t.Error("cancelled call resolved again")
	}
}

func TestTrackerConfirmationMatchesToolName(t *testing.T) {
	t.Parallel()

	tr := NewTracker(NewLog())
	tr.StartCall("T1", "read_file", nil)
	apply, _ := tr.StartCall("T2", "terraform_apply", nil)
	tr.StartCall("T3", "read_file", nil)

	if got := tr.RequestConfirmation("terraform_apply", "C1", ""); got != apply {
		t.Errorf("confirmation attached to %+v, want the terraform_apply call", got)
	}
}

func TestTrackerGeneratedIDsAreDistinct(t *testing.T) {
	t.Parallel()

	tr := NewTracker(NewLog())
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		call, _ := tr.StartCall("", "burst_tool", nil)
		if seen[call.ID] {
			t.Fatalf("duplicate generated id %q at call %d", call.ID, i)
		}
		seen[call.ID] = true
	}
}

func TestTrackerResetClearsCorrelation(t *testing.T) {
	t.Parallel()

	tr := NewTracker(NewLog())
	tr.StartCall("T1", "read_file", nil)
	tr.Reset()

	if tr.Tracking("T1") {
		t.Error("tracker still tracking after reset")
	}
	if resolved := tr.ResolveCall("T1", "stale", ""); resolved != nil {
		t.Error("result from previous session resolved after reset")
	}
}
