package store

import (
	"context"
	"errors"
	"testing"
)

func TestIsSQLiteConflict(t *testing.T) {
	t.Parallel()

	if isSQLiteConflict(nil) {
		t.Error("nil error reported as conflict")
	}
	if isSQLiteConflict(errors.New("UNIQUE constraint failed")) {
		t.Error("constraint error reported as conflict")
	}
	if !isSQLiteConflict(errors.New("SQLITE_BUSY: database table is locked")) {
		t.Error("busy error not detected")
	}
	if !isSQLiteConflict(errors.New("database is locked (5)")) {
		t.Error("locked error not detected")
	}
}

func TestWithBusyRetryEventuallySucceeds(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := withBusyRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("got %v after retries", err)
	}
	if attempts != 3 {
		t.Errorf("got %d attempts, want 3", attempts)
	}
}

func TestWithBusyRetryStopsOnOtherErrors(t *testing.T) {
	t.Parallel()

	want := errors.New("syntax error")
	attempts := 0
	err := withBusyRetry(context.Background(), func() error {
		attempts++
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("got %v", err)
	}
	if attempts != 1 {
		t.Errorf("non-conflict error retried %d times", attempts)
	}
}
