package store

import (
	"context"
	"strings"
	"time"
)

const (
	busyRetries = 3
	busyBackoff = 50 * time.Millisecond
)

// isSQLiteConflict reports whether the error is a SQLITE_BUSY or
// "database is locked" concurrency error. Writes hitting these are safe
// to retry.
func isSQLiteConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withBusyRetry runs fn, retrying a few times on SQLite concurrency
// errors. Other errors return immediately.
func withBusyRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= busyRetries; attempt++ {
		if err = fn(); !isSQLiteConflict(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(busyBackoff):
		}
	}
	return err
}
