package dbopen

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

const busyAttempts = 3

// IsBusy reports whether err indicates an SQLite BUSY condition.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Exec executes a statement up to three times, retrying on BUSY after
// 100 ms and then 200 ms waits.
// WAL plus the busy_timeout pragma make contention rare, but the tab
// store's snapshot writes land while a host may be reading the same file.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var lastErr error
	for i := range busyAttempts {
		result, err := db.ExecContext(ctx, query, args...)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsBusy(err) || i == busyAttempts-1 {
			break
		}
		wait := time.Duration(100*(i+1)) * time.Millisecond
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}
