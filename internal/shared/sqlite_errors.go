// Package shared classifies SQLite driver errors for the retrying writers in
// the store.
package shared

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteCode returns the primary result code carried by err, if the driver
// produced it. Extended codes such as SQLITE_BUSY_SNAPSHOT map to their
// primary code.
func SQLiteCode(err error) (int, bool) {
	var sqlErr *sqlite.Error
	if !errors.As(err, &sqlErr) {
		return 0, false
	}
	return sqlErr.Code() & 0xff, true
}

// IsBusy reports a SQLITE_BUSY failure: another connection holds the write lock.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := SQLiteCode(err); ok {
		return code == sqlite3.SQLITE_BUSY
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsLocked reports a SQLITE_LOCKED failure or its "database is locked" message.
func IsLocked(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := SQLiteCode(err); ok {
		return code == sqlite3.SQLITE_LOCKED
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsConflict reports a transient lock conflict worth retrying.
func IsConflict(err error) bool {
	return IsBusy(err) || IsLocked(err)
}
