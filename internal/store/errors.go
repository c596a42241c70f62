package store

import (
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/firmsync/internal/db"
	"github.com/sells-group/firmsync/internal/resilience"
)

// IsTransient reports whether err is a database failure worth replaying in a
// fresh transaction: Postgres connection loss, serialization failure or
// deadlock, SQLite busy or locked, or a generic network blip.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if db.IsTransient(err) {
		return true
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	return resilience.IsTransient(err)
}

// IsConstraint reports whether err is an integrity violation (unique, check,
// not-null or length). Such failures are scoped to the offending unit.
func IsConstraint(err error) bool {
	if db.IsIntegrityViolation(err) {
		return true
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// IsDuplicate reports whether err is a unique or primary key violation, the
// subset of IsConstraint raised by a second row claiming an identity key.
func IsDuplicate(err error) bool {
	if db.IsUniqueViolation(err) {
		return true
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	return false
}
