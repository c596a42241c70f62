package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the store cares about.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeStringTooLong        = "22001"
	classConnectionException = "08"
	classIntegrity           = "23"
)

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsIntegrityViolation reports whether err is a constraint violation (unique,
// check, not-null, foreign key) or a value too long for its column.
func IsIntegrityViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return strings.HasPrefix(pgErr.Code, classIntegrity) || pgErr.Code == codeStringTooLong
}

// IsTransient reports whether err is a Postgres failure that a fresh
// transaction can be expected to get past: lost connections, serialization
// failures and deadlocks.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeSerializationFailure, pgErr.Code == codeDeadlockDetected:
			return true
		case strings.HasPrefix(pgErr.Code, classConnectionException):
			return true
		}
		return false
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
