package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PostgreSQL SQLSTATE codes the store layer cares about.
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeLockNotAvailable     = "55P03"
	CodeQueryCanceled        = "57014"
	CodeAdminShutdown        = "57P01"
	CodeCannotConnectNow     = "57P03"

	// classConnectionException covers 08000, 08001, 08003, 08006 and friends.
	classConnectionException = "08"
)

// pgError extracts SQLSTATE and constraint name from either lib/pq or pgx errors.
func pgError(err error) (code, constraint string, ok bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName, true
	}
	return "", "", false
}

// UniqueViolation reports whether err is a unique_violation and returns the violated constraint.
func UniqueViolation(err error) (string, bool) {
	code, constraint, ok := pgError(err)
	if !ok || code != CodeUniqueViolation {
		return "", false
	}
	return constraint, true
}

// IsForeignKeyViolation reports whether err is a foreign_key_violation.
func IsForeignKeyViolation(err error) bool {
	code, _, ok := pgError(err)
	return ok && code == CodeForeignKeyViolation
}

// IsRetryable reports whether the whole transaction can be safely retried from scratch.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if code, _, ok := pgError(err); ok {
		switch code {
		case CodeSerializationFailure, CodeDeadlockDetected, CodeLockNotAvailable,
			CodeQueryCanceled, CodeAdminShutdown, CodeCannotConnectNow:
			return true
		}
		return strings.HasPrefix(code, classConnectionException)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
