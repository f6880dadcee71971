package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"shopfiscal/internal/core/apperror"
)

// SQLSTATE codes the repositories react to.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeLockNotAvailable    = "55P03"
)

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

// IsUniqueViolation reports a unique constraint failure.
func IsUniqueViolation(err error) bool {
	return hasPGCode(err, codeUniqueViolation)
}

// IsForeignKeyViolation reports a foreign key failure.
func IsForeignKeyViolation(err error) bool {
	return hasPGCode(err, codeForeignKeyViolation)
}

func isLockTimeout(err error) bool {
	return hasPGCode(err, codeLockNotAvailable)
}

// MapLockError turns a lock_timeout expiry on a row lock into LOCK_TIMEOUT.
func MapLockError(err error, resource string) error {
	if isLockTimeout(err) {
		return apperror.NewLockTimeout(resource).WithCause(err)
	}
	return err
}
