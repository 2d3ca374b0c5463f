package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// SQLSTATE codes the ledger reacts to.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeSerialization       = "40001"
	codeDeadlock            = "40P01"
	codeLockNotAvailable    = "55P03"
)

// MapError translates PostgreSQL errors into shared error kinds. Errors that
// already carry a shared kind are returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeLockNotAvailable, codeSerialization, codeDeadlock:
		return fmt.Errorf("%w: %s", shared.ErrConflict, pgErr.Message)
	case codeUniqueViolation:
		return fmt.Errorf("%w: duplicate %s", shared.ErrConflict, pgErr.ConstraintName)
	case codeForeignKeyViolation, codeCheckViolation:
		return fmt.Errorf("%w: %s", shared.ErrValidation, pgErr.ConstraintName)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// IsUniqueViolationOf reports whether err violates the named unique constraint or index.
func IsUniqueViolationOf(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == constraint
}
