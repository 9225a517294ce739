package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iho/txstream/internal/domain"
)

// PostgreSQL error codes that mean a concurrent writer won.
const (
	pgErrDeadlock             = "40P01"
	pgErrSerializationFailure = "40001"
	pgErrUniqueViolation      = "23505"
	pgErrCheckViolation       = "23514"
)

// classify maps a driver error onto the store's error contract: lost
// races become domain.ErrConflict, everything else is
// domain.ErrStoreUnavailable wrapping the cause.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if isConflictError(err) {
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}

	return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
}

// isConflictError checks if a PostgreSQL error is resolved by retrying
// against fresh state.
func isConflictError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrDeadlock, pgErrSerializationFailure, pgErrUniqueViolation, pgErrCheckViolation:
			return true
		}
	}
	return false
}
