package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/jobfit-api/internal/store"
)

// SQLSTATE codes the task store distinguishes.
const (
	codeUniqueViolation  = "23505"
	codeCheckViolation   = "23514"
	codeNotNullViolation = "23502"
	codeInvalidText      = "22P02"
)

// MapError translates a database error into the store error vocabulary.
// Constraint failures on task rows become ErrDuplicate or ErrInvalidEntity;
// anything else, including serialization failures and lost connections,
// wraps store.ErrPersistence so the worker retries the delivery.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrStatusConflict),
		errors.Is(err, store.ErrInvalidEntity),
		errors.Is(err, store.ErrDuplicate):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %v", store.ErrDuplicate, err)
		case codeCheckViolation:
			return fmt.Errorf("%w: constraint %s: %v", store.ErrInvalidEntity, pgErr.ConstraintName, err)
		case codeNotNullViolation:
			return fmt.Errorf("%w: column %s is required: %v", store.ErrInvalidEntity, pgErr.ColumnName, err)
		case codeInvalidText:
			return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
		}
	}

	return fmt.Errorf("%w: %w", store.ErrPersistence, err)
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// i.e. a task ID that is already stored.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// CheckRowsAffected returns store.ErrNotFound when result touched no rows.
func CheckRowsAffected(result sql.Result, entityName string) error {
	if result == nil {
		return errors.New("nil result provided to CheckRowsAffected")
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	if entityName == "" {
		return store.ErrNotFound
	}
	return fmt.Errorf("%w: %s", store.ErrNotFound, entityName)
}
