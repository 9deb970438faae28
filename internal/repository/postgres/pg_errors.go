package postgresrepo

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/evroni/qrtab/internal/repository"
)

// Constraint names from the schema (migrations/0001_init.sql). The partial
// unique index on open orders is the storage-enforced admission invariant.
const (
	constraintOpenOrder      = "orders_one_open_per_table"
	constraintIdempotencyKey = "orders_idempotency_key_key"
	constraintTableNumber    = "tables_branch_id_number_key"
)

func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
	}

	return false
}

// wrapDBErr maps common DB errors to repository-level errors and wraps them
// with the provided operation name.
func wrapDBErr(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, repository.ErrNotFound)
	}

	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		// unique_violation
		if pge.Code == "23505" {
			switch pge.ConstraintName {
			case constraintOpenOrder:
				return fmt.Errorf("%s: %w", op, repository.ErrOpenOrder)
			case constraintIdempotencyKey:
				return fmt.Errorf("%s: %w", op, repository.ErrDuplicateKey)
			case constraintTableNumber:
				return fmt.Errorf("%s: %w", op, repository.ErrTableConflict)
			}
			return fmt.Errorf("%s: %w", op, repository.ErrConflict)
		}
	}

	return fmt.Errorf("%s: %w", op, err)
}
