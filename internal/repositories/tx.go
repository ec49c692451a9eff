package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"chat-sync/internal/apperr"
)

// withTx runs fn inside a transaction and commits when it returns nil.
func withTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// writeErr classifies a failed write. Errors that already carry a code pass through.
func writeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.CodeOf(err) != apperr.CodeUnknown {
		return err
	}
	return apperr.WriteFailed(op, err)
}

// readErr maps sql.ErrNoRows to notFound and adds context to anything else.
func readErr(op string, err error, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
