package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ApplySchema executes ddl in a single transaction.
func ApplySchema(ctx context.Context, db *sqlx.DB, ddl string) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("apply schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
