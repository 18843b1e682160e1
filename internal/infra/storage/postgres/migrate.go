package postgres

import (
	"fmt"

	"github.com/pressly/goose/v3"
)

// Migrate applies pending schema migrations from dir.
func Migrate(db *DB, dir string) error {
	if dir == "" {
		dir = "migrations"
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	// Goose needs the direct *sql.DB which sqlx.DB wraps.
	if err := goose.Up(db.DB.DB, dir); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	return nil
}
