package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "embed"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// Migrate creates the tables and indexes if they do not already exist.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	schema := sqliteSchema
	if d == DialectPostgres {
		schema = postgresSchema
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate %s schema: %w", d, err)
	}
	return nil
}
