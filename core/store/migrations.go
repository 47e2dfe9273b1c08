package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"shiftrelay/core/utils"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

func ApplyMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	var dialect, dir string
	switch db.Driver() {
	case DriverSQLite:
		dialect, dir = "sqlite3", "migrations/sqlite"
	case DriverPostgres:
		dialect, dir = "postgres", "migrations/postgres"
	default:
		return fmt.Errorf("store: no migrations for driver %q", db.Driver())
	}
	goose.SetBaseFS(migrationsFS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, dir); err != nil {
		return err
	}
	if logger != nil {
		logger.Infof("store: migrations applied (%s)", dialect)
	}
	return nil
}
