package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql
var migrations embed.FS

// Migrate creates the jobs and failed_jobs tables from the embedded goose
// migrations. Custom table names are not migrated; such tables must already exist.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, versionTable string, log logger) error {
	if db == nil {
		return errors.Join(ErrFailedToApplyMigrations, ErrDBNil)
	}

	// Route goose migration logs through application logger instead of stdout.
	goose.SetLogger(newSlogAdapter(log))
	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)

	if versionTable != "" {
		goose.SetTableName(versionTable)
	}

	if err := goose.SetDialect(string(dialect)); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	if err := goose.UpContext(ctx, db, "migrations/"+string(dialect)); err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	return nil
}

// migrateSlogAdapter bridges goose's Printf-style logging to structured logging
type migrateSlogAdapter struct {
	log logger
}

func newSlogAdapter(log logger) goose.Logger {
	return &migrateSlogAdapter{
		log: log,
	}
}

func (a *migrateSlogAdapter) Fatalf(format string, v ...any) {
	a.log.ErrorContext(context.Background(), fmt.Sprintf(format, v...))
}

func (a *migrateSlogAdapter) Printf(format string, v ...any) {
	a.log.InfoContext(context.Background(), fmt.Sprintf(format, v...))
}
