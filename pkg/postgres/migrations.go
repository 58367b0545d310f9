package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrFailedToApplyMigrations wraps any migration failure.
var ErrFailedToApplyMigrations = errors.New("failed to apply migrations")

// Migrate applies the embedded schema migrations. Goose needs a
// database/sql handle, so the pgx pool is bridged through stdlib; the
// wrapper shares the pool's connections.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer func() {
		if err := db.Close(); err != nil {
			s.logger.Error("failed to close migration db handle", "error", err)
		}
	}()

	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return errors.Join(ErrFailedToApplyMigrations, err)
	}

	for _, r := range results {
		s.logger.Info(fmt.Sprintf("applied migration %s", r.Source.Path))
	}
	return nil
}
