package postgres

import (
	"embed"

	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/kevinhagel/fundingdiscovery/infrastructure/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate applies every pending schema migration embedded in this package.
// Idempotent: a fully migrated database is not an error. EnsureSchema remains
// available for test databases that skip versioned migration bookkeeping.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.DatabaseError("migrate_source", err)
	}
	driver, err := pgmigrate.WithInstance(s.db, &pgmigrate.Config{})
	if err != nil {
		return errors.DatabaseError("migrate_driver", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return errors.DatabaseError("migrate_init", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.DatabaseError("migrate_up", err)
	}
	return nil
}
