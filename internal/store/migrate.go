package store

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tupski/wa-monitor/internal/store/migrations"
)

// ErrDirtySchema is returned when an earlier migration stopped partway.
var ErrDirtySchema = errors.New("schema left dirty by an interrupted migration")

// MigrateResult reports the schema version after Migrate and whether the
// call applied anything.
type MigrateResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate brings the schema up to date from the embedded migrations. A dirty
// schema is reported instead of migrated over.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}

	before, err := schemaVersion(m)
	if err != nil {
		return nil, err
	}
	if before.Dirty {
		return before, fmt.Errorf("%w at version %d", ErrDirtySchema, before.Version)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	after, err := schemaVersion(m)
	if err != nil {
		return nil, err
	}
	after.Changed = after.Version != before.Version
	return after, nil
}

// migrator shares the pool with db. It must not be closed, since closing the
// driver closes the pool.
func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migrator: %w", err)
	}
	return m, nil
}

func schemaVersion(m *migrate.Migrate) (*MigrateResult, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return &MigrateResult{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	return &MigrateResult{Version: v, Dirty: dirty}, nil
}
