package sqlite

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const DefaultMigrationsTable = "migrations"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded migrations to the database at storagePath.
// Being already up to date is not an error.
func Migrate(storagePath, migrationsTable string) error {
	const op = "storage.sqlite.Migrate"

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL(storagePath, migrationsTable))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return up(op, m)
}

// MigrateFrom applies migrations read from a directory instead of the embedded set.
func MigrateFrom(migrationsPath, storagePath, migrationsTable string) error {
	const op = "storage.sqlite.MigrateFrom"

	m, err := migrate.New("file://"+migrationsPath, databaseURL(storagePath, migrationsTable))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return up(op, m)
}

func up(op string, m *migrate.Migrate) error {
	defer func() { _, _ = m.Close() }()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func databaseURL(storagePath, migrationsTable string) string {
	if migrationsTable == "" {
		migrationsTable = DefaultMigrationsTable
	}
	return fmt.Sprintf("sqlite3://%s?x-migrations-table=%s", storagePath, migrationsTable)
}
