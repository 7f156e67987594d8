package migrations

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

// migrationsTable keeps our version bookkeeping apart from other tools sharing the database.
const migrationsTable = "tokenpool_schema_migrations"

// postgresMigrator opens its own connection from dsn so closing the migrator never
// closes the pool held by the storage backend. dsn must be in URL form.
func postgresMigrator(dsn string) (*migrate.Migrate, error) {
	u, err := url.Parse(dsn)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return nil, fmt.Errorf("postgres migrations need a postgres:// url dsn")
	}
	q := u.Query()
	if q.Get("x-migrations-table") == "" {
		q.Set("x-migrations-table", migrationsTable)
	}
	u.RawQuery = q.Encode()

	source, err := iofs.New(sqlMigrations, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, u.String())
	if err != nil {
		return nil, fmt.Errorf("migrate instance: %w", err)
	}
	return m, nil
}

func closeMigrator(m *migrate.Migrate) error {
	if m == nil {
		return nil
	}
	srcErr, dbErr := m.Close()
	return errors.Join(srcErr, dbErr)
}

// PostgresUp applies all pending migrations.
func PostgresUp(dsn string) error {
	m, err := postgresMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations up: %w", err)
	}
	log.Debug("postgres credential migrations up to date")
	return nil
}

// PostgresDown rolls back the given number of migrations (default 1 if steps <= 0).
func PostgresDown(dsn string, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	m, err := postgresMigrator(dsn)
	if err != nil {
		return err
	}
	defer closeMigrator(m)

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations down: %w", err)
	}
	return nil
}

// PostgresVersion returns the current migration version.
func PostgresVersion(dsn string) (uint, bool, error) {
	m, err := postgresMigrator(dsn)
	if err != nil {
		return 0, false, err
	}
	defer closeMigrator(m)

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, dirty, fmt.Errorf("migrations version: %w", err)
	}
	return version, dirty, nil
}
