package migrations

import (
	"io/fs"
	"testing"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(sqlMigrations, "sql")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	require.Zero(t, len(entries)%2, "every up migration needs a down migration")

	src, err := iofs.New(sqlMigrations, "sql")
	require.NoError(t, err)
	first, err := src.First()
	require.NoError(t, err)
	require.EqualValues(t, 1, first)

	r, _, err := src.ReadUp(first)
	require.NoError(t, err)
	_ = r.Close()
	r, _, err = src.ReadDown(first)
	require.NoError(t, err)
	_ = r.Close()
}

func TestPostgresMigratorRejectsKeywordDSN(t *testing.T) {
	_, err := postgresMigrator("host=localhost user=x dbname=y")
	require.Error(t, err)
	require.Error(t, PostgresUp("mysql://localhost/db"))
}
