// Package dbtest opens migrated databases for repository tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/database"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// SQLite returns a migrated database backed by a file in the test's temp dir
func SQLite(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(&database.Credentials{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "checkout.db"),
	})
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db, database.DriverSQLite))

	t.Cleanup(func() { db.Close() })
	return db
}

// Postgres starts a postgres container and returns a migrated database.
// Skipped with -short.
func Postgres(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	host, err := pgContainer.Host(ctx)
	require.NoError(t, err)

	port, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := database.Open(&database.Credentials{
		Driver:   database.DriverPostgres,
		Host:     host,
		Port:     port.Int(),
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
	})
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db, database.DriverPostgres))

	t.Cleanup(func() { db.Close() })
	return db
}

// SeedVariant inserts a variant row
func SeedVariant(t *testing.T, db *sql.DB, id, unitPrice, stock int64) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO variants (id, sku, unit_price, stock_count) VALUES ($1, $2, $3, $4)`,
		id, "SKU-"+time.Now().Format("150405.000000"), unitPrice, stock)
	require.NoError(t, err)
}
