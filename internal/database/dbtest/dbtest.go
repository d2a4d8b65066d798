//go:build integration

// Package dbtest starts a disposable PostgreSQL container with the outbox
// schema applied, for integration tests.
package dbtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/search-outbox/internal/database"
	"github.com/helixir/search-outbox/migrations"
)

const image = "postgres:16-alpine"

// Start runs a PostgreSQL container, applies the embedded migrations and
// returns a connected DB. The container is terminated when t finishes.
func Start(t *testing.T) *database.DB {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := tcpostgres.Run(ctx,
		image,
		tcpostgres.WithDatabase("search_outbox_test"),
		tcpostgres.WithUsername("searchoutbox"),
		tcpostgres.WithPassword("testpassword"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	db := database.NewFromPool(pool, zerolog.Nop())
	t.Cleanup(db.Close)

	migrator, err := database.NewEmbeddedMigrator(db, migrations.FS, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Close())

	return db
}

// Truncate empties the outbox tables between tests.
func Truncate(t *testing.T, db *database.DB) {
	t.Helper()
	_, err := db.Exec(context.Background(), "TRUNCATE TABLE search_outbox_events, search_outbox_agents")
	require.NoError(t, err)
}
