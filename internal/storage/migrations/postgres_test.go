package migrations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"futarchy-core/internal/storage/postgres"
)

func TestRunPostgresMigrations_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("testdb"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolConfig{MaxConns: 2})
	require.NoError(t, err)
	defer pool.Close()

	logger := zaptest.NewLogger(t)
	require.NoError(t, RunPostgresMigrations(ctx, pool, logger))
	require.NoError(t, RunPostgresMigrations(ctx, pool, logger))

	files, err := sqlFiles(PostgresFS, "postgres")
	require.NoError(t, err)
	var versions int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&versions))
	assert.Equal(t, len(files), versions)

	var exists bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT to_regclass('public.events') IS NOT NULL`).Scan(&exists))
	assert.True(t, exists)

	var app string
	require.NoError(t, pool.QueryRow(ctx, `SHOW application_name`).Scan(&app))
	assert.Equal(t, "futarchyd", app)
}
