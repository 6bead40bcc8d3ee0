// Package dbtest connects tests to a disposable Postgres database named by
// RECORDSYNC_TEST_DSN. Tests that need it are skipped when it is unset.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/config"
	"github.com/mehmetymw/recordsync/internal/db"
)

const EnvDSN = "RECORDSYNC_TEST_DSN"

// Pool returns a migrated pool with the sync tables truncated.
func Pool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("%s not set", EnvDSN)
	}
	ctx := context.Background()
	pool, err := db.Connect(ctx, config.DatabaseConfig{DSN: dsn, MaxConns: 4}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.Migrate(ctx, pool, zap.NewNop()))
	_, err = pool.Exec(ctx, `TRUNCATE sync_cursors, sync_metadata, persons, domain_events`)
	require.NoError(t, err)
	return pool
}
