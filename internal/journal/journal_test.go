package journal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/db/dbtest"
)

func TestJournalRoundTrip(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	j := New(pool, zap.NewNop())

	_, found, err := j.Token(ctx, "outbox", "dfeta_trsoutboxmessage")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, j.SaveToken(ctx, "outbox", "dfeta_trsoutboxmessage", "t1"))
	require.NoError(t, j.SaveToken(ctx, "outbox", "dfeta_trsoutboxmessage", "t2"))
	require.NoError(t, j.SaveToken(ctx, "replica", "contact", "c1"))

	token, found, err := j.Token(ctx, "outbox", "dfeta_trsoutboxmessage")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "t2", token)

	cursors, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, cursors, 2)
	assert.Equal(t, "outbox", cursors[0].SyncKey)
	assert.Equal(t, "replica", cursors[1].SyncKey)
}

func TestWatermarkNeverMovesBackwards(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	w := NewWatermarks(pool)

	_, found, err := w.Load(ctx, "wm")
	require.NoError(t, err)
	assert.False(t, found)

	t2 := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	t1 := t2.Add(-time.Hour)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Advance(ctx, tx, "wm", t2))
	require.NoError(t, w.Advance(ctx, tx, "wm", t1))
	require.NoError(t, tx.Commit(ctx))

	got, found, err := w.Load(ctx, "wm")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.Equal(t2), "got %v", got)
}

func TestWatermarkRolledBackWithTransaction(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	w := NewWatermarks(pool)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Advance(ctx, tx, "wm", time.Now()))
	require.NoError(t, tx.Rollback(ctx))

	_, found, err := w.Load(ctx, "wm")
	require.NoError(t, err)
	assert.False(t, found)
}
