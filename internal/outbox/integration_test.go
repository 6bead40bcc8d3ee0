package outbox

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/config"
	"github.com/mehmetymw/recordsync/internal/db/dbtest"
	"github.com/mehmetymw/recordsync/internal/handlers"
	"github.com/mehmetymw/recordsync/internal/journal"
	"github.com/mehmetymw/recordsync/internal/types"
)

func TestProcessorAgainstPostgres(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()

	known, missing := uuid.New(), uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO persons (person_id, first_name, last_name) VALUES ($1, 'Ada', 'Lovelace')`, known)
	require.NoError(t, err)

	trn := func(id uuid.UUID, trn string) string {
		return fmt.Sprintf(`{"personId":%q,"trn":%q}`, id, trn)
	}
	feed := &fakeFeed{items: []types.ChangedItem{
		message("1", handlers.TrnAllocatedType, trn(known, "2000001"), at(1)),
		message("2", handlers.InductionStatusUpdatedType, fmt.Sprintf(`{"personId":%q,"inductionStatus":"InProgress"}`, known), at(2)),
		message("3", handlers.TrnAllocatedType, trn(missing, "2000002"), at(3)),
	}}
	watermarks := journal.NewWatermarks(pool)
	p := NewProcessor(testConfig(), feed, watermarks, handlers.NewDefaultRegistry(), pool, nil, zap.NewNop())

	err = p.Tick(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "person not found")

	wm, found, err := watermarks.Load(ctx, config.DefaultWatermarkKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, wm.Equal(at(2)))

	var gotTrn, status string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT trn, induction_status FROM persons WHERE person_id = $1`, known).Scan(&gotTrn, &status))
	assert.Equal(t, "2000001", gotTrn)
	assert.Equal(t, "InProgress", status)

	var unpublished int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM domain_events WHERE NOT published`).Scan(&unpublished))
	assert.Equal(t, 0, unpublished)

	// Once the replica has created the person the stuck message goes through.
	_, err = pool.Exec(ctx, `INSERT INTO persons (person_id, first_name, last_name) VALUES ($1, 'Emmy', 'Noether')`, missing)
	require.NoError(t, err)
	require.NoError(t, p.Tick(ctx))

	wm, _, err = watermarks.Load(ctx, config.DefaultWatermarkKey)
	require.NoError(t, err)
	assert.True(t, wm.Equal(at(3)))
	assert.Equal(t, int64(3), p.Status().Processed)
	assert.Equal(t, int64(2), p.Status().Skipped)
}
