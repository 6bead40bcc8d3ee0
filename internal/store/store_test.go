package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mehmetymw/recordsync/internal/db/dbtest"
	"github.com/mehmetymw/recordsync/internal/events"
)

type execRecorder struct {
	tag  string
	sql  []string
	args [][]any
}

func (e *execRecorder) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = append(e.sql, sql)
	e.args = append(e.args, args)
	return pgconn.NewCommandTag(e.tag), nil
}

func (e *execRecorder) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }

func (e *execRecorder) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func TestUpdateOfMissingPerson(t *testing.T) {
	q := &execRecorder{tag: "UPDATE 0"}
	err := NewPersons(q).SetTrn(context.Background(), uuid.New(), "1234567")
	assert.ErrorIs(t, err, ErrPersonNotFound)

	q.tag = "UPDATE 1"
	assert.NoError(t, NewPersons(q).SetTrn(context.Background(), uuid.New(), "1234567"))
}

func TestMarkPublished(t *testing.T) {
	q := &execRecorder{tag: "UPDATE 2"}
	require.NoError(t, MarkPublished(context.Background(), q, nil))
	assert.Empty(t, q.sql)

	a, b := uuid.New(), uuid.New()
	require.NoError(t, MarkPublished(context.Background(), q, []uuid.UUID{a, b}))
	require.Len(t, q.args, 1)
	assert.Equal(t, []any{[]string{a.String(), b.String()}}, q.args[0])
}

func TestPersonsAgainstPostgres(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()

	id := uuid.New()
	_, err := pool.Exec(ctx, `INSERT INTO persons (person_id, first_name, last_name) VALUES ($1, 'Mary', 'Somerville')`, id)
	require.NoError(t, err)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	persons := NewPersons(tx)
	p, err := persons.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, p.Trn)
	assert.Nil(t, p.QtsDate)

	awarded := time.Date(2022, 9, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, persons.SetTrn(ctx, id, "1000001"))
	require.NoError(t, persons.SetInductionStatus(ctx, id, "InProgress"))
	require.NoError(t, persons.SetQtsDate(ctx, id, awarded))

	evt := events.New(events.TrnAllocated, id, time.Now(), map[string]any{"trn": "1000001"})
	require.NoError(t, InsertEvent(ctx, tx, evt))
	require.NoError(t, MarkPublished(ctx, tx, []uuid.UUID{evt.ID}))
	require.NoError(t, tx.Commit(ctx))

	p, err = NewPersons(pool).Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, p.Trn)
	assert.Equal(t, "1000001", *p.Trn)
	assert.Equal(t, "InProgress", *p.InductionStatus)
	assert.True(t, p.QtsDate.Equal(awarded))

	var published bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT published FROM domain_events WHERE event_id = $1`, evt.ID).Scan(&published))
	assert.True(t, published)

	_, err = NewPersons(pool).Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrPersonNotFound)
}
