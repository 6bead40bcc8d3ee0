package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mehmetymw/recordsync/internal/db"
)

// Watermarks stores "ignore messages created at or before" floors keyed by a
// metadata key.
type Watermarks struct {
	q db.Querier
}

func NewWatermarks(q db.Querier) *Watermarks {
	return &Watermarks{q: q}
}

func (w *Watermarks) Load(ctx context.Context, key string) (time.Time, bool, error) {
	var v time.Time
	err := w.q.QueryRow(ctx, `SELECT value FROM sync_metadata WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, db.ClassifyError(fmt.Errorf("load watermark %s: %w", key, err))
	}
	return v.UTC(), true, nil
}

// Advance upserts the watermark inside the caller's transaction. GREATEST
// keeps the stored value from moving backwards.
func (w *Watermarks) Advance(ctx context.Context, tx pgx.Tx, key string, to time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO sync_metadata (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET
			value = GREATEST(sync_metadata.value, EXCLUDED.value),
			updated_at = EXCLUDED.updated_at`,
		key, to.UTC())
	if err != nil {
		return fmt.Errorf("advance watermark %s: %w", key, err)
	}
	return nil
}
