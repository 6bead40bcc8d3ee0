// Package journal persists how far each consumer has progressed: change feed
// cursors per (sync key, entity type) and the outbox processing watermark.
package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/db"
	"github.com/mehmetymw/recordsync/internal/types"
)

type Pool interface {
	db.Querier
	db.TxBeginner
}

type Journal struct {
	pool   Pool
	logger *zap.Logger
}

func New(pool Pool, logger *zap.Logger) *Journal {
	return &Journal{pool: pool, logger: logger}
}

// Token returns the committed token; found is false when the consumer has
// never completed a full page sequence.
func (j *Journal) Token(ctx context.Context, syncKey, entityType string) (token string, found bool, err error) {
	err = j.pool.QueryRow(ctx,
		`SELECT token FROM sync_cursors WHERE sync_key = $1 AND entity_type = $2`,
		syncKey, entityType).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, db.ClassifyError(fmt.Errorf("read cursor %s/%s: %w", syncKey, entityType, err))
	}
	return token, true, nil
}

// SaveToken inserts or replaces the cursor in its own transaction.
func (j *Journal) SaveToken(ctx context.Context, syncKey, entityType, token string) error {
	err := db.WithTx(ctx, j.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO sync_cursors (sync_key, entity_type, token, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (sync_key, entity_type) DO UPDATE SET
				token = EXCLUDED.token,
				updated_at = EXCLUDED.updated_at`,
			syncKey, entityType, token)
		return err
	})
	if err != nil {
		return fmt.Errorf("save cursor %s/%s: %w", syncKey, entityType, err)
	}
	j.logger.Debug("Cursor saved",
		zap.String("sync_key", syncKey),
		zap.String("entity_type", entityType),
		zap.String("token", token))
	return nil
}

func (j *Journal) List(ctx context.Context) ([]types.SyncCursor, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT sync_key, entity_type, token, updated_at FROM sync_cursors ORDER BY sync_key, entity_type`)
	if err != nil {
		return nil, db.ClassifyError(fmt.Errorf("list cursors: %w", err))
	}
	defer rows.Close()

	var out []types.SyncCursor
	for rows.Next() {
		var c types.SyncCursor
		if err := rows.Scan(&c.SyncKey, &c.EntityType, &c.Token, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan cursor: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
