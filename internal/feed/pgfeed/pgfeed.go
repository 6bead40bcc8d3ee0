// Package pgfeed serves the change feed RPC from a Postgres entity store.
//
// Writers record every change in feed_changes together with the WAL position
// of the writing transaction. Entities live in a table named after their
// entity type, keyed by "<entity type>id" (the CRM convention, e.g. contact
// and contactid). Tokens are WAL LSNs. The first page of a sequence pins the
// current WAL position as the upper bound and carries it in the paging cookie,
// so every page of one sequence reads the same bounded window and the terminal
// token is that bound. Windows are half-open, [since, upper), so a change
// recorded exactly at the bound belongs to the next sequence.
package pgfeed

import (
	"context"
	"fmt"

	"github.com/jackc/pglogrepl"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/db"
	"github.com/mehmetymw/recordsync/internal/feed"
	"github.com/mehmetymw/recordsync/internal/types"
)

const Schema = `
CREATE TABLE IF NOT EXISTS feed_changes (
    entity_type text    NOT NULL,
    entity_id   text    NOT NULL,
    op          char(1) NOT NULL CHECK (op IN ('u', 'd')),
    change_lsn  pg_lsn  NOT NULL DEFAULT pg_current_wal_lsn()
);
CREATE INDEX IF NOT EXISTS ix_feed_changes_window ON feed_changes (entity_type, change_lsn);
`

type Source struct {
	q      db.Querier
	logger *zap.Logger
}

func New(q db.Querier, logger *zap.Logger) *Source {
	return &Source{q: q, logger: logger}
}

func Connect(ctx context.Context, dsn string, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to feed database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping feed database: %w", err)
	}
	logger.Info("Connected to Postgres change feed")
	return pool, nil
}

func (s *Source) RetrieveChanges(ctx context.Context, req feed.Request) (feed.Response, error) {
	since := pglogrepl.LSN(0)
	if req.SinceToken != "" {
		lsn, err := pglogrepl.ParseLSN(req.SinceToken)
		if err != nil {
			return feed.Response{}, types.FeedRequestError(400, fmt.Sprintf("bad since token %q", req.SinceToken))
		}
		since = lsn
	}

	upper, err := s.upperBound(ctx, req)
	if err != nil {
		return feed.Response{}, err
	}
	if req.PageSize <= 0 {
		return feed.Response{}, types.FeedRequestError(400, "page size must be positive")
	}
	if req.PageNumber <= 0 {
		return feed.Response{}, types.FeedRequestError(400, "page number must be positive")
	}

	table := pgx.Identifier{req.EntityType}.Sanitize()
	key := pgx.Identifier{req.EntityType + "id"}.Sanitize()
	query := fmt.Sprintf(`
		WITH latest AS (
			SELECT DISTINCT ON (entity_id) entity_id, op, change_lsn
			FROM feed_changes
			WHERE entity_type = $1 AND change_lsn >= $2::pg_lsn AND change_lsn < $3::pg_lsn
			ORDER BY entity_id, change_lsn DESC
		)
		SELECT l.entity_id, l.op, to_jsonb(e)
		FROM latest l
		LEFT JOIN %s e ON e.%s::text = l.entity_id
		ORDER BY l.change_lsn, l.entity_id
		LIMIT $4 OFFSET $5`, table, key)

	rows, err := s.q.Query(ctx, query,
		req.EntityType, since.String(), upper.String(),
		req.PageSize+1, (req.PageNumber-1)*req.PageSize)
	if err != nil {
		return feed.Response{}, db.ClassifyError(fmt.Errorf("query %s changes: %w", req.EntityType, err))
	}
	defer rows.Close()

	items := make([]types.ChangedItem, 0, req.PageSize)
	more := false
	for rows.Next() {
		if len(items) == req.PageSize {
			more = true
			break
		}
		var (
			id   string
			op   string
			snap map[string]any
		)
		if err := rows.Scan(&id, &op, &snap); err != nil {
			return feed.Response{}, fmt.Errorf("scan %s change: %w", req.EntityType, err)
		}
		if op == "d" || snap == nil {
			items = append(items, types.ChangedItem{Kind: types.Removed, EntityType: req.EntityType, ID: id})
			continue
		}
		items = append(items, types.ChangedItem{
			Kind:       types.Upserted,
			EntityType: req.EntityType,
			ID:         id,
			Attributes: project(snap, req.Columns),
		})
	}
	if err := rows.Err(); err != nil {
		return feed.Response{}, db.ClassifyError(fmt.Errorf("read %s changes: %w", req.EntityType, err))
	}

	s.logger.Debug("Served change page",
		zap.String("entity_type", req.EntityType),
		zap.Int("page", req.PageNumber),
		zap.Int("items", len(items)),
		zap.String("since", since.String()),
		zap.String("upper", upper.String()))

	resp := feed.Response{Items: items, MoreRecords: more, TerminalToken: upper.String()}
	if more {
		resp.PagingCookie = upper.String()
	}
	return resp, nil
}

// upperBound pins the window on page one and reads it back from the cookie
// on later pages.
func (s *Source) upperBound(ctx context.Context, req feed.Request) (pglogrepl.LSN, error) {
	if req.PageNumber > 1 {
		if req.PagingCookie == "" {
			return 0, types.FeedRequestError(400, "paging cookie required after page 1")
		}
		lsn, err := pglogrepl.ParseLSN(req.PagingCookie)
		if err != nil {
			return 0, types.FeedRequestError(400, fmt.Sprintf("bad paging cookie %q", req.PagingCookie))
		}
		return lsn, nil
	}
	var current string
	if err := s.q.QueryRow(ctx, `SELECT pg_current_wal_lsn()::text`).Scan(&current); err != nil {
		return 0, db.ClassifyError(fmt.Errorf("read current wal position: %w", err))
	}
	return pglogrepl.ParseLSN(current)
}

func project(snap map[string]any, columns []string) map[string]any {
	if len(columns) == 0 {
		return snap
	}
	out := make(map[string]any, len(columns))
	for _, c := range columns {
		if v, ok := snap[c]; ok {
			out[c] = v
		}
	}
	return out
}
