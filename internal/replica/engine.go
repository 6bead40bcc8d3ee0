// Package replica keeps the local persons table in step with the CRM contact
// entity.
//
// The Engine merges a batch through a temporary staging table: rows are
// streamed in with COPY and then upserted into persons in one statement, all
// inside a single transaction. The Syncer drives the Engine from the change
// feed.
package replica

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/db"
)

const stagingTable = "persons_import"

// Columns written by the replica. person_id must stay first; it is the
// conflict target and is not updated.
var ownedColumns = []string{
	"person_id",
	"trn",
	"first_name",
	"middle_name",
	"last_name",
	"date_of_birth",
	"email_address",
	"national_insurance_number",
	"dqt_last_sync",
}

var (
	createStagingSQL = fmt.Sprintf(
		`CREATE TEMP TABLE %s (LIKE persons INCLUDING DEFAULTS) ON COMMIT DROP`, stagingTable)
	mergeSQL = buildMergeSQL()
)

func buildMergeSQL() string {
	cols := strings.Join(ownedColumns, ", ")
	sets := make([]string, 0, len(ownedColumns)-1)
	for _, c := range ownedColumns[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	sets = append(sets, "updated_on = now()")
	return fmt.Sprintf(
		`INSERT INTO persons (%s) SELECT %s FROM %s ON CONFLICT (person_id) DO UPDATE SET %s`,
		cols, cols, stagingTable, strings.Join(sets, ", "))
}

type BatchResult struct {
	Received   int   `json:"received"`
	WithoutTrn int   `json:"without_trn"`
	Duplicates int   `json:"duplicates"`
	Upserted   int64 `json:"upserted"`
}

type Engine struct {
	db     db.TxBeginner
	logger *zap.Logger
	now    func() time.Time
}

func NewEngine(pool db.TxBeginner, logger *zap.Logger) *Engine {
	return &Engine{db: pool, logger: logger, now: time.Now}
}

// SyncBatch validates every record, drops those without a TRN, and merges the
// rest into persons. Either the whole batch lands or none of it does.
func (e *Engine) SyncBatch(ctx context.Context, records []PersonRecord) (BatchResult, error) {
	res := BatchResult{Received: len(records)}
	for _, r := range records {
		if err := r.validate(); err != nil {
			return res, err
		}
	}

	rows, withoutTrn, duplicates := e.prepare(records)
	res.WithoutTrn, res.Duplicates = withoutTrn, duplicates
	if len(rows) == 0 {
		e.logger.Debug("Nothing to merge", zap.Int("received", res.Received), zap.Int("without_trn", withoutTrn))
		return res, nil
	}

	start := time.Now()
	err := db.WithTx(ctx, e.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, createStagingSQL); err != nil {
			return fmt.Errorf("create staging table: %w", err)
		}
		copied, err := tx.CopyFrom(ctx, pgx.Identifier{stagingTable}, ownedColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy %d persons: %w", len(rows), err)
		}
		if copied != int64(len(rows)) {
			return fmt.Errorf("copied %d of %d persons", copied, len(rows))
		}
		tag, err := tx.Exec(ctx, mergeSQL)
		if err != nil {
			return fmt.Errorf("merge persons: %w", err)
		}
		res.Upserted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return BatchResult{Received: res.Received}, err
	}

	e.logger.Info("Person batch merged",
		zap.Int("received", res.Received),
		zap.Int("without_trn", res.WithoutTrn),
		zap.Int("duplicates", res.Duplicates),
		zap.Int64("upserted", res.Upserted),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// prepare turns records into COPY rows. A later record for the same person
// replaces an earlier one in place, because one INSERT ... ON CONFLICT cannot
// touch the same row twice.
func (e *Engine) prepare(records []PersonRecord) (rows [][]any, withoutTrn, duplicates int) {
	synced := e.now().UTC()
	index := make(map[uuid.UUID]int, len(records))
	for _, r := range records {
		if r.Trn == nil || *r.Trn == "" {
			withoutTrn++
			continue
		}
		row := []any{
			r.PersonID,
			*r.Trn,
			r.FirstName,
			r.MiddleName,
			r.LastName,
			r.DateOfBirth,
			r.EmailAddress,
			r.NationalInsuranceNumber,
			synced,
		}
		if i, dup := index[r.PersonID]; dup {
			rows[i] = row
			duplicates++
			continue
		}
		index[r.PersonID] = len(rows)
		rows = append(rows, row)
	}
	return rows, withoutTrn, duplicates
}
