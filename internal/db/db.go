package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/config"
	"github.com/mehmetymw/recordsync/internal/types"
)

//go:embed schema.sql
var schema string

// Querier is the subset of pgx shared by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}
	pcfg.MaxConns = cfg.MaxConns

	logger.Info("Connecting to PostgreSQL",
		zap.String("host", pcfg.ConnConfig.Host),
		zap.Uint16("port", pcfg.ConnConfig.Port),
		zap.String("database", pcfg.ConnConfig.Database),
		zap.Int32("max_conns", pcfg.MaxConns))

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, q Querier, logger *zap.Logger) error {
	logger.Info("Applying schema")
	if _, err := q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling back
// on any error. The returned error is classified with ClassifyError.
func WithTx(ctx context.Context, db TxBeginner, fn func(tx pgx.Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return ClassifyError(fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return ClassifyError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ClassifyError(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// ClassifyError tags serialization failures and connection-level errors so
// callers can decide between retrying now and waiting for the next tick.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrTransientIO) || errors.Is(err, types.ErrConflictingTransactionState) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return types.ConflictingTransactionStateError(err)
		case "57P01", "57P02", "57P03", "08000", "08003", "08006":
			return types.TransientIOError(err)
		}
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return types.TransientIOError(err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return types.TransientIOError(err)
	}
	return err
}
