package replica

import (
	"context"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/config"
	"github.com/mehmetymw/recordsync/internal/types"
)

type ChangeFeed interface {
	GetChanges(ctx context.Context, syncKey, entityType string, columns []string, pageSize int) iter.Seq2[types.Page, error]
	ResetToCurrent(ctx context.Context, syncKey, entityType string, columns []string, pageSize int) (int, error)
}

type BatchSyncer interface {
	SyncBatch(ctx context.Context, records []PersonRecord) (BatchResult, error)
}

type RunResult struct {
	Pages      int   `json:"pages"`
	Upserted   int64 `json:"upserted"`
	Removed    int   `json:"removed"`
	WithoutTrn int   `json:"without_trn"`
	Batches    int   `json:"batches"`
}

type Status struct {
	LastRun      time.Time `json:"last_run,omitzero"`
	LastResult   RunResult `json:"last_result"`
	LastError    string    `json:"last_error,omitempty"`
	PendingBatch int       `json:"pending_batch"`
}

// Syncer buffers contact changes from the feed and flushes them through a
// BatchSyncer. Every buffered record is flushed before the final page is
// accepted, so the feed cursor only moves once everything has been merged.
type Syncer struct {
	feed   ChangeFeed
	engine BatchSyncer
	cfg    config.ReplicaConfig
	logger *zap.Logger

	// cursor serializes runs and cursor resets.
	cursor chan struct{}

	mu      sync.Mutex
	batch   []PersonRecord
	lastRun time.Time
	last    RunResult
	lastErr string
}

func NewSyncer(feed ChangeFeed, engine BatchSyncer, cfg config.ReplicaConfig, logger *zap.Logger) *Syncer {
	logger.Info("Creating replica syncer",
		zap.String("sync_key", cfg.SyncKey),
		zap.String("entity_type", cfg.EntityType),
		zap.Int("page_size", cfg.PageSize),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Int("poll_interval_ms", cfg.PollIntervalMs))
	return &Syncer{feed: feed, engine: engine, cfg: cfg, logger: logger, cursor: make(chan struct{}, 1)}
}

// Run polls on the configured interval until ctx is cancelled. A failed run is
// logged and retried on the next interval.
func (s *Syncer) Run(ctx context.Context) error {
	s.logger.Info("Starting replica sync loop")
	ticker := time.NewTicker(time.Duration(s.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Replica sync failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Replica sync loop stopping")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce consumes every change since the stored cursor.
func (s *Syncer) RunOnce(ctx context.Context) (RunResult, error) {
	select {
	case s.cursor <- struct{}{}:
	case <-ctx.Done():
		return RunResult{}, ctx.Err()
	}
	defer func() { <-s.cursor }()

	start := time.Now()
	res, err := s.run(ctx)

	s.mu.Lock()
	s.batch = nil
	s.lastRun = time.Now()
	s.last = res
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		return res, err
	}
	s.logger.Info("Replica sync completed",
		zap.Int("pages", res.Pages),
		zap.Int("batches", res.Batches),
		zap.Int64("upserted", res.Upserted),
		zap.Int("removed", res.Removed),
		zap.Int("without_trn", res.WithoutTrn),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}

// ResetCursor skips the contact feed to its current end once any in-flight
// run has finished.
func (s *Syncer) ResetCursor(ctx context.Context) (int, error) {
	select {
	case s.cursor <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-s.cursor }()

	skipped, err := s.feed.ResetToCurrent(ctx, s.cfg.SyncKey, s.cfg.EntityType, s.cfg.Columns, s.cfg.PageSize)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Replica cursor reset to current", zap.Int("skipped", skipped))
	return skipped, nil
}

func (s *Syncer) run(ctx context.Context) (RunResult, error) {
	var res RunResult
	for page, err := range s.feed.GetChanges(ctx, s.cfg.SyncKey, s.cfg.EntityType, s.cfg.Columns, s.cfg.PageSize) {
		if err != nil {
			return res, err
		}
		res.Pages++
		for _, item := range page.Items {
			if item.Kind == types.Removed {
				s.logger.Debug("Ignoring removed contact", zap.String("id", item.ID))
				res.Removed++
				continue
			}
			rec, err := RecordFromItem(item)
			if err != nil {
				return res, err
			}
			if s.addToBatch(rec) >= s.cfg.BatchSize {
				if err := s.flush(ctx, &res); err != nil {
					return res, err
				}
			}
		}
		if page.Last {
			if err := s.flush(ctx, &res); err != nil {
				return res, err
			}
		}
	}
	return res, nil
}

func (s *Syncer) addToBatch(rec PersonRecord) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batch = append(s.batch, rec)
	return len(s.batch)
}

func (s *Syncer) flush(ctx context.Context, res *RunResult) error {
	s.mu.Lock()
	batch := s.batch
	s.batch = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	s.logger.Debug("Flushing person batch", zap.Int("batch_size", len(batch)))
	br, err := s.engine.SyncBatch(ctx, batch)
	if err != nil {
		return err
	}
	res.Batches++
	res.Upserted += br.Upserted
	res.WithoutTrn += br.WithoutTrn
	return nil
}

func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{LastRun: s.lastRun, LastResult: s.last, LastError: s.lastErr, PendingBatch: len(s.batch)}
}
