// Package outbox consumes the remote outbox entity through the change feed and
// dispatches each message to its registered handler.
//
// Every message is handled in its own transaction together with the
// watermark upsert, so the stored watermark never moves past a message whose
// handler side effects were not committed. The feed cursor is only committed
// once a whole poll has been handled; a failed poll is redelivered and the
// watermark filters out what was already applied.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/mehmetymw/recordsync/internal/config"
	"github.com/mehmetymw/recordsync/internal/db"
	"github.com/mehmetymw/recordsync/internal/events"
	"github.com/mehmetymw/recordsync/internal/handlers"
	"github.com/mehmetymw/recordsync/internal/store"
	"github.com/mehmetymw/recordsync/internal/types"
)

type State string

const (
	StateIdle                State = "idle"
	StatePolling             State = "polling"
	StateDispatching         State = "dispatching"
	StateCommittingWatermark State = "committing_watermark"
	StateStopped             State = "stopped"
)

type ChangeFeed interface {
	GetChanges(ctx context.Context, syncKey, entityType string, columns []string, pageSize int) iter.Seq2[types.Page, error]
	ResetToCurrent(ctx context.Context, syncKey, entityType string, columns []string, pageSize int) (int, error)
}

type WatermarkStore interface {
	Load(ctx context.Context, key string) (time.Time, bool, error)
	Advance(ctx context.Context, tx pgx.Tx, key string, to time.Time) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, s *handlers.Scope, typeName, payload string) error
}

// Pool is what the processor needs from the database: transactions for
// dispatch and plain statements for marking events published.
type Pool interface {
	db.Querier
	db.TxBeginner
}

type Status struct {
	Name         string    `json:"name"`
	State        State     `json:"state"`
	Watermark    time.Time `json:"watermark,omitzero"`
	Processed    int64     `json:"processed"`
	Skipped      int64     `json:"skipped"`
	LastTick     time.Time `json:"last_tick,omitzero"`
	LastError    string    `json:"last_error,omitempty"`
	HasWatermark bool      `json:"has_watermark"`
}

type Processor struct {
	cfg        config.OutboxConfig
	feed       ChangeFeed
	watermarks WatermarkStore
	registry   Dispatcher
	pool       Pool
	publisher  events.Publisher
	logger     *zap.Logger
	now        func() time.Time

	// cursor is held for a whole poll or cursor reset; the processor is the
	// only writer of its journal row.
	cursor chan struct{}

	mu           sync.Mutex
	state        State
	watermark    time.Time
	hasWatermark bool
	processed    int64
	skipped      int64
	lastTick     time.Time
	lastErr      string

	cancel context.CancelFunc
	done   chan struct{}
}

func NewProcessor(cfg config.OutboxConfig, feed ChangeFeed, watermarks WatermarkStore, registry Dispatcher, pool Pool, publisher events.Publisher, logger *zap.Logger) *Processor {
	logger = logger.With(zap.String("processor", cfg.Name))
	logger.Info("Creating outbox processor",
		zap.String("sync_key", cfg.SyncKey),
		zap.String("entity_type", cfg.EntityType),
		zap.String("watermark_key", cfg.WatermarkKey),
		zap.Int("page_size", cfg.PageSize),
		zap.Int("poll_interval_ms", cfg.PollIntervalMs),
		zap.Bool("halt_on_unknown_message", cfg.HaltOnUnknownMessage))
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Processor{
		cfg:        cfg,
		feed:       feed,
		watermarks: watermarks,
		registry:   registry,
		pool:       pool,
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
		state:      StateIdle,
		cursor:     make(chan struct{}, 1),
	}
}

func (p *Processor) Name() string { return p.cfg.Name }

var ErrAlreadyStarted = errors.New("outbox processor already started")

// Start runs the processor in its own goroutine until Stop is called or ctx
// is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	go func() {
		defer close(done)
		if err := p.Run(ctx); err != nil {
			p.logger.Error("Outbox processor exited", zap.Error(err))
		}
	}()
	return nil
}

// Stop cancels the loop and waits for the in-flight message to finish. The
// processor may be started again afterwards.
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done

	p.mu.Lock()
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
}

// Run loads the watermark and polls until ctx is cancelled. It only returns
// an error when the watermark cannot be loaded.
func (p *Processor) Run(ctx context.Context) error {
	p.mu.Lock()
	p.state = StateIdle
	p.mu.Unlock()
	defer p.setState(StateStopped)

	err := p.retry(ctx, func(ctx context.Context) error {
		wm, found, err := p.watermarks.Load(ctx, p.cfg.WatermarkKey)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.watermark, p.hasWatermark = wm, found
		p.mu.Unlock()
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("load watermark %s: %w", p.cfg.WatermarkKey, err)
	}
	p.logger.Info("Starting outbox processing loop", zap.Time("watermark", p.watermark))

	ticker := time.NewTicker(time.Duration(p.cfg.PollIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		p.runTick(ctx)
		select {
		case <-ctx.Done():
			p.logger.Info("Outbox processor stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Processor) runTick(ctx context.Context) {
	start := time.Now()
	err := p.retry(ctx, p.Tick)

	if err != nil && ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	p.lastTick = p.now()
	p.lastErr = ""
	if err != nil {
		p.lastErr = err.Error()
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("Outbox tick failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	p.logger.Debug("Outbox tick completed", zap.Duration("duration", time.Since(start)))
}

func (p *Processor) retry(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := max(p.cfg.Retry.MaxAttempts, 1)
	delay := time.Duration(p.cfg.Retry.DelayMs) * time.Millisecond
	return retry(ctx, attempts, delay, p.logger, fn)
}

// Tick performs one poll of the outbox: every new message since the stored
// cursor is dispatched in order. Any error abandons the poll so the cursor
// stays where it was.
func (p *Processor) Tick(ctx context.Context) error {
	if err := p.lockCursor(ctx); err != nil {
		return err
	}
	defer p.unlockCursor()

	p.setState(StatePolling)
	defer p.setState(StateIdle)

	for page, err := range p.feed.GetChanges(ctx, p.cfg.SyncKey, p.cfg.EntityType, p.cfg.Columns, p.cfg.PageSize) {
		if err != nil {
			return err
		}
		p.logger.Debug("Received outbox page",
			zap.Int("page", page.Number),
			zap.Int("items", len(page.Items)))
		for _, item := range page.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := p.handle(ctx, item); err != nil {
				return err
			}
			p.setState(StatePolling)
		}
	}
	return nil
}

// ResetCursor moves the processor's feed cursor to the current end of the
// feed. It waits for an in-flight poll so the reset is never overwritten by
// an older token.
func (p *Processor) ResetCursor(ctx context.Context) (int, error) {
	if err := p.lockCursor(ctx); err != nil {
		return 0, err
	}
	defer p.unlockCursor()

	skipped, err := p.feed.ResetToCurrent(ctx, p.cfg.SyncKey, p.cfg.EntityType, p.cfg.Columns, p.cfg.PageSize)
	if err != nil {
		return 0, err
	}
	p.logger.Info("Outbox cursor reset to current", zap.Int("skipped", skipped))
	return skipped, nil
}

func (p *Processor) lockCursor(ctx context.Context) error {
	select {
	case p.cursor <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Processor) unlockCursor() { <-p.cursor }

func (p *Processor) handle(ctx context.Context, item types.ChangedItem) error {
	msg, err := parseMessage(item)
	if err != nil {
		return err
	}

	p.mu.Lock()
	wm, has := p.watermark, p.hasWatermark
	p.mu.Unlock()
	if has && !msg.CreatedAt.After(wm) {
		p.mu.Lock()
		p.skipped++
		p.mu.Unlock()
		p.logger.Debug("Skipping message at or before watermark",
			zap.String("id", item.ID),
			zap.String("message_type", msg.MessageTypeName),
			zap.Time("created_at", msg.CreatedAt),
			zap.Time("watermark", wm))
		return nil
	}
	return p.dispatch(ctx, item.ID, msg)
}

func (p *Processor) dispatch(ctx context.Context, id string, msg types.OutboxMessage) error {
	// The message runs to completion once started; shutdown waits for it.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Duration(p.cfg.DispatchTimeoutMs)*time.Millisecond)
	defer cancel()

	p.setState(StateDispatching)
	scope := &handlers.Scope{Logger: p.logger.With(zap.String("message_id", id)), Now: p.now}

	err := db.WithTx(dctx, p.pool, func(tx pgx.Tx) error {
		scope.Persons = store.NewPersons(tx)
		if err := p.registry.Dispatch(dctx, scope, msg.MessageTypeName, msg.Payload); err != nil {
			// An unknown type is fatal for that message only; the watermark
			// still moves past it unless the processor is told to halt.
			if !errors.Is(err, types.ErrUnknownMessageType) || p.cfg.HaltOnUnknownMessage {
				return err
			}
			p.logger.Error("Skipping message of unknown type",
				zap.String("id", id),
				zap.String("message_type", msg.MessageTypeName),
				zap.Time("created_at", msg.CreatedAt))
		}
		for _, evt := range scope.Emitted() {
			if err := store.InsertEvent(dctx, tx, evt); err != nil {
				return err
			}
		}
		p.setState(StateCommittingWatermark)
		return p.watermarks.Advance(dctx, tx, p.cfg.WatermarkKey, msg.CreatedAt)
	})
	if err != nil {
		return fmt.Errorf("dispatch %s %s created at %s: %w", msg.MessageTypeName, id, msg.CreatedAt.Format(time.RFC3339Nano), err)
	}

	p.mu.Lock()
	if !p.hasWatermark || msg.CreatedAt.After(p.watermark) {
		p.watermark, p.hasWatermark = msg.CreatedAt, true
	}
	p.processed++
	p.mu.Unlock()

	p.logger.Info("Dispatched outbox message",
		zap.String("id", id),
		zap.String("message_type", msg.MessageTypeName),
		zap.Time("created_at", msg.CreatedAt),
		zap.Int("events", len(scope.Emitted())))

	p.publish(dctx, scope.Emitted())
	return nil
}

// publish is best effort. Events that fail to publish stay unpublished in
// domain_events.
func (p *Processor) publish(ctx context.Context, evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	if err := p.publisher.Publish(ctx, evts); err != nil {
		p.logger.Warn("Failed to publish domain events", zap.Int("count", len(evts)), zap.Error(err))
		return
	}
	ids := make([]uuid.UUID, len(evts))
	for i, evt := range evts {
		ids[i] = evt.ID
	}
	if err := store.MarkPublished(ctx, p.pool, ids); err != nil {
		p.logger.Warn("Failed to mark domain events published", zap.Error(err))
	}
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == StateStopped {
		return
	}
	p.state = s
}

func (p *Processor) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Name:         p.cfg.Name,
		State:        p.state,
		Watermark:    p.watermark,
		HasWatermark: p.hasWatermark,
		Processed:    p.processed,
		Skipped:      p.skipped,
		LastTick:     p.lastTick,
		LastError:    p.lastErr,
	}
}
