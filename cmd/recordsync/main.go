package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/mehmetymw/recordsync/internal/config"
	"github.com/mehmetymw/recordsync/internal/db"
	"github.com/mehmetymw/recordsync/internal/events"
	"github.com/mehmetymw/recordsync/internal/feed"
	"github.com/mehmetymw/recordsync/internal/feed/pgfeed"
	"github.com/mehmetymw/recordsync/internal/handlers"
	"github.com/mehmetymw/recordsync/internal/journal"
	"github.com/mehmetymw/recordsync/internal/ops"
	"github.com/mehmetymw/recordsync/internal/outbox"
	"github.com/mehmetymw/recordsync/internal/replica"
)

const usage = "usage: recordsync <serve|migrate|reset-cursor|sync-replica> [flags]"

func main() {
	zapConfig := zap.NewProductionConfig()
	logger, _ := zapConfig.Build()
	defer logger.Sync()

	if len(os.Args) < 2 {
		logger.Fatal(usage)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if lvl, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		logger.Warn("Invalid log level, keeping info", zap.String("level", cfg.Log.Level))
	} else {
		zapConfig.Level.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, logger, cfg, os.Args[1], os.Args[2:])
	stop()
	if err != nil {
		logger.Error("recordsync terminated with an error", zap.String("command", os.Args[1]), zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *zap.Logger, cfg config.Config, command string, args []string) error {
	switch command {
	case "serve":
		return serve(ctx, logger, cfg)
	case "migrate":
		return migrate(ctx, logger, cfg, args)
	case "reset-cursor":
		return resetCursor(ctx, logger, cfg, args)
	case "sync-replica":
		return syncReplica(ctx, logger, cfg)
	default:
		return fmt.Errorf("unknown command %q; %s", command, usage)
	}
}

// app holds what every command needs: the local database, the journal and a
// feed client bound to the configured source.
type app struct {
	pool    *pgxpool.Pool
	journal *journal.Journal
	feed    *feed.Client
	closers []func()
}

func newApp(ctx context.Context, logger *zap.Logger, cfg config.Config) (*app, error) {
	pool, err := db.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a := &app{pool: pool, journal: journal.New(pool, logger), closers: []func(){pool.Close}}

	logger.Info("Initializing change feed source", zap.String("type", cfg.Feed.Type))
	var source feed.Source
	switch cfg.Feed.Type {
	case "http":
		source = feed.NewHTTPSource(cfg.Feed.HTTP, logger)
	case "postgres":
		feedPool, err := pgfeed.Connect(ctx, cfg.Feed.Postgres.DSN, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, feedPool.Close)
		source = pgfeed.New(feedPool, logger)
	default:
		a.close()
		return nil, fmt.Errorf("unknown feed type %q", cfg.Feed.Type)
	}
	a.feed = feed.NewClient(source, a.journal, logger)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func serve(ctx context.Context, logger *zap.Logger, cfg config.Config) error {
	logger.Info("Starting recordsync",
		zap.String("feed_type", cfg.Feed.Type),
		zap.Int("outbox_processors", len(cfg.Outbox)),
		zap.Bool("replica_enabled", cfg.Replica.Enabled))

	a, err := newApp(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	var publisher events.Publisher = events.Discard{}
	if len(cfg.Events.Kafka.Brokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic, logger)
	} else {
		logger.Info("No event broker configured, domain events stay in domain_events only")
	}
	defer func() {
		logger.Info("Closing event publisher")
		if err := publisher.Close(); err != nil {
			logger.Warn("Event publisher close failed", zap.Error(err))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	registry := handlers.NewDefaultRegistry()
	watermarks := journal.NewWatermarks(a.pool)
	consumers := ops.Consumers(cfg)
	statuses := make([]ops.OutboxStatus, 0, len(cfg.Outbox))
	for _, oc := range cfg.Outbox {
		p := outbox.NewProcessor(oc, a.feed, watermarks, registry, a.pool, publisher, logger)
		statuses = append(statuses, p)
		ops.SetOwner(consumers, oc.SyncKey, oc.EntityType, p)
		g.Go(func() error { return p.Run(gctx) })
	}

	var replicaStatus ops.ReplicaStatus
	if cfg.Replica.Enabled {
		s := replica.NewSyncer(a.feed, replica.NewEngine(a.pool, logger), cfg.Replica, logger)
		replicaStatus = s
		ops.SetOwner(consumers, cfg.Replica.SyncKey, cfg.Replica.EntityType, s)
		g.Go(func() error { return s.Run(gctx) })
	}

	opsServer := ops.NewServer(a.journal, a.feed, consumers, statuses, replicaStatus, logger)
	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: opsServer.Router(), ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		logger.Info("Starting HTTP server", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Shutdown complete")
	return err
}

func migrate(ctx context.Context, logger *zap.Logger, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	feedSchema := fs.Bool("feed", false, "also create feed_changes in the postgres feed database")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, logger); err != nil {
		return err
	}

	if !*feedSchema {
		return nil
	}
	if cfg.Feed.Type != "postgres" {
		return fmt.Errorf("-feed needs feed.type postgres, got %q", cfg.Feed.Type)
	}
	feedPool, err := pgfeed.Connect(ctx, cfg.Feed.Postgres.DSN, logger)
	if err != nil {
		return err
	}
	defer feedPool.Close()
	logger.Info("Applying feed schema")
	if _, err := feedPool.Exec(ctx, pgfeed.Schema); err != nil {
		return fmt.Errorf("apply feed schema: %w", err)
	}
	return nil
}

func resetCursor(ctx context.Context, logger *zap.Logger, cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("reset-cursor", flag.ExitOnError)
	syncKey := fs.String("sync-key", "", "sync key of the consumer to reset (required)")
	entityType := fs.String("entity-type", "", "entity type of the consumer to reset (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *syncKey == "" || *entityType == "" {
		return errors.New("reset-cursor needs -sync-key and -entity-type")
	}
	c, ok := ops.FindConsumer(ops.Consumers(cfg), *syncKey, *entityType)
	if !ok {
		return fmt.Errorf("no consumer configured for %s/%s", *syncKey, *entityType)
	}

	a, err := newApp(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	skipped, err := a.feed.ResetToCurrent(ctx, c.SyncKey, c.EntityType, c.Columns, c.PageSize)
	if err != nil {
		return err
	}
	logger.Info("Cursor reset to current",
		zap.String("sync_key", c.SyncKey),
		zap.String("entity_type", c.EntityType),
		zap.Int("skipped", skipped))
	return nil
}

func syncReplica(ctx context.Context, logger *zap.Logger, cfg config.Config) error {
	a, err := newApp(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	s := replica.NewSyncer(a.feed, replica.NewEngine(a.pool, logger), cfg.Replica, logger)
	_, err = s.RunOnce(ctx)
	return err
}
