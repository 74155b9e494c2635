package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-api/config"
	"kanban-api/domain"
	"kanban-api/notify"
	"kanban-api/storage"
)

// newSweeper publishes to the configured queue, or to the log when none is
// set. Dedupe needs Redis.
func newSweeper(ctx context.Context, cfg *config.Config, src notify.Source, rdb *redis.Client, logger *log.Logger) (*notify.Sweeper, error) {
	var pub notify.Publisher = notify.LogPublisher{Log: logger}
	if cfg.Overdue.Queue != "" {
		q, err := storage.NewOverdueQueue(cfg.Overdue.StorageConnectionString, cfg.Overdue.Queue)
		if err != nil {
			return nil, fmt.Errorf("overdue queue: %w", err)
		}
		if err := q.Ensure(ctx); err != nil {
			return nil, fmt.Errorf("creating queue %s: %w", cfg.Overdue.Queue, err)
		}
		pub = q
	}

	var dedupe notify.Deduper
	if rdb != nil {
		dedupe = storage.NewRedisDeduper(rdb, cfg.Redis.DedupeTTL)
	} else {
		logger.Warn("redis not configured; overdue notices repeat on every sweep")
	}

	return notify.New(src, pub, dedupe, notify.Config{
		Workers:        cfg.Overdue.Workers,
		Buffer:         cfg.Overdue.Buffer,
		PublishTimeout: cfg.Overdue.PublishTimeout,
		HandoffTimeout: cfg.Overdue.HandoffTimeout,
	}, logger), nil
}

func runSweep(ctx context.Context, cfgPath string) error {
	cfg, logger, err := setup(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	rdb := openRedis(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	sweeper, err := newSweeper(ctx, cfg, domain.NewCardService(store, nil), rdb, logger)
	if err != nil {
		return err
	}
	defer sweeper.Stop()

	res, err := sweeper.Sweep(ctx)
	logger.WithFields(log.Fields{
		"users":     res.Users,
		"published": res.Published,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
		"deferred":  res.Deferred,
	}).Info("overdue sweep finished")
	return err
}

func runMigrate(ctx context.Context, cfgPath string) error {
	cfg, logger, err := setup(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	logger.WithField("version", version).Info("schema up to date")
	return nil
}
