package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"kanban-api/api"
	"kanban-api/config"
	"kanban-api/domain"
	"kanban-api/notify"
	"kanban-api/storage"
)

const shutdownTimeout = 15 * time.Second

func runServe(ctx context.Context, cfgPath string) error {
	cfg, logger, err := setup(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())))
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.WithError(err).Warn("tracer shutdown failed")
		}
	}()

	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer store.Close()

	rdb := openRedis(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	var cache domain.BoardCache = domain.NopCache{}
	if rdb != nil {
		cache = storage.NewCache(rdb, cfg.Redis.BoardCacheTTL, logger)
	}
	auth := api.NewAuth([]byte(cfg.JWT.Secret), cfg.JWT.Issuer, cfg.JWT.TTL)
	cards := domain.NewCardService(store, cache)
	svc := api.Services{
		Accounts: domain.NewAccountService(store, auth, cfg.BcryptCost),
		Boards:   domain.NewBoardService(store, cache, cfg.SeedColumns),
		Cards:    cards,
		Health:   store,
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.JSONSerializer{}
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.HTTPErrorHandler(logger)
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{Timeout: cfg.RequestTimeout}))
	e.Use(echoprometheus.NewMiddleware("kanban"))
	e.Use(api.RequestMetrics(logger), api.GzipRequestMiddleware())
	e.GET("/metrics", echoprometheus.NewHandler())
	api.Register(e, svc, auth, api.NewIdempotencyStore(rdb, cfg.Redis.IdempotencyTTL), logger)

	var sweeper *notify.Sweeper
	if cfg.Overdue.SweepInterval > 0 {
		sweeper, err = newSweeper(ctx, cfg, cards, rdb, logger)
		if err != nil {
			return err
		}
		go sweeper.Run(ctx, cfg.Overdue.SweepInterval)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.ListenAddr)
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http shutdown")
	}
	if sweeper != nil {
		sweeper.Stop()
	}
	return nil
}

// openRedis returns nil when Redis is not configured. An unreachable server
// is only logged: the cache and dedupe paths degrade on their own.
func openRedis(ctx context.Context, cfg *config.Config, logger *log.Logger) *redis.Client {
	if cfg.Redis.ConnectionString == "" {
		logger.Info("redis not configured; board cache, idempotency and dedupe disabled")
		return nil
	}
	rdb := storage.NewRedisClient(cfg.Redis.ConnectionString)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.WithError(err).Warn("redis ping failed")
	}
	return rdb
}
