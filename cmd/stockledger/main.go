package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/cmd/stockledger/cli"
	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/masterdata/locations"
	"github.com/odyssey-erp/stockledger/internal/masterdata/suppliers"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/procurement"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/transfer"
	"github.com/odyssey-erp/stockledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobs(cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(cfg, logger); err != nil {
		logger.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(cfg *app.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{LockTimeout: cfg.PGLockTimeout, MaxConns: cfg.PGMaxConns})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	validator := httpx.NewValidator()

	var (
		stockCache inventory.StockCachePort
		events     inventory.EventPublisher
		jobHandler *jobs.Handler
	)
	if cfg.AsyncEnabled() {
		redisClient, err := cache.New(ctx, cfg.RedisAddr, cache.Options{})
		if err != nil {
			logger.Warn("redis unavailable, stock cache disabled", slog.Any("error", err))
		} else {
			defer closeQuietly(logger, "redis", redisClient.Close)
			stockCache = inventory.NewStockCache(redisClient, cfg.StockCacheTTL)
		}

		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		client, err := jobs.NewClient(redisOpts)
		if err != nil {
			return fmt.Errorf("init jobs client: %w", err)
		}
		defer closeQuietly(logger, "jobs client", client.Close)
		events = client

		inspector := asynq.NewInspector(redisOpts)
		defer closeQuietly(logger, "inspector", inspector.Close)
		jobHandler = jobs.NewHandler(inspector, logger)
	} else {
		logger.Info("REDIS_ADDR not set, stock cache and movement events disabled")
	}

	inventoryRepo := inventory.NewRepository(pool)
	locationService := locations.NewService(locations.NewRepository(pool), inventoryRepo, auditLogger, logger)
	inventoryService := inventory.NewService(inventoryRepo, locationService, inventory.ServiceConfig{
		Cache:   stockCache,
		Events:  events,
		Metrics: metrics,
		Logger:  logger,
	})
	reservations := inventory.NewReservationManager(inventoryService)
	supplierService := suppliers.NewService(suppliers.NewRepository(pool), auditLogger, logger)
	procurementService := procurement.NewService(procurement.NewRepository(pool), inventoryService, supplierService, auditLogger, logger)
	transferService := transfer.NewService(transfer.NewRepository(pool), inventoryService, locationService, auditLogger, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		DB:                 pool,
		LocationHandler:    locations.NewHandler(logger, locationService, validator),
		SupplierHandler:    suppliers.NewHandler(logger, supplierService, validator),
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, reservations, validator),
		ProcurementHandler: procurement.NewHandler(logger, procurementService, validator),
		TransferHandler:    transfer.NewHandler(logger, transferService, validator),
		JobHandler:         jobHandler,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// runJobs handles `stockledger jobs trigger <name>` and `stockledger jobs stats`.
func runJobs(cfg *app.Config, args []string) error {
	c, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch {
	case len(args) == 2 && args[0] == "trigger":
		info, err := c.Trigger(ctx, args[1], cfg.IdempotencyRetention)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case len(args) == 1 && args[0] == "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return errors.New("usage: stockledger jobs trigger <low-stock-scan|idempotency-cleanup> | stockledger jobs stats")
	}
	return nil
}

func closeQuietly(logger *slog.Logger, name string, fn func() error) {
	if err := fn(); err != nil && !errors.Is(err, redis.ErrClosed) {
		logger.Warn(name+" close", slog.Any("error", err))
	}
}
