package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukaan-erp/dukaan-erp/internal/app"
	jobmetrics "github.com/dukaan-erp/dukaan-erp/internal/jobs"
	"github.com/dukaan-erp/dukaan-erp/internal/ledger"
	"github.com/dukaan-erp/dukaan-erp/internal/party"
	"github.com/dukaan-erp/dukaan-erp/internal/platform/cache"
	"github.com/dukaan-erp/dukaan-erp/internal/platform/db"
	"github.com/dukaan-erp/dukaan-erp/internal/shared"
	"github.com/dukaan-erp/dukaan-erp/internal/stock"
	"github.com/dukaan-erp/dukaan-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{
		MaxConns:    cfg.PGMaxConns,
		LockTimeout: cfg.PGLockTimeout,
	})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	locker := shared.NewLocker(redisClient, cfg.LockWait, cfg.LockTTL)
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)

	// The worker has no other HTTP surface, so the job metrics get
	// their own listener for Prometheus to scrape.
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", slog.Any("error", err))
		}
	}()

	ledgerService := ledger.NewService(ledger.NewRepository(pool), auditLogger)
	partyService := party.NewService(party.NewRepository(pool), auditLogger)
	stockService := stock.NewService(stock.NewRepository(pool), auditLogger, locker, idempotencyStore)

	integrityJob := jobs.NewLedgerIntegrityJob(ledgerService, partyService, logger, metrics)
	expiryJob := jobs.NewExpiryScanJob(stockService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, metrics)

	integrityTask, err := jobs.NewLedgerIntegrityTask(jobs.LedgerIntegrityPayload{})
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(48 * time.Hour)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskStockExpiryScan, Handler: expiryJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "30 1 * * *", Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 2 * * *", Task: jobs.NewStockExpiryScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 2 * * *", Task: cleanupTask},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
