package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dukaan-erp/dukaan-erp/internal/app"
	"github.com/dukaan-erp/dukaan-erp/internal/ledger"
	"github.com/dukaan-erp/dukaan-erp/internal/observability"
	"github.com/dukaan-erp/dukaan-erp/internal/party"
	"github.com/dukaan-erp/dukaan-erp/internal/platform/cache"
	"github.com/dukaan-erp/dukaan-erp/internal/platform/db"
	"github.com/dukaan-erp/dukaan-erp/internal/shared"
	"github.com/dukaan-erp/dukaan-erp/internal/stock"
	"github.com/dukaan-erp/dukaan-erp/internal/tax"
	"github.com/dukaan-erp/dukaan-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	metrics := observability.NewMetrics()

	defaultRate, err := cfg.GSTRate()
	if err != nil {
		logger.Error("parse gst rate", slog.Any("error", err))
		os.Exit(1)
	}
	taxHandler := tax.NewHandler(logger, tax.Defaults{
		SellerState: cfg.OrgStateCode,
		RatePercent: defaultRate,
	})

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService)

	partyRepo := party.NewRepository(pool)
	partyService := party.NewService(partyRepo, auditLogger)
	partyHandler := party.NewHandler(logger, partyService, metrics)

	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, auditLogger, locker, idempotencyStore)
	stockHandler := stock.NewHandler(logger, stockService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, jobClient, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		TaxHandler:    taxHandler,
		LedgerHandler: ledgerHandler,
		PartyHandler:  partyHandler,
		StockHandler:  stockHandler,
		JobHandler:    jobHandler,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
