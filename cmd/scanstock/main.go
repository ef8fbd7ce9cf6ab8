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

	"github.com/scanstock/scanstock/internal/app"
	"github.com/scanstock/scanstock/internal/broadcast"
	"github.com/scanstock/scanstock/internal/catalog"
	"github.com/scanstock/scanstock/internal/ledger"
	"github.com/scanstock/scanstock/internal/match"
	"github.com/scanstock/scanstock/internal/notify"
	"github.com/scanstock/scanstock/internal/observability"
	"github.com/scanstock/scanstock/internal/platform/cache"
	"github.com/scanstock/scanstock/internal/platform/db"
	"github.com/scanstock/scanstock/internal/reconcile"
	"github.com/scanstock/scanstock/internal/shared"
	"github.com/scanstock/scanstock/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
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

	repo := ledger.NewRepository(pool)
	auditLogger := shared.NewAuditLogger(pool)
	metrics := observability.NewMetrics()

	hub := broadcast.NewHub(logger)
	go hub.Run(ctx)
	countCache := broadcast.NewCountCache(redisClient, cfg.CountCacheTTL, repo.CountActiveProducts, logger)
	feed := broadcast.NewFeed(hub, countCache)

	queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, logger)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	pages := reconcile.NewPageStore(cfg.StorageDir, logger)
	engine := reconcile.NewEngine(repo, match.NewResolver(), pages, queue, feed, auditLogger, logger)
	invoiceHandler := reconcile.NewHandler(logger, engine)

	catalogService := catalog.NewService(repo, queue, feed, auditLogger,
		catalog.ServiceConfig{AllowNegativeStock: cfg.AllowNegativeStock}, logger)
	catalogHandler := catalog.NewHandler(logger, catalogService)

	notifyService := notify.NewService(notify.NewSQLRepository(pool), cfg.NotifyDedupWindow, logger)
	notificationHandler := notify.NewHandler(logger, notifyService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Pool:                pool,
		InvoiceHandler:      invoiceHandler,
		CatalogHandler:      catalogHandler,
		NotificationHandler: notificationHandler,
		JobHandler:          jobHandler,
		Hub:                 hub,
		CountCache:          countCache,
		Metrics:             metrics,
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
