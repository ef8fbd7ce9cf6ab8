package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/scanstock/scanstock/internal/app"
	"github.com/scanstock/scanstock/internal/enrich"
	"github.com/scanstock/scanstock/internal/ledger"
	"github.com/scanstock/scanstock/internal/notify"
	"github.com/scanstock/scanstock/internal/platform/db"
	"github.com/scanstock/scanstock/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	repo := ledger.NewRepository(pool)

	provider := enrich.NewHTTPProvider(cfg.ImageProviderURL, cfg.ImageDownloadTimeout)
	enrichService := enrich.NewService(repo, provider, cfg.StorageDir, cfg.ImageDownloadTimeout, logger)

	notifyService := notify.NewService(notify.NewSQLRepository(pool), cfg.NotifyDedupWindow, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Metrics:     jobs.NewMetrics(nil),
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeEnrichProduct, Handler: jobs.HandleEnrichProduct(enrichService)},
			{Type: jobs.TaskTypeScanNotification, Handler: jobs.HandleScanNotification(notifyService, logger)},
			{Type: jobs.TaskTypeSaleNotification, Handler: jobs.HandleSaleNotification(notifyService, logger)},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("starting worker", slog.Int("concurrency", cfg.WorkerConcurrency))
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker shut down")
}
