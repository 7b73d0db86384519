package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"gofinances/internal/cli"
	"gofinances/internal/config"
	applog "gofinances/internal/log"
	"gofinances/internal/upload"
	"gofinances/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := config.Load()
	logger := cli.SetupLogger(cfg, os.Stdout, applog.ComponentWorker)
	logger.Info("Starting gofinances-worker")

	cli.ValidateConfig(logger, cfg)
	if !cfg.AMQPEnabled() {
		logger.Error("AMQP_URL is required for the import worker")
		os.Exit(1)
	}

	ctx, cancel := cli.SignalContext(context.Background(), logger)
	defer cancel()

	res := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Cleanup failed", "error", err)
		}
	}()

	client := res.Backend.AMQP
	if client == nil {
		logger.Error("AMQP broker unreachable, cannot consume import requests")
		os.Exit(1)
	}

	stager := upload.NewStager(cfg.UploadDir)
	importWorker := worker.NewImportWorker(res.Backend.Importer, stager)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return client.ConsumeImportRequests(gctx, importWorker.HandleImportRequest)
	})

	// Remove staged uploads whose request never arrived.
	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval(cfg.UploadMaxAge))
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := stager.Sweep(cfg.UploadMaxAge)
				if err != nil {
					logger.Warn("Upload sweep failed", "error", err)
				}
				if n > 0 {
					logger.Info("Removed stale uploads", "count", n, "dir", cfg.UploadDir)
				}
			}
		}
	})

	err := g.Wait()
	logger.Info("Shutting down worker...")
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", "error", err)
		cancel()
		if cerr := res.Cleanup(); cerr != nil {
			logger.Error("Cleanup failed", "error", cerr)
		}
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}

func sweepInterval(maxAge time.Duration) time.Duration {
	if d := maxAge / 4; d > time.Minute {
		return d
	}
	return time.Minute
}
