package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"titanic/config"
	"titanic/dataset"
	"titanic/db"
	qhttp "titanic/http"
	"titanic/logging"
	"titanic/monitoring"
	"titanic/predictor"
	"titanic/scheduler"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize database
	var store *db.Store
	opts := predictor.Options{
		Solver:    cfg.Solver(),
		CacheSize: cfg.Cache.Size,
		TestRatio: cfg.Model.TestRatio,
		Seed:      cfg.Model.Seed,
		Logger:    logger.Named("predictor"),
		Metrics:   monitoring.NewMetricsCollector(),
	}
	if cfg.Database.Path != "" {
		store, err = db.Open(cfg.Database.Path, logger.Named("db"))
		if err != nil {
			logger.Fatal("failed to initialize database", zap.Error(err))
		}
		defer store.Close()
		opts.Recorder = store
	}
	go opts.Metrics.Run(ctx, 10*time.Second)

	// 3. Load the dataset and fit the model before serving
	src, err := dataset.ParseSource(cfg.Dataset.Source)
	if err != nil {
		logger.Fatal("invalid dataset source", zap.Error(err))
	}
	service := predictor.New(predictor.DatasetLoader(src, dataset.Options{
		Encoding: cfg.Dataset.Encoding,
		Timeout:  cfg.Dataset.FetchTimeout,
		Logger:   logger.Named("dataset"),
	}), opts)
	snap, err := service.Snapshot(ctx)
	if err != nil {
		logger.Fatal("failed to build model", zap.Error(err))
	}
	logger.Info("model ready", zap.String("model_id", snap.ModelID), zap.Stringer("source", snap.Source))

	if path, ok := src.LocalPath(); ok && cfg.Dataset.Watch {
		go func() {
			if err := service.Watch(ctx, path); err != nil {
				logger.Error("dataset watch stopped", zap.Error(err))
			}
		}()
	}

	var refresher *scheduler.Scheduler
	if cfg.Dataset.RefreshInterval > 0 {
		refresher, err = scheduler.New(cfg.Dataset.RefreshInterval, 2*cfg.Dataset.FetchTimeout, func(ctx context.Context) error {
			_, err := service.Reload(ctx)
			return err
		}, logger.Named("scheduler"))
		if err != nil {
			logger.Fatal("invalid refresh settings", zap.Error(err))
		}
		if err := refresher.Start(ctx); err != nil {
			logger.Fatal("failed to start refresher", zap.Error(err))
		}
		defer refresher.Stop()
	}

	// 4. Start HTTP server
	handlers := qhttp.NewHandlers(service, store, opts.Metrics, logger.Named("http"))
	if refresher != nil {
		handlers.SetRefreshStatus(refresher)
	}
	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, handlers)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 5. Handle graceful shutdown
	<-ctx.Done()
	logger.Info("shutting down")
	if err := server.Stop(); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("exiting")
}
