// Command api serves the DriveGuard HTTP API and runs the analysis workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"driveguard/internal/analysis"
	"driveguard/internal/api"
	"driveguard/internal/buildinfo"
	"driveguard/internal/config"
	"driveguard/internal/events"
	"driveguard/internal/extractor"
	"driveguard/internal/jobs"
	"driveguard/internal/logging"
	"driveguard/internal/metrics"
	"driveguard/internal/pipeline"
	"driveguard/internal/results"
	"driveguard/internal/store"
	"driveguard/internal/webhooks"
)

const shutdownTimeout = 20 * time.Second

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "api",
		Short:         "Serve the DriveGuard API",
		Version:       buildinfo.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "api:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	metrics.RegisterDefault()

	st, err := store.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	calibrations, err := analysis.LoadCalibrations(cfg.Paths.CalibrationFile)
	if err != nil {
		return err
	}
	runner, err := extractor.New(cfg.Analysis)
	if err != nil {
		return err
	}

	var broker events.Broker = events.NewMemory()
	if cfg.Redis.URL != "" {
		rb, err := events.NewRedis(ctx, cfg.Redis.URL, logger)
		if err != nil {
			return fmt.Errorf("redis broker: %w", err)
		}
		broker = rb
	}
	defer func() { _ = broker.Close() }()

	res := results.New(cfg.Paths.OutputDir)
	p := &pipeline.Pipeline{
		Store:        st,
		Results:      res,
		Analyzer:     runner,
		Probe:        pipeline.FFprobe(cfg.Analysis.FFprobe),
		Calibrations: calibrations,
		Logger:       logger,
	}
	if cfg.Webhooks.Enabled {
		p.Webhooks = webhooks.NewPublisher(st, logger)
	}

	manager := jobs.New(p.Run, jobs.Options{
		Workers:   cfg.Analysis.Workers,
		QueueSize: cfg.Analysis.QueueSize,
		Timeout:   cfg.Analysis.Timeout,
		TTL:       cfg.Analysis.JobTTL,
		Broker:    broker,
		Logger:    logger,
	})
	manager.Start()

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if cfg.Webhooks.Enabled {
		worker := webhooks.NewWorker(st, cfg.Webhooks.MaxAttempts, logger)
		go worker.Run(workerCtx)
	}

	srv := api.NewServer(*cfg, st, res, manager, p, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("version", buildinfo.Version),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("analyzer", runner.Mode()),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("job manager shutdown", zap.Error(err))
	}
	stopWorker()
	return nil
}
