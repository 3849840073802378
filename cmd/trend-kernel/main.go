package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rs/cors"

	"github.com/DanielDeenik/sustainatrend-tracker/internal/adapters/duckdb"
	appconfig "github.com/DanielDeenik/sustainatrend-tracker/internal/config"
	"github.com/DanielDeenik/sustainatrend-tracker/internal/core/services"
	"github.com/DanielDeenik/sustainatrend-tracker/pkg/kernel"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting analysis kernel")

	if err := run(logger); err != nil {
		logger.Error("kernel startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg := appconfig.Load()

	repo, err := duckdb.NewRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init repository: %w", err)
	}
	defer repo.Close()

	eventBus := services.NewEventBus(logger)
	scheduler := services.NewPipelineScheduler(logger, services.SchedulerConfig{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
	})
	pipeline := services.NewAnalysisPipeline(logger, scheduler, repo, eventBus, cfg.StepDelay)

	server := kernel.NewServer(logger, eventBus, pipeline, repo)
	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"*"},
	}).Handler(server.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.Run(gctx)
	})
	g.Go(func() error {
		return server.Run(gctx, cfg.ListenAddr, handler)
	})

	return g.Wait()
}
