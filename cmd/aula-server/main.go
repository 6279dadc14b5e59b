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

	"golang.org/x/sync/errgroup"

	"github.com/manthysbr/aula/internal/adapters/duckdb"
	"github.com/manthysbr/aula/internal/adapters/grader"
	"github.com/manthysbr/aula/internal/adapters/memory"
	appconfig "github.com/manthysbr/aula/internal/config"
	"github.com/manthysbr/aula/internal/core/ports"
	"github.com/manthysbr/aula/internal/core/services"
	"github.com/manthysbr/aula/pkg/api"
	"github.com/rs/cors"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting aula batch grading server")

	if err := run(logger); err != nil {
		logger.Error("server startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg := appconfig.Load()

	var repo ports.BatchRepository
	var source ports.SubmissionSource
	if cfg.DBPath != "" {
		db, err := duckdb.NewRepository(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("init repository: %w", err)
		}
		defer db.Close()
		repo, source = db, db
	} else {
		logger.Warn("no AULA_DB_PATH set, using in-memory store")
		repo, source = memory.NewRepository(), memory.NewSource()
	}

	primary, fallback, err := grader.Build(cfg.Grading)
	if err != nil {
		return fmt.Errorf("build grader: %w", err)
	}

	bus := services.NewEventBus(logger)
	manager := services.NewJobManager(logger, repo, source, primary, fallback, bus, services.ManagerConfig{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		Retention:         cfg.JobRetention,
		Worker: services.WorkerConfig{
			PoolSize:       cfg.PoolSize,
			AttemptTimeout: cfg.AttemptTimeout,
			Retry: services.RetryPolicy{
				MaxRetries: cfg.MaxRetries,
				BaseDelay:  cfg.RetryBaseDelay,
			},
		},
	})

	// Jobs stalled by an earlier crash or store outage resume here.
	if err := manager.Resume(ctx); err != nil {
		return fmt.Errorf("resume unfinished jobs: %w", err)
	}

	server := api.NewServer(logger, manager, bus)
	handler := cors.Default().Handler(server.Handler())
	httpServer := &http.Server{Addr: cfg.HTTPAddr, Handler: handler}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return manager.RunRetention(gctx, time.Hour)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
