package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clipwave/api"
	"clipwave/broadcast"
	"clipwave/config"
	"clipwave/store"
	"clipwave/worker"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func server(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "start http server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), cfg)
		},
	}
}

func runServer(parent context.Context, cfg *config.Config) error {
	logger := newLogger(cfg, os.Stdout)
	ctx, stop := signal.NotifyContext(logger.WithContext(parent), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if logger.GetLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	jobs := store.New()
	bc := broadcast.New(logger)
	// The store must see every event before observers do.
	orch, mirror, err := buildPipeline(ctx, cfg, jobs, bc)
	if err != nil {
		return err
	}
	if mirror != nil {
		jobs.OnRelease(mirror.Remove)
	}

	mgr := worker.NewManager(worker.Config{
		MaxConcurrency: cfg.MaxConcurrency,
		QueueSize:      cfg.QueueSize,
		JobTimeout:     cfg.JobTimeout,
		OutputLifetime: cfg.OutputLocalLifetime,
	}, jobs, orch)
	mgr.Start(ctx)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.SetupRouter(jobs, bc, mgr, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		logger.Error().Err(err).Msg("http server failed")
	}

	// Restore default signal handling so a second Ctrl+C kills the process.
	stop()
	logger.Info().Msg("shutting down gracefully, press Ctrl+C again to force")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error().Err(shutdownErr).Msg("server forced to shutdown")
	}
	mgr.Wait()

	logger.Info().Msg("server exiting")
	return err
}
