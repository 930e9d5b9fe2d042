// Command wakeassistd runs the voice assistant without a desktop window and
// exposes it over HTTP.
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

	"golang.org/x/sync/errgroup"

	"wakeassist/internal/bootstrap"
	"wakeassist/internal/config"
	"wakeassist/internal/httpapi"
	"wakeassist/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "wakeassistd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Option{
		Mode:        cfg.Log.Mode,
		ServiceName: "wakeassistd",
		EncodeType:  logging.ParseEncodeType(cfg.Log.Encoding),
	})
	defer func() { _ = logger.Sync() }()

	hub := httpapi.NewHub(logger)
	services, err := bootstrap.Build(cfg, hub, hub, logger)
	if err != nil {
		return err
	}

	var metrics http.Handler
	if cfg.HTTP.Metrics {
		metrics = services.Observe.Handler
	}
	server := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.Options{
			Mode:      cfg.Log.Mode,
			Assistant: services,
			Hub:       hub,
			Metrics:   metrics,
			Logger:    logger,
		}),
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := services.Start(ctx); err != nil {
		logger.Errorf("assistant did not start: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("listening on %s", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return services.WatchVocabulary(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close()
		err := server.Shutdown(shutdownCtx)
		return errors.Join(err, services.Shutdown(shutdownCtx))
	})

	return g.Wait()
}
