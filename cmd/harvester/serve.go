package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/api"
	"github.com/JakeFAU/listing-harvester/internal/id/uuid"
	"github.com/JakeFAU/listing-harvester/internal/inputs"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/progress"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and on-demand batches over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), e)
		},
	}
}

func runServe(ctx context.Context, e *env) error {
	cfg, logger := e.cfg, e.logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	httpMetrics, err := metrics.NewHTTP(reg)
	if err != nil {
		return err
	}

	serverID, err := uuid.New().NewRunID()
	if err != nil {
		return err
	}
	var cl closers
	defer cl.run()
	_, pageLog, err := newPostgres(ctx, cfg, serverID.String(), &cl)
	if err != nil {
		return err
	}

	recent := api.NewRecentEvents(0)
	extra := []progress.Sink{recent}
	if pageLog != nil {
		extra = append(extra, pageLog)
	}
	hub, err := newHub(cfg, logger, reg, extra...)
	if err != nil {
		return err
	}
	defer closeHub(hub, logger)
	emitter := progress.WithRun(hub, progress.UUIDToBytes(serverID))

	pool, picker := loadProxies(ctx, cfg, logger)
	emitter.Emit(progress.Event{Stage: progress.StageProxyLoad, Count: pool.Len()})
	if pool.Len() == 0 && cfg.Proxy.Required {
		return errors.New("no proxies available")
	}
	sched, err := newScheduler(cfg, inputs.FallbackTimezone, picker, logger, emitter)
	if err != nil {
		return err
	}

	server, err := api.NewServer(api.Options{
		APIKey:       apiKey(cfg.Auth.Enabled, cfg.Auth.APIKey),
		DefaultPages: cfg.Scrape.Pages,
	}, api.Deps{
		Batches:     sched,
		Gatherer:    reg,
		HTTPMetrics: httpMetrics,
		Events:      recent,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}

func apiKey(enabled bool, key string) string {
	if !enabled {
		return ""
	}
	return key
}
