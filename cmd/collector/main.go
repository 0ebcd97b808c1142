// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs the metrics collector that turns tarpit events into
// Prometheus metrics.
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

	"github.com/absmach/eventhorizon/pkg/health"
	ehlog "github.com/absmach/eventhorizon/pkg/logger"
	"github.com/absmach/eventhorizon/pkg/metrics"
	"github.com/absmach/eventhorizon/pkg/notify"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Config holds the collector configuration.
type Config struct {
	Socket    string        `env:"SOCKET"`
	Address   string        `env:"ADDRESS"    envDefault:":9101"`
	GeoDB     string        `env:"GEO_DB"`
	LogLevel  string        `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string        `env:"LOG_FORMAT" envDefault:"json"`
	CacheTTL  time.Duration `env:"CACHE_TTL"  envDefault:"10s"`
}

func main() {
	envErr := godotenv.Load()

	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "EH_COLLECTOR_"}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Socket == "" {
		cfg.Socket = notify.DefaultSocket
	}

	logger := ehlog.New(ehlog.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if envErr != nil {
		logger.Warn("no .env file found, using environment variables")
	}

	if err := run(cfg, logger.Logger); err != nil {
		logger.Error(fmt.Sprintf("collector terminated with error: %s", err))
		os.Exit(1)
	}
	logger.Info("collector stopped")
}

func run(cfg Config, logger *slog.Logger) error {
	var geo metrics.Geo = metrics.NoGeo{}
	if cfg.GeoDB != "" {
		db, err := metrics.OpenMaxMind(cfg.GeoDB)
		if err != nil {
			logger.Warn("geo lookup disabled", slog.String("error", err.Error()))
		} else {
			defer db.Close()
			geo = db
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(metrics.New(reg), geo, logger)
	listener := metrics.NewListener(cfg.Socket, collector, logger)

	checker := health.NewChecker(cfg.CacheTTL)
	checker.Register("socket", func(ctx context.Context) error {
		if _, err := os.Stat(cfg.Socket); err != nil {
			return fmt.Errorf("event socket %s: %w", cfg.Socket, err)
		}
		return nil
	})

	mux := checker.Mux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return listener.Listen(ctx)
	})
	g.Go(func() error {
		return serveHTTP(ctx, cfg.Address, mux, logger)
	})
	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	return g.Wait()
}

func serveHTTP(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting metrics server", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}
