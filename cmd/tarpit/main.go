// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs the tarpit decoys.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/eventhorizon"
	"github.com/absmach/eventhorizon/examples/simple"
	"github.com/absmach/eventhorizon/pkg/events"
	"github.com/absmach/eventhorizon/pkg/health"
	ehlog "github.com/absmach/eventhorizon/pkg/logger"
	"github.com/absmach/eventhorizon/pkg/notify"
	"github.com/absmach/eventhorizon/pkg/pit"
	"github.com/absmach/eventhorizon/pkg/ratelimit"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const envPrefix = "EH_"

// fdHeadroom covers listeners, the notify socket and stdio.
const fdHeadroom = 64

type runner interface {
	Listen(ctx context.Context) error
	Clients() int
	MaxClients() int
}

type namedPit struct {
	name string
	pit  runner
}

func main() {
	envErr := godotenv.Load()

	cfg, err := eventhorizon.NewConfig(env.Options{Prefix: envPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}
	if _, err := parseArgs(os.Args[1:], &cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse arguments: %v\n", err)
		os.Exit(2)
	}

	logger := ehlog.New(ehlog.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	defer logger.Close()

	if envErr != nil {
		logger.Warn("no .env file found, using environment variables")
	}

	if err := run(cfg, logger.Logger); err != nil {
		logger.Error(fmt.Sprintf("tarpit terminated with error: %s", err))
		logger.Close()
		os.Exit(1)
	}
	logger.Info("tarpit stopped")
}

func run(cfg eventhorizon.Config, logger *slog.Logger) error {
	var (
		sinks  []events.Sink
		sender *notify.Sender
	)
	if cfg.Notify.Enabled {
		sender = notify.New(notify.Config{
			Socket:       cfg.Notify.Socket,
			WriteTimeout: cfg.Notify.WriteTimeout,
			MaxFailures:  cfg.Notify.MaxFailures,
			ResetTimeout: cfg.Notify.ResetTimeout,
			Logger:       logger,
		})
		defer sender.Close()
		sinks = append(sinks, sender)
	}
	sinks = append(sinks, simple.New(logger, ehlog.ParseLevel(cfg.Log.EventsLevel)))
	sink := events.Multi(sinks...)

	pits, err := newPits(cfg, sink, logger)
	if err != nil {
		return err
	}
	if len(pits) == 0 {
		return errors.New("no pit enabled")
	}

	var capacity uint64 = fdHeadroom
	for _, p := range pits {
		capacity += uint64(p.pit.MaxClients())
	}
	raiseFileLimit(capacity, logger)

	// Writes to peers that went away must fail with EPIPE, not kill the process.
	signal.Ignore(syscall.SIGPIPE)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	for _, p := range pits {
		g.Go(func() error {
			logger.Info("Starting pit",
				slog.String("pit", p.name),
				slog.Int("max_clients", p.pit.MaxClients()))
			if err := p.pit.Listen(ctx); err != nil {
				return fmt.Errorf("%s pit: %w", p.name, err)
			}
			return nil
		})
	}

	if cfg.Health.Port != "" {
		checker := health.NewChecker(cfg.Health.CacheTTL)
		for _, p := range pits {
			checker.Register(p.name, health.CapacityCheck(p.pit.Clients, p.pit.MaxClients()))
		}
		if sender != nil {
			checker.Register("notify", sender.Check)
		}
		g.Go(func() error {
			return serveHTTP(ctx, net.JoinHostPort("", cfg.Health.Port), checker.Mux(), logger)
		})
	}

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	return g.Wait()
}

func newPits(cfg eventhorizon.Config, sink events.Sink, logger *slog.Logger) ([]namedPit, error) {
	var pits []namedPit

	if cfg.CoAP.Enabled {
		p, err := pit.NewCoAP(pit.CoAPConfig{
			Host:          cfg.CoAP.Host,
			Port:          cfg.CoAP.Port,
			Delay:         cfg.CoAP.Delay,
			AckTimeout:    cfg.CoAP.AckTimeout,
			MaxRetransmit: cfg.CoAP.MaxRetransmit,
			MaxClients:    cfg.CoAP.MaxClients,
			Limiter:       newLimiter(cfg.CoAP.RateLimit),
			Sink:          sink,
			Logger:        logger.With(slog.String("pit", cmdCoAP)),
		})
		if err != nil {
			return nil, err
		}
		pits = append(pits, namedPit{cmdCoAP, p})
	}

	if cfg.MQTT.Enabled {
		tlsConfig, err := cfg.MQTT.TLS()
		if err != nil {
			return nil, err
		}
		p, err := pit.NewMQTT(pit.MQTTConfig{
			Host:           cfg.MQTT.Host,
			Port:           cfg.MQTT.Port,
			TLSConfig:      tlsConfig,
			MaxEvents:      cfg.MQTT.MaxEvents,
			WaitTimeout:    cfg.MQTT.WaitTimeout,
			PubrelInterval: cfg.MQTT.PubrelInterval,
			MaxPackets:     cfg.MQTT.MaxPackets,
			MaxClients:     cfg.MQTT.MaxClients,
			BufferSize:     cfg.MQTT.BufferSize,
			WSPort:         cfg.MQTT.WSPort,
			WSPath:         cfg.MQTT.WSPath,
			Limiter:        newLimiter(cfg.MQTT.RateLimit),
			Sink:           sink,
			Logger:         logger.With(slog.String("pit", cmdMQTT)),
		})
		if err != nil {
			return nil, err
		}
		pits = append(pits, namedPit{cmdMQTT, p})
	}

	if cfg.Telnet.Enabled {
		p, err := pit.NewTelnet(pit.TelnetConfig{
			Host:       cfg.Telnet.Host,
			Port:       cfg.Telnet.Port,
			Delay:      cfg.Telnet.Delay,
			MaxClients: cfg.Telnet.MaxClients,
			Limiter:    newLimiter(cfg.Telnet.RateLimit),
			Sink:       sink,
			Logger:     logger.With(slog.String("pit", cmdTelnet)),
		})
		if err != nil {
			return nil, err
		}
		pits = append(pits, namedPit{cmdTelnet, p})
	}

	if cfg.UPnP.Enabled {
		p, err := pit.NewUPnP(pit.UPnPConfig{
			Host:          cfg.UPnP.Host,
			HTTPPort:      cfg.UPnP.HTTPPort,
			SSDPPort:      cfg.UPnP.SSDPPort,
			AdvertiseHost: cfg.UPnP.AdvertiseHost,
			Delay:         cfg.UPnP.Delay,
			MaxClients:    cfg.UPnP.MaxClients,
			Limiter:       newLimiter(cfg.UPnP.RateLimit),
			Sink:          sink,
			Logger:        logger.With(slog.String("pit", cmdUPnP)),
		})
		if err != nil {
			return nil, err
		}
		pits = append(pits, namedPit{cmdUPnP, p})
	}

	return pits, nil
}

// newLimiter returns nil, meaning no admission limit, for a zero capacity.
func newLimiter(cfg eventhorizon.RateLimitConfig) *ratelimit.Limiter[netip.Addr] {
	if cfg.Capacity <= 0 {
		return nil
	}
	return ratelimit.NewLimiter[netip.Addr](cfg.Capacity, cfg.Refill, cfg.MaxKeys)
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

	logger.Info("Starting health server", slog.String("address", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("health server: %w", err)
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
