// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/absmach/eventhorizon/pkg/engine/upnp"
	"github.com/absmach/eventhorizon/pkg/events"
	"github.com/absmach/eventhorizon/pkg/ratelimit"
	"github.com/absmach/eventhorizon/pkg/server/tcp"
	"github.com/absmach/eventhorizon/pkg/server/udp"
	"golang.org/x/sync/errgroup"
)

// UPnPConfig holds configuration for the UPnP pit.
type UPnPConfig struct {
	Host     string
	HTTPPort string
	SSDPPort string

	// AdvertiseHost is put in SSDP replies. If empty, the first IPv4
	// address of a non-loopback interface is used.
	AdvertiseHost string

	Delay      time.Duration
	MaxClients int
	Limiter    *ratelimit.Limiter[netip.Addr]
	Sink       events.Sink
	Logger     *slog.Logger
}

// UPnPPit coordinates the SSDP responder and the description server. The two
// run on separate loops.
type UPnPPit struct {
	desc *upnp.HTTP
	tcp  *tcp.Server
	udp  *udp.Server
}

// NewUPnP creates a new UPnP pit.
func NewUPnP(cfg UPnPConfig) (*UPnPPit, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	port, err := strconv.Atoi(cfg.HTTPPort)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP port %q: %w", cfg.HTTPPort, err)
	}
	if cfg.AdvertiseHost == "" {
		if cfg.AdvertiseHost, err = upnp.LocalIPv4(); err != nil {
			return nil, err
		}
	}

	desc := upnp.NewHTTP(upnp.HTTPConfig{
		Delay:      cfg.Delay,
		MaxClients: cfg.MaxClients,
		Limiter:    cfg.Limiter,
		Sink:       cfg.Sink,
		Logger:     cfg.Logger,
	})
	ssdp := upnp.NewSSDP(upnp.SSDPConfig{
		AdvertiseHost: cfg.AdvertiseHost,
		HTTPPort:      port,
		Sink:          cfg.Sink,
		Logger:        cfg.Logger,
	})

	cfg.Logger.Info("UPnP device advertised",
		slog.String("location", "http://"+net.JoinHostPort(cfg.AdvertiseHost, cfg.HTTPPort)+upnp.DescriptionPath))

	return &UPnPPit{
		desc: desc,
		tcp: tcp.New(tcp.Config{
			Address: net.JoinHostPort(cfg.Host, cfg.HTTPPort),
			Logger:  cfg.Logger,
		}, desc),
		udp: udp.New(udp.Config{
			Address: net.JoinHostPort(cfg.Host, cfg.SSDPPort),
			Logger:  cfg.Logger,
		}, ssdp),
	}, nil
}

// Listen starts both loops and blocks until context is cancelled or either
// loop fails.
func (p *UPnPPit) Listen(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.tcp.Listen(ctx)
	})
	g.Go(func() error {
		return p.udp.Listen(ctx)
	})
	return g.Wait()
}

// Clients returns the number of trapped HTTP clients.
func (p *UPnPPit) Clients() int {
	return p.desc.Clients()
}

// MaxClients returns the configured capacity.
func (p *UPnPPit) MaxClients() int {
	return p.desc.MaxClients()
}
