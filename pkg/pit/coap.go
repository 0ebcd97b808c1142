// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pit

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/absmach/eventhorizon/pkg/engine/coap"
	"github.com/absmach/eventhorizon/pkg/events"
	"github.com/absmach/eventhorizon/pkg/ratelimit"
	"github.com/absmach/eventhorizon/pkg/server/udp"
)

// CoAPConfig holds configuration for the CoAP pit.
type CoAPConfig struct {
	Host          string
	Port          string
	Delay         time.Duration
	AckTimeout    time.Duration
	MaxRetransmit int
	MaxClients    int
	Limiter       *ratelimit.Limiter[netip.Addr]
	Sink          events.Sink
	Logger        *slog.Logger
}

// CoAPPit coordinates the CoAP UDP server and engine.
type CoAPPit struct {
	engine *coap.Engine
	server *udp.Server
}

// NewCoAP creates a new CoAP pit.
func NewCoAP(cfg CoAPConfig) (*CoAPPit, error) {
	engine := coap.New(coap.Config{
		Delay:         cfg.Delay,
		AckTimeout:    cfg.AckTimeout,
		MaxRetransmit: cfg.MaxRetransmit,
		MaxClients:    cfg.MaxClients,
		Limiter:       cfg.Limiter,
		Sink:          cfg.Sink,
		Logger:        cfg.Logger,
	})

	server := udp.New(udp.Config{
		Address: net.JoinHostPort(cfg.Host, cfg.Port),
		Logger:  cfg.Logger,
	}, engine)

	return &CoAPPit{
		engine: engine,
		server: server,
	}, nil
}

// Listen starts the CoAP pit and blocks until context is cancelled.
func (p *CoAPPit) Listen(ctx context.Context) error {
	return p.server.Listen(ctx)
}

// Clients returns the number of trapped peers.
func (p *CoAPPit) Clients() int {
	return p.engine.Clients()
}

// MaxClients returns the configured capacity.
func (p *CoAPPit) MaxClients() int {
	return p.engine.MaxClients()
}
