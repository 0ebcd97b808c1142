// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pit

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/absmach/eventhorizon/pkg/engine/telnet"
	"github.com/absmach/eventhorizon/pkg/events"
	"github.com/absmach/eventhorizon/pkg/ratelimit"
	"github.com/absmach/eventhorizon/pkg/server/tcp"
)

// TelnetConfig holds configuration for the Telnet pit.
type TelnetConfig struct {
	Host       string
	Port       string
	Delay      time.Duration
	MaxClients int
	Limiter    *ratelimit.Limiter[netip.Addr]
	Sink       events.Sink
	Logger     *slog.Logger
}

// TelnetPit coordinates the Telnet TCP server and engine.
type TelnetPit struct {
	engine *telnet.Engine
	server *tcp.Server
}

// NewTelnet creates a new Telnet pit.
func NewTelnet(cfg TelnetConfig) (*TelnetPit, error) {
	engine := telnet.New(telnet.Config{
		Delay:      cfg.Delay,
		MaxClients: cfg.MaxClients,
		Limiter:    cfg.Limiter,
		Sink:       cfg.Sink,
		Logger:     cfg.Logger,
	})
	server := tcp.New(tcp.Config{
		Address: net.JoinHostPort(cfg.Host, cfg.Port),
		Logger:  cfg.Logger,
	}, engine)

	return &TelnetPit{
		engine: engine,
		server: server,
	}, nil
}

// Listen starts the Telnet pit and blocks until context is cancelled.
func (p *TelnetPit) Listen(ctx context.Context) error {
	return p.server.Listen(ctx)
}

// Clients returns the number of trapped connections.
func (p *TelnetPit) Clients() int {
	return p.engine.Clients()
}

// MaxClients returns the configured capacity.
func (p *TelnetPit) MaxClients() int {
	return p.engine.MaxClients()
}
