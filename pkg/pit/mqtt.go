// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pit

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/absmach/eventhorizon/pkg/engine/mqtt"
	"github.com/absmach/eventhorizon/pkg/events"
	"github.com/absmach/eventhorizon/pkg/parser/websocket"
	"github.com/absmach/eventhorizon/pkg/ratelimit"
	"github.com/absmach/eventhorizon/pkg/server/tcp"
	"golang.org/x/sync/errgroup"
)

// MQTTConfig holds configuration for the MQTT pit.
type MQTTConfig struct {
	Host           string
	Port           string
	TLSConfig      *tls.Config
	MaxEvents      int
	WaitTimeout    time.Duration
	PubrelInterval time.Duration
	MaxPackets     int
	MaxClients     int
	BufferSize     int

	// WSPort, if set, also serves MQTT over WebSocket on WSPath with its own
	// engine and MaxClients.
	WSPort string
	WSPath string

	Limiter *ratelimit.Limiter[netip.Addr]
	Sink    events.Sink
	Logger  *slog.Logger
}

// MQTTPit coordinates the MQTT TCP server, the optional WebSocket server and
// their engines.
type MQTTPit struct {
	config  MQTTConfig
	engines []*mqtt.Engine
	tcp     *tcp.Server
	ws      *tcp.Server
}

// NewMQTT creates a new MQTT pit.
func NewMQTT(cfg MQTTConfig) (*MQTTPit, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &MQTTPit{config: cfg}
	var engine *mqtt.Engine
	engine, p.tcp = p.newServer(cfg.Port, cfg.TLSConfig)
	p.engines = append(p.engines, engine)

	if cfg.WSPort != "" {
		engine, p.ws = p.newServer(cfg.WSPort, nil)
		p.engines = append(p.engines, engine)
	}
	return p, nil
}

func (p *MQTTPit) newServer(port string, tlsConfig *tls.Config) (*mqtt.Engine, *tcp.Server) {
	engine := mqtt.New(mqtt.Config{
		PubrelInterval: p.config.PubrelInterval,
		MaxPackets:     p.config.MaxPackets,
		MaxClients:     p.config.MaxClients,
		BufferSize:     p.config.BufferSize,
		Limiter:        p.config.Limiter,
		Sink:           p.config.Sink,
		Logger:         p.config.Logger,
	})
	server := tcp.New(tcp.Config{
		Address:     net.JoinHostPort(p.config.Host, port),
		TLSConfig:   tlsConfig,
		MaxEvents:   p.config.MaxEvents,
		WaitTimeout: p.config.WaitTimeout,
		BufferSize:  p.config.BufferSize,
		Logger:      p.config.Logger,
	}, engine)
	return engine, server
}

// Listen starts the MQTT pit and blocks until context is cancelled.
func (p *MQTTPit) Listen(ctx context.Context) error {
	if p.ws == nil {
		return p.tcp.Listen(ctx)
	}

	address := net.JoinHostPort(p.config.Host, p.config.WSPort)
	inner, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	if p.config.TLSConfig != nil {
		inner = tls.NewListener(inner, p.config.TLSConfig)
	}
	listener := websocket.NewListener(inner, p.config.WSPath, p.config.Logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.tcp.Listen(ctx)
	})
	g.Go(func() error {
		return p.ws.Serve(ctx, listener)
	})
	return g.Wait()
}

// Clients returns the number of trapped connections across transports.
func (p *MQTTPit) Clients() int {
	n := 0
	for _, e := range p.engines {
		n += e.Clients()
	}
	return n
}

// MaxClients returns the combined capacity.
func (p *MQTTPit) MaxClients() int {
	n := 0
	for _, e := range p.engines {
		n += e.MaxClients()
	}
	return n
}
