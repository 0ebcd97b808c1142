// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package upnp

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/absmach/eventhorizon/pkg/events"
	"github.com/absmach/eventhorizon/pkg/parser/http"
	"github.com/absmach/eventhorizon/pkg/server/udp"
)

// SSDPConfig holds the discovery responder configuration.
type SSDPConfig struct {
	// AdvertiseHost is the host put in the LOCATION header.
	AdvertiseHost string

	// HTTPPort is the port of the description server.
	HTTPPort int

	Sink   events.Sink
	Logger *slog.Logger
}

// SSDP answers every M-SEARCH with a Philips Hue bridge advertisement. It
// implements udp.Engine and keeps no per-peer state.
type SSDP struct {
	response []byte
	sink     events.Sink
	logger   *slog.Logger
}

var _ udp.Engine = (*SSDP)(nil)

// NewSSDP creates an SSDP responder.
func NewSSDP(cfg SSDPConfig) *SSDP {
	if cfg.Sink == nil {
		cfg.Sink = events.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SSDP{
		response: SSDPResponse(cfg.AdvertiseHost, cfg.HTTPPort),
		sink:     cfg.Sink,
		logger:   cfg.Logger,
	}
}

// HandleDatagram implements udp.Engine.
func (s *SSDP) HandleDatagram(w udp.Writer, _ time.Time, from netip.AddrPort, data []byte) {
	ip := from.Addr().String()
	if !http.IsMSearch(data) {
		s.sink.Emit(events.New(events.UPnP, events.KindNonMSearch, ip))
		return
	}

	if _, err := w.WriteTo(s.response, from); err != nil {
		s.logger.Debug("SSDP reply failed",
			slog.String("remote", from.String()),
			slog.String("error", err.Error()))
	}
	s.sink.Emit(events.New(events.UPnP, events.KindMSearch, ip))
}

// Tick implements udp.Engine. The responder has no timers.
func (s *SSDP) Tick(udp.Writer, time.Time) time.Duration {
	return -1
}
