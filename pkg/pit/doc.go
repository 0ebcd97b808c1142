// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pit provides the per-protocol tarpits that wire an engine to the
// server driving it.
//
// # Overview
//
// A pit is a convenience wrapper that combines two components:
//  1. Server (TCP or UDP loop)
//  2. Engine (protocol state machine)
//
// # Architecture
//
//	Application
//	     ↓
//	┌──────────────┐
//	│     Pit      │  (Coordinator)
//	│ - CoAPPit    │
//	│ - MQTTPit    │
//	│ - TelnetPit  │
//	│ - UPnPPit    │
//	└──────────────┘
//	     ↓
//	┌──────────────┐
//	│    Server    │  (Loop)
//	│ - TCP        │
//	│ - UDP        │
//	└──────────────┘
//	     ↓
//	┌──────────────┐
//	│    Engine    │  (Protocol)
//	│ - CoAP       │
//	│ - MQTT       │
//	│ - Telnet     │
//	│ - UPnP       │
//	└──────────────┘
//	     ↓
//	┌──────────────┐
//	│ events.Sink  │  (Reporting)
//	└──────────────┘
//
// # Available Pits
//
//   - CoAPPit: endless Block2 transfer over UDP
//   - MQTTPit: never-ending QoS 2 exchange over TCP, TLS and WebSocket
//   - TelnetPit: option negotiation drip over TCP
//   - UPnPPit: SSDP responder plus a chunked description that never ends
//
// # Usage
//
//	telnetPit, err := pit.NewTelnet(pit.TelnetConfig{
//		Port:       "2323",
//		Delay:      10 * time.Second,
//		MaxClients: 4096,
//		Sink:       sink,
//		Logger:     logger,
//	})
//	if err != nil {
//		return err
//	}
//
//	g.Go(func() error {
//		return telnetPit.Listen(ctx)
//	})
//
// Every pit reports Clients and MaxClients for health checks. Listen returns
// only setup errors; per-client failures never stop a pit.
//
// # Multiple Transports
//
// MQTTPit serves WebSocket on its own loop and engine when WSPort is set, so
// MaxClients applies to each transport separately. UPnPPit always runs two
// loops; Listen returns when both have stopped.
package pit
