// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package udp implements a single-threaded datagram event loop.
//
// # Overview
//
// The server binds one UDP socket and drives one Engine. The engine keeps all
// per-peer state and is never called concurrently, so it needs no locking.
//
// # Architecture
//
//	┌─────────┐  datagrams   ┌────────────┐   chan    ┌──────────┐
//	│ Socket  │ ───────────→ │   reader   │ ────────→ │   loop   │
//	└─────────┘              │ goroutine  │           │          │
//	     ↑                   └────────────┘           │  Engine  │
//	     └──────────────── Writer.WriteTo ─────────── │          │
//	                                                  └──────────┘
//
// # Loop
//
// Every iteration:
//
//  1. Engine.Tick(now) fires due actions and returns the wait until the next.
//  2. The loop waits for a datagram, the timer or cancellation.
//  3. A datagram wakes the loop; up to MaxEvents queued datagrams are handed
//     to Engine.HandleDatagram before the next Tick.
//
// A negative wait from Tick means no timer is armed and the loop sleeps until
// the next datagram.
//
// # Shutdown
//
// On cancellation the socket is closed, the reader goroutine is joined and an
// engine implementing Shutdowner gets a last call to report its clients.
//
// # Example
//
//	cfg := udp.Config{Address: ":5683", Logger: logger}
//	server := udp.New(cfg, coapEngine)
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package udp
