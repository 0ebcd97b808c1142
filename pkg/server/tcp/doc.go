// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements a single-threaded stream event loop.
//
// # Overview
//
// The server accepts connections and feeds everything that happens on them to
// one Engine. Goroutines only move bytes: the engine sees accepts, reads and
// closes as events on a single channel and is never called concurrently.
//
// # Architecture
//
//	┌──────────┐ accept ┌───────────┐
//	│ Listener │ ─────→ │  accept   │ ──┐
//	└──────────┘        │ goroutine │   │
//	                    └───────────┘   │   events    ┌──────────┐
//	┌──────────┐  read  ┌───────────┐   ├───────────→ │   loop   │
//	│  Conn 1  │ ─────→ │  reader   │ ──┤             │  Engine  │
//	└──────────┘        └───────────┘   │             └──────────┘
//	┌──────────┐  read  ┌───────────┐   │                  │
//	│  Conn N  │ ─────→ │  reader   │ ──┘                  │
//	└──────────┘        └───────────┘        tcp.Write     │
//	      ↑─────────────────────────────────────────────────┘
//
// # Loop
//
// Every iteration:
//
//  1. Engine.Tick(now) runs due timers and sweeps, returning the next wait.
//  2. The loop waits for an event, the timer or cancellation. WaitTimeout
//     caps the wait.
//  3. Up to MaxEvents queued events are dispatched: Accept for new
//     connections, Receive for data and Closed for read errors.
//
// # Writes
//
// Engines write from the loop goroutine, so a write must never block for
// long. Write sets a short deadline and classifies the outcome: a deadline
// expiry is errors.ErrTransientIO and the client is retried later, anything
// else is errors.ErrFatalIO.
//
// # TLS Support
//
// With TLSConfig set, Listen wraps the listener and each handshake runs on
// its own goroutine, bounded by HandshakeTimeout, before the engine sees the
// connection.
//
// # Shutdown
//
// On cancellation the listener is closed, a Shutdowner engine reports its
// clients, every tracked connection is closed and all goroutines are joined.
//
// # Example
//
//	cfg := tcp.Config{
//		Address:     ":1883",
//		MaxEvents:   4096,
//		WaitTimeout: 5 * time.Second,
//	}
//
//	server := tcp.New(cfg, mqttEngine)
//	if err := server.Listen(ctx); err != nil {
//		log.Fatal(err)
//	}
package tcp
