// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt implements the MQTT tarpit engine.
//
// # Overview
//
// The engine accepts MQTT 3.1, 3.1.1 and 5.0 clients and keeps them busy with
// a QoS 2 exchange that never completes:
//
//	client                         tarpit
//	  │ CONNECT ───────────────────▶ │
//	  │ ◀─────────────────── CONNACK │
//	  │ ◀── PUBLISH $SYS/credentials │  QoS 2, id 1234
//	  │ PUBREC ────────────────────▶ │
//	  │ ◀────────────────── PUBREL   │  resent by the watchdog
//	  │ PUBCOMP ───────────────────▶ │
//	  │ ◀─ PUBLISH $SYS/confidential │  and around again
//
// SUBSCRIBE, PUBLISH and UNSUBSCRIBE are reported as events and otherwise
// ignored. No SUBACK or UNSUBACK is ever sent.
//
// # Watchdog
//
// Tick sweeps every client. A client gets a PUBREL when PubrelInterval has
// passed since the last one, or when it has been silent for 1.4 times its
// keep-alive. A keep-alive of 0 disables the second clause.
//
// # Eviction
//
// Clients are released on DISCONNECT, on a read error or EOF, on a fatal write
// error, when the reassembly buffer overflows and when a remaining length
// cannot be decoded. Every release emits a disconnect event with the time the
// client spent trapped.
package mqtt
