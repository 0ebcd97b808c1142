// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mqtt is the MQTT 3.1, 3.1.1 and 5.0 codec used by the MQTT tarpit.
//
// # Overview
//
// The codec works on a raw receive buffer instead of a blocking reader. Split
// finds complete control packets without copying, and the Parse* functions
// decode the few packet types the tarpit reacts to:
//
//	receive buffer
//	┌──────────────┬──────────────┬─────────┐
//	│ CONNECT      │ SUBSCRIBE    │ PUBL... │
//	└──────────────┴──────────────┴─────────┘
//	 Frame{0..n1}   Frame{n1..n2}  incomplete, kept for the next read
//
// Packets are decoded with the layout of the version negotiated by the
// connection's CONNECT. Before that, the 3.x layout is assumed.
//
// # Responses
//
// Connack, PublishQoS2, Pubrel and Pingresp build the only packets the tarpit
// ever sends. The decoy PUBLISH and every PUBREL share DecoyPacketID, so a
// client that has not sent PUBCOMP keeps the exchange open.
//
// # Errors
//
// A remaining length longer than four bytes is reported by Split and cannot be
// recovered from. Decode errors from the Parse* functions affect only the
// packet being decoded.
package mqtt
