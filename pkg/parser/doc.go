// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package parser provides the bounds-checked cursor used by the wire decoders.
//
// # Overview
//
// Hostile peers send truncated and oversized fields on purpose. Decoders never
// compute offsets by hand; they pull fields through a Reader, and every read
// reports success or ErrShortBuffer without moving past the end of the input.
//
//	r := parser.NewReader(body)
//	name, err := r.LengthPrefixed()
//	if err != nil {
//		return err
//	}
//	level, err := r.Byte()
//
// Sub-packages implement the individual wire subsets:
//
//   - coap: CoAP header decoding and decoy response builders
//   - mqtt: MQTT framing, packet decoders and decoy packet builders
//   - http: request line extraction for the UPnP description server
//   - websocket: a net.Listener that accepts MQTT over WebSocket
//
// # Variable Byte Integers
//
// DecodeVarint and AppendVarint implement the MQTT "remaining length" encoding.
// Decoding fails with ErrShortBuffer when the input ends before the last byte
// and with ErrVarintOverflow when a 5th byte would be needed. Both wrap
// errors.ErrDecode.
package parser
