// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap implements the CoAP tarpit engine.
//
// # Overview
//
// Every new peer address becomes a pseudo-connection that is fed an endless
// Block2 transfer. The "more" flag is always set, so a well-behaved client
// keeps asking for the next block.
//
// # Client State
//
// Two flags drive a client:
//
//	acked  last block acknowledged
//	reset  last ping answered with RST
//
// While both are set the client is settled: on each tick it gets the next
// block if it asked for one, otherwise a fresh ping, and is rescheduled after
// Delay. While either is clear the last message is retransmitted with the
// usual CoAP backoff:
//
//	t0, t0+T, t0+3T, t0+7T, ...    T = AckTimeout
//
// After MaxRetransmit unanswered retransmissions the client is released and a
// disconnect event reports the length of that backoff series, T·(2^n − 1).
//
// # Malformed Input
//
//   - datagrams shorter than 4 bytes are dropped
//   - a bad token length gets a 4.00 reply and creates no state
//   - versions other than 1 are ignored
//   - every confirmable message gets an empty ACK first
package coap
