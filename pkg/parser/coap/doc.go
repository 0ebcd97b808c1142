// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap implements the CoAP wire subset used by the CoAP tarpit.
//
// # Overview
//
// Only the fixed header and token of inbound datagrams are decoded; options
// and payloads sent by the peer are ignored. Outbound messages are built
// directly as bytes. Type, code and option numbers come from
// plgd-dev/go-coap/v3 so the values match a real CoAP stack.
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|Ver| T |  TKL  |      Code     |          Message ID           |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|   Token (if any, TKL bytes) ...
//
// # Decode Outcomes
//
//   - ErrTooShort: fewer than 4 bytes, drop silently
//   - ErrTokenLength: TKL above 8 or token cut short, reply with BadRequest
//   - ErrVersion: version other than 1, drop silently
//
// The token length check runs before the version check.
//
// # Block2
//
// BlockResponse emits a 2.05 Content with a single Block2 option (number 23)
// encoded with delta nibble 13 and extension byte 10. The option value packs
// the 20 bit block number, the more flag (always set) and SZX 2, in 1 to 3
// big-endian bytes. The payload is the 5 byte Filler even though 64 byte
// blocks are advertised.
package coap
