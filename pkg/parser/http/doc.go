// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package http parses just enough HTTP and SSDP for the UPnP decoy.
//
// # Overview
//
// The decoy reads a TCP stream in whatever pieces the peer sends, so
// ParseRequestLine works on a partial buffer and reports ErrIncomplete until
// the first line feed. Headers and bodies are never parsed; the decoy only
// needs the method and target to decide between serving the device
// description and hanging up.
//
//	"GET /hue-device.xml HTTP/1.1\r\nHost: ..."
//	 ─┬─ ───────┬─────── ────┬───
//	 Method   Target        Proto
//
// IsMSearch classifies SSDP datagrams, which are HTTP requests over UDP.
package http
