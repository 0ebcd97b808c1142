// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics turns tarpit events into Prometheus metrics.
//
// # Overview
//
// The pits send one datagram per event to a unixgram socket. The Listener
// reads them and the Collector updates the vectors in Metrics:
//
//	pit ──unixgram──► Listener ──line──► Collector ──► Metrics ──► /metrics
//	                                        │
//	                                        └── Geo (connect events)
//
// # Event Lines
//
//	<server> connect <ip>
//	<server> disconnect <ip> <trapped ms>
//	MQTT CONNECT <version>
//	MQTT credentials <username> <password>
//	MQTT SUBSCRIBE <topic> <qos>
//	UPnP otherHttpRequests <method> <url>
//	UPnP M-SEARCH <ip>
//
// Lines the Collector cannot parse are counted by collector_malformed_lines_total.
package metrics
