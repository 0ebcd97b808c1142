// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package websocket carries a stream protocol over WebSocket.
//
// # Overview
//
// Listener serves HTTP on a plain listener, upgrades requests on one path
// with gorilla/websocket and returns each upgraded connection from Accept as
// a net.Conn. A stream server can therefore serve WebSocket clients with the
// same engine it uses for raw TCP:
//
//	tcp listener → http.Server → Upgrade → Conn → Listener.Accept → tcp.Server
//
// # Conn Adapter
//
// Conn wraps websocket.Conn:
//
//   - Read(): reads from the current message, fetching the next one when needed
//   - Write(): sends one binary message
//   - Close(): closes the underlying connection
//
// MQTT over WebSocket requires a binary message stream and one of the "mqtt"
// or "mqttv3.1" subprotocols, both of which are offered during the upgrade.
package websocket
