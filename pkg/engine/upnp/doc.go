// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package upnp implements the UPnP tarpit: an SSDP responder and a device
// description server that never finishes its response.
//
// # Overview
//
// The two engines run on separate loops and share nothing:
//
//	SSDP (udp)                        HTTP (tcp)
//	M-SEARCH ─▶ 200 OK                GET /hue-device.xml
//	            LOCATION: ──────────▶ 200 OK, Transfer-Encoding: chunked
//	                                  description chunk
//	                                  service chunk every Delay ...
//
// The closing zero-length chunk and the announced X-Checksum trailer are
// never sent, so a client parsing the description waits forever for the end
// of the service list.
//
// Any other HTTP request is reported and closed. A connection that does not
// send its request line within RequestTimeout is closed without an event.
package upnp
