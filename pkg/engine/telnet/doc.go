// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package telnet implements the Telnet tarpit engine. Each client is sent one
// random three byte option negotiation every Delay and never sees a login
// prompt. Anything the client sends is discarded. The disconnect event
// reports the accumulated delay as trapped time.
package telnet
