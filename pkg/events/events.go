// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"strings"
	"unicode/utf8"
)

// ServerID names the decoy that produced an event.
type ServerID string

const (
	CoAP   ServerID = "CoAP"
	MQTT   ServerID = "MQTT"
	Telnet ServerID = "Telnet"
	UPnP   ServerID = "UPnP"
)

// Event kinds understood by the collector.
const (
	KindConnect           = "connect"
	KindDisconnect        = "disconnect"
	KindCredentials       = "credentials"
	KindConnectVersion    = "CONNECT"
	KindMalformedConnect  = "malformedConnect"
	KindConnack           = "CONNACK"
	KindSubscribe         = "SUBSCRIBE"
	KindPublish           = "PUBLISH"
	KindPubrec            = "PUBREC"
	KindUnsubscribe       = "UNSUBSCRIBE"
	KindMSearch           = "M-SEARCH"
	KindNonMSearch        = "non-M-SEARCH"
	KindOtherHTTPRequests = "otherHttpRequests"
)

// MaxArgLen is the longest argument, in bytes, carried on an event line.
const MaxArgLen = 100

// Event is one observation reported to the collector.
type Event struct {
	Server ServerID
	Kind   string
	Args   []string
}

// New builds an Event.
func New(server ServerID, kind string, args ...string) Event {
	return Event{Server: server, Kind: kind, Args: args}
}

// String renders the event as a newline terminated, space separated line.
// Arguments are sanitized so that the line always has 2+len(Args) fields.
func (e Event) String() string {
	var b strings.Builder
	b.WriteString(string(e.Server))
	b.WriteByte(' ')
	b.WriteString(e.Kind)
	for _, arg := range e.Args {
		b.WriteByte(' ')
		b.WriteString(Sanitize(arg))
	}
	b.WriteByte('\n')
	return b.String()
}

// Sanitize makes an attacker supplied string safe to place in an event line.
// Runs of whitespace become a single '_', an empty result becomes "-", and the
// result is cut to MaxArgLen bytes on a rune boundary.
func Sanitize(s string) string {
	s = strings.Join(strings.Fields(s), "_")
	if s == "" {
		return "-"
	}
	s = strings.ToValidUTF8(s, "?")
	if len(s) <= MaxArgLen {
		return s
	}
	cut := MaxArgLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
