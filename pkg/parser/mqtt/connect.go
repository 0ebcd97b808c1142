// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import "github.com/absmach/eventhorizon/pkg/parser"

// ReasonCode is the CONNECT outcome carried back in the CONNACK.
type ReasonCode byte

const (
	Accepted            ReasonCode = 0x00
	UnacceptableVersion ReasonCode = 0x01
	IdentifierRejected  ReasonCode = 0x02
	Malformed           ReasonCode = 0x80
)

const (
	usernameFlag = 0x80
	passwordFlag = 0x40
)

// Connect holds the fields of a CONNECT packet the tarpit cares about.
type Connect struct {
	Version     Version
	Flags       byte
	KeepAlive   uint16
	ClientID    string
	Username    string
	Password    string
	HasUsername bool
	HasPassword bool
}

// ParseConnect decodes a CONNECT body. Fields are filled in as far as parsing
// got, so Version is set whenever the protocol level was recognised even if a
// later field was malformed.
func ParseConnect(body []byte) (Connect, ReasonCode) {
	var c Connect
	r := parser.NewReader(body)

	name, err := r.LengthPrefixed()
	if err != nil {
		return c, Malformed
	}
	if string(name) != "MQTT" && string(name) != "MQIsdp" {
		return c, UnacceptableVersion
	}

	level, err := r.Byte()
	if err != nil {
		return c, Malformed
	}
	switch {
	case string(name) == "MQTT" && level == byte(V311):
		c.Version = V311
	case string(name) == "MQTT" && level == byte(V5):
		c.Version = V5
	case string(name) == "MQIsdp" && level == byte(V31):
		c.Version = V31
	default:
		return c, UnacceptableVersion
	}

	if c.Flags, err = r.Byte(); err != nil {
		return c, Malformed
	}
	if c.KeepAlive, err = r.Uint16(); err != nil {
		return c, Malformed
	}

	if c.Version == V5 {
		props, err := r.Varint()
		if err != nil {
			return c, Malformed
		}
		if err := r.Skip(int(props)); err != nil {
			return c, Malformed
		}
	}

	idLen, err := r.Uint16()
	if err != nil {
		return c, Malformed
	}
	id, err := r.Bytes(int(idLen))
	if err != nil {
		return c, IdentifierRejected
	}
	c.ClientID = string(id)

	if c.Flags&usernameFlag != 0 {
		user, err := r.LengthPrefixed()
		if err != nil {
			return c, Malformed
		}
		c.Username, c.HasUsername = string(user), true
	}
	if c.Flags&passwordFlag != 0 {
		pass, err := r.LengthPrefixed()
		if err != nil {
			return c, Malformed
		}
		c.Password, c.HasPassword = string(pass), true
	}

	return c, Accepted
}
