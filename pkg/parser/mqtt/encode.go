// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"github.com/absmach/eventhorizon/pkg/parser"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// DecoyPacketID is the packet identifier of every decoy PUBLISH and PUBREL,
// so the PUBREL resends always refer to an in-flight QoS 2 publish.
const DecoyPacketID uint16 = 1234

const receiveMaximum = 0x21

// Connack builds a CONNACK with session present cleared. v5 adds a property
// block announcing Receive Maximum 1.
func Connack(v Version, rc ReasonCode) []byte {
	if v == V5 {
		return []byte{packets.Connack << 4, 0x06, 0x00, byte(rc), 0x03, receiveMaximum, 0x00, 0x01}
	}
	return []byte{packets.Connack << 4, 0x02, 0x00, byte(rc)}
}

// PublishQoS2 builds a QoS 2 PUBLISH of payload on topic. v5 adds an empty
// property block after the packet id.
func PublishQoS2(v Version, topic, payload string, id uint16) []byte {
	remaining := 2 + len(topic) + 2 + len(payload)
	if v == V5 {
		remaining++
	}

	b := make([]byte, 0, 1+parser.MaxVarintBytes+remaining)
	b = append(b, packets.Publish<<4|2<<1)
	b, _ = parser.AppendVarint(b, uint32(remaining))
	b = append(b, byte(len(topic)>>8), byte(len(topic)))
	b = append(b, topic...)
	b = append(b, byte(id>>8), byte(id))
	if v == V5 {
		b = append(b, 0x00)
	}
	return append(b, payload...)
}

// Pubrel builds a PUBREL for id. v5 adds reason code Success and an empty
// property block.
func Pubrel(v Version, id uint16) []byte {
	if v == V5 {
		return []byte{packets.Pubrel<<4 | 0x02, 0x04, byte(id >> 8), byte(id), 0x00, 0x00}
	}
	return []byte{packets.Pubrel<<4 | 0x02, 0x02, byte(id >> 8), byte(id)}
}

// Pingresp builds a PINGRESP.
func Pingresp() []byte {
	return []byte{packets.Pingresp << 4, 0x00}
}
