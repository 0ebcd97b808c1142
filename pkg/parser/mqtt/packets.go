// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"github.com/absmach/eventhorizon/pkg/errors"
	"github.com/absmach/eventhorizon/pkg/parser"
)

// v5 PUBREC properties walked by ParsePubrec.
const (
	propReasonString = 0x1F
	propUserProperty = 0x26
)

// Subscription is the first topic filter of a SUBSCRIBE.
type Subscription struct {
	PacketID uint16
	Topic    string
	QoS      byte
}

// Publish is an inbound PUBLISH.
type Publish struct {
	Topic    string
	QoS      byte
	PacketID uint16
	Payload  []byte
}

// Pubrec is an inbound PUBREC.
type Pubrec struct {
	PacketID       uint16
	ReasonCode     byte
	ReasonString   string
	UserProperties [][2]string
}

// ParseSubscribe decodes the packet id and the first topic filter with its
// requested QoS. Further filters are ignored.
func ParseSubscribe(body []byte, v Version) (Subscription, error) {
	var s Subscription
	r := parser.NewReader(body)

	var err error
	if s.PacketID, err = r.Uint16(); err != nil {
		return s, errors.Wrap(err, "subscribe packet id")
	}
	if err := skipProperties(r, v); err != nil {
		return s, errors.Wrap(err, "subscribe properties")
	}

	topic, err := r.LengthPrefixed()
	if err != nil {
		return s, errors.Wrap(err, "subscribe topic")
	}
	opts, err := r.Byte()
	if err != nil {
		return s, errors.Wrap(err, "subscribe options")
	}
	s.Topic = string(topic)
	s.QoS = opts & 0x03

	return s, nil
}

// ParsePublish decodes a PUBLISH body. flags is the fixed header flags nibble.
// The payload aliases body.
func ParsePublish(flags byte, body []byte, v Version) (Publish, error) {
	p := Publish{QoS: (flags & 0x06) >> 1}
	r := parser.NewReader(body)

	topic, err := r.LengthPrefixed()
	if err != nil {
		return p, errors.Wrap(err, "publish topic")
	}
	p.Topic = string(topic)

	if p.QoS > 0 {
		if p.PacketID, err = r.Uint16(); err != nil {
			return p, errors.Wrap(err, "publish packet id")
		}
	}
	if err := skipProperties(r, v); err != nil {
		return p, errors.Wrap(err, "publish properties")
	}
	p.Payload = r.Rest()

	return p, nil
}

// ParsePubrec decodes a PUBREC. For v5 it walks the property list, reading
// Reason String and User Property entries; the first unknown property id ends
// the walk without an error.
func ParsePubrec(body []byte, v Version) (Pubrec, error) {
	var p Pubrec
	r := parser.NewReader(body)

	var err error
	if p.PacketID, err = r.Uint16(); err != nil {
		return p, errors.Wrap(err, "pubrec packet id")
	}
	if v != V5 || r.Remaining() == 0 {
		return p, nil
	}

	if p.ReasonCode, err = r.Byte(); err != nil {
		return p, errors.Wrap(err, "pubrec reason code")
	}
	if r.Remaining() == 0 {
		return p, nil
	}

	n, err := r.Varint()
	if err != nil {
		return p, errors.Wrap(err, "pubrec properties length")
	}
	props, err := r.Sub(int(n))
	if err != nil {
		return p, errors.Wrap(err, "pubrec properties")
	}

	for props.Remaining() > 0 {
		id, _ := props.Byte()
		switch id {
		case propReasonString:
			s, err := props.LengthPrefixed()
			if err != nil {
				return p, errors.Wrap(err, "pubrec reason string")
			}
			p.ReasonString = string(s)
		case propUserProperty:
			key, err := props.LengthPrefixed()
			if err != nil {
				return p, errors.Wrap(err, "pubrec user property key")
			}
			val, err := props.LengthPrefixed()
			if err != nil {
				return p, errors.Wrap(err, "pubrec user property value")
			}
			p.UserProperties = append(p.UserProperties, [2]string{string(key), string(val)})
		default:
			return p, nil
		}
	}

	return p, nil
}

// ParseUnsubscribe decodes the packet id and every topic filter up to the end
// of the body. On a truncated filter it returns the filters read so far with
// the error.
func ParseUnsubscribe(body []byte, v Version) (uint16, []string, error) {
	r := parser.NewReader(body)

	id, err := r.Uint16()
	if err != nil {
		return 0, nil, errors.Wrap(err, "unsubscribe packet id")
	}
	if err := skipProperties(r, v); err != nil {
		return id, nil, errors.Wrap(err, "unsubscribe properties")
	}

	var topics []string
	for r.Remaining() >= 2 {
		topic, err := r.LengthPrefixed()
		if err != nil {
			return id, topics, errors.Wrap(err, "unsubscribe topic")
		}
		topics = append(topics, string(topic))
	}

	return id, topics, nil
}

func skipProperties(r *parser.Reader, v Version) error {
	if v != V5 {
		return nil
	}
	n, err := r.Varint()
	if err != nil {
		return err
	}
	return r.Skip(int(n))
}
