// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"errors"
	"fmt"

	"github.com/absmach/eventhorizon/pkg/parser"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Version is the negotiated protocol level.
type Version uint8

const (
	// VersionUnknown is the level before a CONNECT has been accepted.
	// Packets are then decoded with the 3.x layout.
	VersionUnknown Version = 0
	V31            Version = 3
	V311           Version = 4
	V5             Version = 5
)

// String returns the label used in events.
func (v Version) String() string {
	switch v {
	case V31:
		return "v3.1"
	case V311:
		return "v3.1.1"
	case V5:
		return "v5"
	default:
		return "unknown"
	}
}

// Frame locates one complete control packet inside a receive buffer.
// It never copies the buffer.
type Frame struct {
	// Type is the fixed header type nibble.
	Type uint8
	// Flags is the fixed header flags nibble.
	Flags uint8
	// Offset is where the variable header starts.
	Offset int
	// Length is the remaining length.
	Length int
	// Size is the whole packet: fixed header, length bytes and body.
	Size int
}

// Body returns the variable header and payload of f within buf.
func (f Frame) Body(buf []byte) []byte {
	return buf[f.Offset : f.Offset+f.Length : f.Offset+f.Length]
}

// Name returns the packet type name.
func (f Frame) Name() string {
	if name, ok := packets.PacketNames[f.Type]; ok {
		return name
	}
	return fmt.Sprintf("TYPE%d", f.Type)
}

// Split walks buf and appends one Frame per complete packet to frames, stopping
// after limit frames (0 means no limit), at a packet that has not fully arrived,
// or when fewer than 2 bytes remain. It returns the frames and the number of
// bytes they cover. Bytes past that point are an incomplete packet to keep.
//
// A remaining length that would need a 5th byte cannot be resynchronised and
// is returned as parser.ErrVarintOverflow. A length whose bytes have not all
// arrived is treated as incomplete.
func Split(buf []byte, limit int, frames []Frame) ([]Frame, int, error) {
	off := 0
	for len(buf)-off >= 2 {
		if limit > 0 && len(frames) >= limit {
			break
		}

		length, n, err := parser.DecodeVarint(buf[off+1:])
		if err != nil {
			if errors.Is(err, parser.ErrShortBuffer) {
				break
			}
			return frames, off, err
		}

		size := 1 + n + int(length)
		if len(buf)-off < size {
			break
		}

		frames = append(frames, Frame{
			Type:   buf[off] >> 4,
			Flags:  buf[off] & 0x0F,
			Offset: off + 1 + n,
			Length: int(length),
			Size:   size,
		})
		off += size
	}
	return frames, off, nil
}
