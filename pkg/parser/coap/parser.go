// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"fmt"

	"github.com/absmach/eventhorizon/pkg/errors"
	"github.com/absmach/eventhorizon/pkg/parser"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
)

const (
	// Version is the only protocol version answered.
	Version = 1

	// HeaderLength is the fixed header size: ver/type/tkl, code, message id.
	HeaderLength = 4

	// MaxTokenLength is the largest legal token length.
	MaxTokenLength = 8

	// MaxBlockNumber is the largest 20 bit Block2 block number.
	MaxBlockNumber = 0xFFFFF

	// BlockSizeExponent advertises 64 byte blocks (2^(SZX+4)).
	BlockSizeExponent = 2

	payloadMarker = 0xFF
	extDelta8     = 13
)

// Filler is the payload of every Block2 fragment. It is deliberately shorter
// than the advertised block size.
var Filler = []byte("AAAAA")

var (
	// ErrTooShort is returned for datagrams shorter than the fixed header.
	ErrTooShort = fmt.Errorf("%w: datagram shorter than header", errors.ErrProtocolViolation)

	// ErrTokenLength is returned for a token length above 8 or a token cut short.
	// The decoded Header still carries Type and MessageID for the error reply.
	ErrTokenLength = fmt.Errorf("%w: bad token length", errors.ErrProtocolViolation)

	// ErrVersion is returned for any version other than 1.
	ErrVersion = fmt.Errorf("%w: unsupported version", errors.ErrProtocolViolation)
)

// Header is the decoded fixed header and token of a CoAP datagram.
type Header struct {
	Version     uint8
	Type        message.Type
	TokenLength int
	Code        codes.Code
	MessageID   uint16
	Token       []byte
}

// IsGET reports whether the request code is 0.01.
func (h Header) IsGET() bool {
	return h.Code == codes.GET
}

// Decode parses the fixed header and token of data. The token is copied.
func Decode(data []byte) (Header, error) {
	r := parser.NewReader(data)
	first, err := r.Byte()
	if err != nil {
		return Header{}, ErrTooShort
	}
	code, err := r.Byte()
	if err != nil {
		return Header{}, ErrTooShort
	}
	mid, err := r.Uint16()
	if err != nil {
		return Header{}, ErrTooShort
	}

	h := Header{
		Version:     first >> 6,
		Type:        message.Type((first >> 4) & 0x03),
		TokenLength: int(first & 0x0F),
		Code:        codes.Code(code),
		MessageID:   mid,
	}

	if h.TokenLength > MaxTokenLength {
		return h, ErrTokenLength
	}
	token, err := r.Bytes(h.TokenLength)
	if err != nil {
		return h, ErrTokenLength
	}
	if h.Version != Version {
		return h, ErrVersion
	}
	h.Token = append([]byte(nil), token...)

	return h, nil
}

// BadRequest builds the empty-token 4.00 reply to a malformed request:
// acknowledgement-typed for a confirmable request, non-confirmable otherwise.
func BadRequest(req Header) []byte {
	typ := message.NonConfirmable
	if req.Type == message.Confirmable {
		typ = message.Acknowledgement
	}
	return appendHeader(nil, typ, nil, codes.BadRequest, req.MessageID)
}

// EmptyAck builds the empty acknowledgement of a confirmable message.
func EmptyAck(mid uint16) []byte {
	return appendHeader(nil, message.Acknowledgement, nil, codes.Empty, mid)
}

// Ping builds an empty confirmable message. Peers answer it with a reset.
func Ping(mid uint16) []byte {
	return appendHeader(nil, message.Confirmable, nil, codes.Empty, mid)
}

// BlockResponse builds a confirmable 2.05 Content carrying Block2 number num
// with the more flag set and the filler payload.
func BlockResponse(mid uint16, token []byte, num uint32) []byte {
	value := Block2Value(num, true, BlockSizeExponent)
	b := make([]byte, 0, HeaderLength+len(token)+5+1+len(Filler))
	b = appendHeader(b, message.Confirmable, token, codes.Content, mid)
	b = appendBlock2(b, value)
	b = append(b, payloadMarker)
	return append(b, Filler...)
}

// Block2Value packs a block number, the more flag and a size exponent.
func Block2Value(num uint32, more bool, szx uint8) uint32 {
	v := (num&MaxBlockNumber)<<4 | uint32(szx&0x07)
	if more {
		v |= 1 << 3
	}
	return v
}

// NextBlock returns the block number after num, wrapping past MaxBlockNumber.
func NextBlock(num uint32) uint32 {
	if num >= MaxBlockNumber {
		return 0
	}
	return num + 1
}

func appendHeader(b []byte, typ message.Type, token []byte, code codes.Code, mid uint16) []byte {
	return append(append(b,
		Version<<6|byte(typ)<<4|byte(len(token)),
		byte(code),
		byte(mid>>8), byte(mid)),
		token...)
}

// appendBlock2 writes the Block2 option as the first option of a message,
// so its delta is the option number itself and needs the 1 byte extension.
func appendBlock2(b []byte, value uint32) []byte {
	var v []byte
	switch {
	case value <= 0xFF:
		v = []byte{byte(value)}
	case value <= 0xFFFF:
		v = []byte{byte(value >> 8), byte(value)}
	default:
		v = []byte{byte(value >> 16), byte(value >> 8), byte(value)}
	}
	b = append(b, extDelta8<<4|byte(len(v)), byte(message.Block2)-extDelta8)
	return append(b, v...)
}
