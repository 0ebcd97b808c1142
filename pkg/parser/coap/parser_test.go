// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

func marshal(t *testing.T, typ message.Type, code codes.Code, mid int32, token []byte) []byte {
	t.Helper()
	msg := pool.NewMessage(context.Background())
	defer msg.Reset()

	msg.SetType(typ)
	msg.SetCode(code)
	msg.SetMessageID(mid)
	if token != nil {
		msg.SetToken(token)
	}

	data, err := msg.MarshalWithEncoder(coder.DefaultCoder)
	if err != nil {
		t.Fatalf("Failed to marshal CoAP message: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, data []byte) *pool.Message {
	t.Helper()
	msg := pool.NewMessage(context.Background())
	if _, err := msg.UnmarshalWithDecoder(coder.DefaultCoder, data); err != nil {
		t.Fatalf("Failed to unmarshal CoAP message % x: %v", data, err)
	}
	return msg
}

func TestDecodeConfirmableGET(t *testing.T) {
	data := marshal(t, message.Confirmable, codes.GET, 42, []byte{0xCA, 0xFE})

	h, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if h.Type != message.Confirmable {
		t.Errorf("Type = %v, want Confirmable", h.Type)
	}
	if !h.IsGET() {
		t.Errorf("Code = %v, want GET", h.Code)
	}
	if h.MessageID != 42 {
		t.Errorf("MessageID = %d, want 42", h.MessageID)
	}
	if !bytes.Equal(h.Token, []byte{0xCA, 0xFE}) {
		t.Errorf("Token = % x, want ca fe", h.Token)
	}

	data[4] = 0x00
	if h.Token[0] != 0xCA {
		t.Error("Token must not alias the datagram")
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{name: "empty", data: nil, err: ErrTooShort},
		{name: "three bytes", data: []byte{0x40, 0x01, 0x00}, err: ErrTooShort},
		{name: "token length 9", data: []byte{0x49, 0x01, 0x00, 0x01, 1, 2, 3, 4, 5, 6, 7, 8, 9}, err: ErrTokenLength},
		{name: "token cut short", data: []byte{0x44, 0x01, 0x00, 0x01, 0xAA}, err: ErrTokenLength},
		{name: "version 2", data: []byte{0x80, 0x01, 0x00, 0x01}, err: ErrVersion},
		{name: "version 0 with bad token", data: []byte{0x0F, 0x01, 0x00, 0x01}, err: ErrTokenLength},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); !errors.Is(err, tt.err) {
				t.Errorf("Decode() error = %v, want %v", err, tt.err)
			}
		})
	}
}

func TestBadRequest(t *testing.T) {
	tests := []struct {
		name    string
		reqType message.Type
		want    message.Type
	}{
		{name: "confirmable", reqType: message.Confirmable, want: message.Acknowledgement},
		{name: "non-confirmable", reqType: message.NonConfirmable, want: message.NonConfirmable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := []byte{0x09 | byte(tt.reqType)<<4, 0x01, 0x12, 0x34}
			h, err := Decode(data)
			if !errors.Is(err, ErrTokenLength) {
				t.Fatalf("Decode() error = %v, want ErrTokenLength", err)
			}

			msg := unmarshal(t, BadRequest(h))
			if msg.Type() != tt.want {
				t.Errorf("Type = %v, want %v", msg.Type(), tt.want)
			}
			if msg.Code() != codes.BadRequest {
				t.Errorf("Code = %v, want BadRequest", msg.Code())
			}
			if int(msg.MessageID()) != 0x1234 {
				t.Errorf("MessageID = %d, want 0x1234", msg.MessageID())
			}
		})
	}
}

func TestEmptyAckAndPing(t *testing.T) {
	if got := EmptyAck(1); !bytes.Equal(got, []byte{0x60, 0x00, 0x00, 0x01}) {
		t.Errorf("EmptyAck(1) = % x", got)
	}
	if got := Ping(0x0102); !bytes.Equal(got, []byte{0x40, 0x00, 0x01, 0x02}) {
		t.Errorf("Ping(0x0102) = % x", got)
	}

	msg := unmarshal(t, EmptyAck(7))
	if msg.Type() != message.Acknowledgement || msg.Code() != codes.Empty {
		t.Errorf("EmptyAck decoded as %v %v", msg.Type(), msg.Code())
	}
}

func TestBlockResponse(t *testing.T) {
	tests := []struct {
		name     string
		num      uint32
		valueLen int
	}{
		{name: "block 0", num: 0, valueLen: 1},
		{name: "block 15", num: 15, valueLen: 1},
		{name: "block 16", num: 16, valueLen: 2},
		{name: "block 4095", num: 4095, valueLen: 2},
		{name: "block 4096", num: 4096, valueLen: 3},
		{name: "last block", num: MaxBlockNumber, valueLen: 3},
	}

	token := []byte{0x01, 0x02, 0x03}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := BlockResponse(9, token, tt.num)

			optionStart := HeaderLength + len(token)
			if data[optionStart] != 0xD0|byte(tt.valueLen) || data[optionStart+1] != 10 {
				t.Fatalf("option header = % x, want d%d 0a", data[optionStart:optionStart+2], tt.valueLen)
			}

			msg := unmarshal(t, data)
			if msg.Type() != message.Confirmable {
				t.Errorf("Type = %v, want Confirmable", msg.Type())
			}
			if msg.Code() != codes.Content {
				t.Errorf("Code = %v, want Content", msg.Code())
			}
			if !bytes.Equal(msg.Token(), token) {
				t.Errorf("Token = % x", msg.Token())
			}

			v, err := msg.Options().GetUint32(message.Block2)
			if err != nil {
				t.Fatalf("Block2 option missing: %v", err)
			}
			if v>>4 != tt.num {
				t.Errorf("block number = %d, want %d", v>>4, tt.num)
			}
			if v&0x08 == 0 {
				t.Error("more flag must be set")
			}
			if v&0x07 != BlockSizeExponent {
				t.Errorf("szx = %d, want %d", v&0x07, BlockSizeExponent)
			}
			if !bytes.HasSuffix(data, append([]byte{0xFF}, Filler...)) {
				t.Errorf("payload = % x, want marker and filler", data)
			}
		})
	}
}

func TestNextBlockWraps(t *testing.T) {
	if NextBlock(0) != 1 {
		t.Error("NextBlock(0) should be 1")
	}
	if NextBlock(MaxBlockNumber) != 0 {
		t.Errorf("NextBlock(max) = %d, want 0", NextBlock(MaxBlockNumber))
	}
	if got := Block2Value(MaxBlockNumber+1, false, 0); got>>4 != 0 {
		t.Errorf("Block2Value must mask to 20 bits, got %#x", got)
	}
}
