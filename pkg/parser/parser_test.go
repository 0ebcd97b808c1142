// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVarintRoundTrip(t *testing.T) {
	values := []uint32{0, 1, 127, 128, 16_383, 16_384, 2_097_151, 2_097_152, MaxVarint}
	for v := uint32(1); v < MaxVarint; v = v*3 + 7 {
		values = append(values, v)
	}

	for _, v := range values {
		enc, err := AppendVarint(nil, v)
		require.NoError(t, err)
		require.LessOrEqual(t, len(enc), MaxVarintBytes)

		got, n, err := DecodeVarint(enc)
		require.NoError(t, err, "value %d", v)
		assert.Equal(t, v, got)
		assert.Equal(t, len(enc), n)
	}
}

func TestVarintEncodingLengths(t *testing.T) {
	tests := []struct {
		value uint32
		want  []byte
	}{
		{0, []byte{0x00}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{16_383, []byte{0xff, 0x7f}},
		{16_384, []byte{0x80, 0x80, 0x01}},
		{MaxVarint, []byte{0xff, 0xff, 0xff, 0x7f}},
	}
	for _, tt := range tests {
		got, err := AppendVarint(nil, tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "value %d", tt.value)
	}

	_, err := AppendVarint(nil, MaxVarint+1)
	assert.ErrorIs(t, err, ErrVarintRange)
}

func TestVarintFailures(t *testing.T) {
	_, _, err := DecodeVarint([]byte{0xff, 0xff, 0xff, 0xff, 0x01})
	assert.ErrorIs(t, err, ErrVarintOverflow)

	_, _, err = DecodeVarint([]byte{0x80, 0x80})
	assert.ErrorIs(t, err, ErrShortBuffer)

	_, _, err = DecodeVarint(nil)
	assert.ErrorIs(t, err, ErrShortBuffer)
}

func TestReaderFields(t *testing.T) {
	r := NewReader([]byte{0x00, 0x04, 'M', 'Q', 'T', 'T', 0x05, 0x82, 0x01, 0xAA, 0xBB})

	name, err := r.LengthPrefixed()
	require.NoError(t, err)
	assert.Equal(t, "MQTT", string(name))

	level, err := r.Byte()
	require.NoError(t, err)
	assert.Equal(t, byte(5), level)

	v, err := r.Varint()
	require.NoError(t, err)
	assert.Equal(t, uint32(130), v)

	assert.Equal(t, 2, r.Remaining())
	assert.Equal(t, []byte{0xAA, 0xBB}, r.Rest())
	assert.Zero(t, r.Remaining())
}

func TestReaderFailureLeavesOffset(t *testing.T) {
	r := NewReader([]byte{0x00, 0x09, 'a', 'b'})

	_, err := r.LengthPrefixed()
	require.ErrorIs(t, err, ErrShortBuffer)
	assert.Zero(t, r.Offset(), "failed read must not advance")

	_, err = r.Bytes(5)
	require.ErrorIs(t, err, ErrShortBuffer)
	require.ErrorIs(t, r.Skip(-1), ErrShortBuffer)

	u, err := r.Uint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(9), u)

	_, err = r.Uint16()
	require.NoError(t, err)
	_, err = r.Byte()
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestReaderSub(t *testing.T) {
	r := NewReader([]byte{1, 2, 3, 4})
	sub, err := r.Sub(3)
	require.NoError(t, err)
	assert.Equal(t, 3, sub.Remaining())
	assert.Equal(t, 1, r.Remaining())

	_, err = r.Sub(2)
	assert.ErrorIs(t, err, ErrShortBuffer)
}
