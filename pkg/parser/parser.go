// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"fmt"

	"github.com/absmach/eventhorizon/pkg/errors"
)

const (
	// MaxVarintBytes is the longest variable byte integer accepted.
	MaxVarintBytes = 4

	// MaxVarint is the largest value a 4 byte variable byte integer carries.
	MaxVarint = 1<<28 - 1
)

var (
	// ErrShortBuffer is returned when a read needs more bytes than remain.
	ErrShortBuffer = fmt.Errorf("%w: short buffer", errors.ErrDecode)

	// ErrVarintOverflow is returned when a variable byte integer needs a 5th byte.
	ErrVarintOverflow = fmt.Errorf("%w: variable byte integer exceeds %d bytes", errors.ErrDecode, MaxVarintBytes)

	// ErrVarintRange is returned when encoding a value above MaxVarint.
	ErrVarintRange = fmt.Errorf("%w: value out of variable byte integer range", errors.ErrDecode)
)

// Reader is a bounds-checked cursor over a byte slice.
// Every read either succeeds and advances, or fails and leaves the offset untouched.
// Slices returned by Bytes, LengthPrefixed and Rest alias the underlying buffer.
type Reader struct {
	buf []byte
	off int
}

// NewReader returns a Reader positioned at the start of b.
func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

// Byte reads one byte.
func (r *Reader) Byte() (byte, error) {
	if r.Remaining() < 1 {
		return 0, ErrShortBuffer
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

// Uint16 reads a big-endian 16 bit integer.
func (r *Reader) Uint16() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, ErrShortBuffer
	}
	v := uint16(r.buf[r.off])<<8 | uint16(r.buf[r.off+1])
	r.off += 2
	return v, nil
}

// Bytes reads the next n bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.off : r.off+n : r.off+n]
	r.off += n
	return b, nil
}

// LengthPrefixed reads a 16 bit length followed by that many bytes.
func (r *Reader) LengthPrefixed() ([]byte, error) {
	start := r.off
	n, err := r.Uint16()
	if err != nil {
		return nil, err
	}
	b, err := r.Bytes(int(n))
	if err != nil {
		r.off = start
		return nil, err
	}
	return b, nil
}

// Varint reads a variable byte integer: 7 value bits per byte, high bit set
// on every byte but the last, at most MaxVarintBytes bytes.
func (r *Reader) Varint() (uint32, error) {
	v, n, err := DecodeVarint(r.buf[r.off:])
	if err != nil {
		return 0, err
	}
	r.off += n
	return v, nil
}

// Skip advances n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.Remaining() < n {
		return ErrShortBuffer
	}
	r.off += n
	return nil
}

// Sub returns a Reader over the next n bytes and advances past them.
func (r *Reader) Sub(n int) (*Reader, error) {
	b, err := r.Bytes(n)
	if err != nil {
		return nil, err
	}
	return NewReader(b), nil
}

// Rest returns the unread bytes and moves to the end.
func (r *Reader) Rest() []byte {
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int {
	return r.off
}

// DecodeVarint decodes a variable byte integer from the start of b and
// returns the value and the number of bytes it occupied. It fails with
// ErrShortBuffer when b ends before the last byte, and with ErrVarintOverflow
// when a 5th byte would be needed.
func DecodeVarint(b []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < MaxVarintBytes; i++ {
		if i >= len(b) {
			return 0, 0, ErrShortBuffer
		}
		v |= uint32(b[i]&0x7f) << (7 * i)
		if b[i]&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, ErrVarintOverflow
}

// AppendVarint appends the variable byte integer encoding of v to dst.
func AppendVarint(dst []byte, v uint32) ([]byte, error) {
	if v > MaxVarint {
		return dst, ErrVarintRange
	}
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst, nil
		}
	}
}
