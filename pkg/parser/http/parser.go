// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"

	"github.com/absmach/eventhorizon/pkg/errors"
)

// MaxRequestLine is the most bytes buffered while waiting for a request line.
const MaxRequestLine = 1024

var (
	// ErrIncomplete means more bytes are needed.
	ErrIncomplete = fmt.Errorf("%w: request line incomplete", errors.ErrDecode)

	// ErrTooLong means no request line ended within MaxRequestLine bytes.
	ErrTooLong = fmt.Errorf("%w: request line exceeds %d bytes", errors.ErrProtocolViolation, MaxRequestLine)

	// ErrMalformed means the request line does not have three fields.
	ErrMalformed = fmt.Errorf("%w: malformed request line", errors.ErrProtocolViolation)
)

// RequestLine is the first line of an HTTP request.
type RequestLine struct {
	Method string
	Target string
	Proto  string
	Major  int
	Minor  int
}

// Path returns the target's path, or the raw target if it does not parse.
func (r RequestLine) Path() string {
	u, err := url.ParseRequestURI(r.Target)
	if err != nil {
		return r.Target
	}
	return u.Path
}

// Is reports whether the request is method on path.
func (r RequestLine) Is(method, path string) bool {
	return r.Method == method && r.Path() == path
}

// ParseRequestLine parses the request line at the start of buf, which may be
// a partial stream. It returns ErrIncomplete until a line feed arrives.
// A line with three fields but an unknown protocol version is still returned
// with Major and Minor left at zero.
func ParseRequestLine(buf []byte) (RequestLine, error) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		if len(buf) >= MaxRequestLine {
			return RequestLine{}, ErrTooLong
		}
		return RequestLine{}, ErrIncomplete
	}
	if i >= MaxRequestLine {
		return RequestLine{}, ErrTooLong
	}

	line := bytes.TrimRight(buf[:i], "\r")
	fields := bytes.Fields(line)
	if len(fields) != 3 {
		return RequestLine{}, ErrMalformed
	}

	rl := RequestLine{
		Method: string(fields[0]),
		Target: string(fields[1]),
		Proto:  string(fields[2]),
	}
	if major, minor, ok := http.ParseHTTPVersion(rl.Proto); ok {
		rl.Major, rl.Minor = major, minor
	}
	return rl, nil
}

// IsMSearch reports whether an SSDP datagram is an M-SEARCH discovery request.
func IsMSearch(datagram []byte) bool {
	return bytes.Contains(datagram, []byte("M-SEARCH"))
}
