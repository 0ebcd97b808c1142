// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestClassifyIO(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{name: "deadline", err: os.ErrDeadlineExceeded, transient: true},
		{name: "wrapped deadline", err: fmt.Errorf("write: %w", os.ErrDeadlineExceeded), transient: true},
		{name: "eagain", err: syscall.EAGAIN, transient: true},
		{name: "op error timeout", err: &net.OpError{Op: "write", Err: os.ErrDeadlineExceeded}, transient: true},
		{name: "eof", err: io.EOF, transient: false},
		{name: "closed", err: net.ErrClosed, transient: false},
		{name: "reset", err: syscall.ECONNRESET, transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyIO(tt.err)
			if IsTransient(tt.err) != tt.transient {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, !tt.transient, tt.transient)
			}
			if tt.transient && !errors.Is(got, ErrTransientIO) {
				t.Errorf("ClassifyIO(%v) = %v, want ErrTransientIO", tt.err, got)
			}
			if !tt.transient && !errors.Is(got, ErrFatalIO) {
				t.Errorf("ClassifyIO(%v) = %v, want ErrFatalIO", tt.err, got)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("ClassifyIO(%v) lost the original error", tt.err)
			}
		})
	}

	if ClassifyIO(nil) != nil {
		t.Error("ClassifyIO(nil) should be nil")
	}
}

func TestClassifyIOEOFIsConnectionClosed(t *testing.T) {
	if !errors.Is(ClassifyIO(io.EOF), ErrConnectionClosed) {
		t.Error("EOF should classify as ErrConnectionClosed")
	}
}

func TestClientError(t *testing.T) {
	err := New("write", "MQTT", "abc", "10.0.0.1:1883", ErrDecode)
	if !errors.Is(err, ErrDecode) {
		t.Fatal("ClientError should unwrap to the cause")
	}

	want := "MQTT write [abc] 10.0.0.1:1883: decode failure"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	if New("write", "MQTT", "", "", nil) != nil {
		t.Error("New with nil error should be nil")
	}

	if got := New("tick", "CoAP", "", "10.0.0.1:5683", ErrFatalIO).Error(); got != "CoAP tick 10.0.0.1:5683: fatal i/o" {
		t.Errorf("Error() without id = %q", got)
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "ctx") != nil {
		t.Error("Wrap(nil) should be nil")
	}
	err := Wrap(ErrResourceExhausted, "heap")
	if !errors.Is(err, ErrResourceExhausted) || err.Error() != "heap: resource exhausted" {
		t.Errorf("Wrap() = %v", err)
	}
}
