// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the error taxonomy shared by the tarpit engines.
package errors

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
)

// Error classes.
var (
	// ErrProtocolViolation indicates a malformed header or length field.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrResourceExhausted indicates a registry or scheduling structure at capacity.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrDecode indicates a truncated field or an overflowing variable length integer.
	ErrDecode = errors.New("decode failure")

	// ErrTransientIO indicates an I/O operation that would block or timed out.
	ErrTransientIO = errors.New("transient i/o")

	// ErrFatalIO indicates an I/O error that ends the client.
	ErrFatalIO = errors.New("fatal i/o")

	// ErrConnectionClosed indicates the peer closed the connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrRateLimited indicates a rejected admission.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ClientError wraps an error with the client it happened on.
type ClientError struct {
	Op         string // Operation that failed
	Protocol   string // CoAP, MQTT, Telnet, UPnP
	ClientID   string // Client session identifier
	RemoteAddr string // Peer address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e.ClientID != "" {
		return fmt.Sprintf("%s %s [%s] %s: %v", e.Protocol, e.Op, e.ClientID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Protocol, e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *ClientError) Unwrap() error {
	return e.Err
}

// New creates a new ClientError. It returns nil for a nil err.
func New(op, protocol, clientID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &ClientError{
		Op:         op,
		Protocol:   protocol,
		ClientID:   clientID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// ClassifyIO tags an I/O error as ErrTransientIO or ErrFatalIO.
// Timeouts and would-block conditions are transient, everything else is fatal.
func ClassifyIO(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientIO) || errors.Is(err, ErrFatalIO) {
		return err
	}
	if isTimeout(err) || errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK) {
		return fmt.Errorf("%w: %w", ErrTransientIO, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %w: %w", ErrFatalIO, ErrConnectionClosed, err)
	}
	return fmt.Errorf("%w: %w", ErrFatalIO, err)
}

// IsTransient reports whether err is worth retrying on a later tick.
func IsTransient(err error) bool {
	return errors.Is(ClassifyIO(err), ErrTransientIO)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}
