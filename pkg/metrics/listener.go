// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
)

// MaxLineSize is the largest event datagram read.
const MaxLineSize = 1024

// Listener reads event datagrams from a unixgram socket.
type Listener struct {
	path      string
	collector *Collector
	logger    *slog.Logger
}

// NewListener creates a Listener on the socket at path.
func NewListener(path string, c *Collector, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{path: path, collector: c, logger: logger}
}

// Listen binds the socket, replacing a stale one, and feeds every datagram
// to the collector until ctx is done. The socket file is removed on return.
func (l *Listener) Listen(ctx context.Context) error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket %s: %w", l.path, err)
	}
	conn, err := net.ListenPacket("unixgram", l.path)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.path, err)
	}
	defer os.Remove(l.path)

	l.logger.Info("Collector listening", slog.String("socket", l.path))

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	buf := make([]byte, MaxLineSize)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			l.logger.Error("failed to read event", slog.String("error", err.Error()))
			continue
		}
		l.collector.Handle(strings.TrimSpace(string(buf[:n])))
	}
}
