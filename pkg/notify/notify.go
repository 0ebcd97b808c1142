// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package notify delivers events to the metrics collector as unix datagrams.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/eventhorizon/pkg/breaker"
	"github.com/absmach/eventhorizon/pkg/errors"
	"github.com/absmach/eventhorizon/pkg/events"
	"github.com/absmach/eventhorizon/pkg/health"
)

// DefaultSocket is where the collector listens unless configured otherwise.
const DefaultSocket = "/tmp/tarpit_exporter.sock"

// Config holds the sender configuration.
type Config struct {
	// Socket is the collector's unixgram socket path.
	Socket string

	// WriteTimeout bounds a single datagram write.
	WriteTimeout time.Duration

	// MaxFailures and ResetTimeout configure the circuit breaker that stops
	// writes while the collector is absent.
	MaxFailures  int
	ResetTimeout time.Duration

	Logger *slog.Logger
}

// Sender is an events.Sink writing one datagram per event. It is safe for
// concurrent use by several engines. Failed writes are dropped.
type Sender struct {
	config  Config
	breaker *breaker.CircuitBreaker
	logger  *slog.Logger

	mu   sync.Mutex
	conn *net.UnixConn
}

var _ events.Sink = (*Sender)(nil)

// New creates a Sender. No socket is opened until the first event.
func New(cfg Config) *Sender {
	if cfg.Socket == "" {
		cfg.Socket = DefaultSocket
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Sender{
		config: cfg,
		logger: cfg.Logger,
		breaker: breaker.New(breaker.Config{
			MaxFailures:  cfg.MaxFailures,
			ResetTimeout: cfg.ResetTimeout,
		}),
	}
	s.breaker.OnStateChange(func(from, to breaker.State) {
		s.logger.Info("Collector notifications state changed",
			slog.String("socket", cfg.Socket),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	})
	return s
}

// Emit implements events.Sink.
func (s *Sender) Emit(e events.Event) {
	line := e.String()
	err := s.breaker.Call(func() error {
		return s.send([]byte(line))
	})
	if err != nil && !errors.Is(err, breaker.ErrCircuitOpen) {
		s.logger.Debug("Dropped event",
			slog.String("server", string(e.Server)),
			slog.String("kind", e.Kind),
			slog.String("error", err.Error()))
	}
}

func (s *Sender) send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		addr := &net.UnixAddr{Name: s.config.Socket, Net: "unixgram"}
		conn, err := net.DialUnix("unixgram", nil, addr)
		if err != nil {
			return errors.Wrap(err, "dial collector")
		}
		s.conn = conn
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		s.reset()
		return err
	}
	if _, err := s.conn.Write(b); err != nil {
		// The collector may have restarted and rebound the path.
		s.reset()
		return errors.ClassifyIO(err)
	}
	return nil
}

func (s *Sender) reset() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// Check reports the collector as degraded while the breaker holds writes back.
func (s *Sender) Check(context.Context) error {
	state, failures, _ := s.breaker.Stats()
	if state != breaker.StateOpen {
		return nil
	}
	err := fmt.Errorf("%w: collector at %s unreachable after %d failures",
		health.ErrDegraded, s.config.Socket, failures)
	if at, ok := s.breaker.RetryAt(); ok {
		err = fmt.Errorf("%w, retry at %s", err, at.Format(time.RFC3339))
	}
	return err
}

// Close releases the socket.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
