// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	ehErrors "github.com/absmach/eventhorizon/pkg/errors"
)

const (
	// DefaultMaxEvents is the default number of events handled per loop iteration.
	DefaultMaxEvents = 4096

	// DefaultBufferSize is the default per-connection read size.
	DefaultBufferSize = 1024

	// DefaultHandshakeTimeout bounds the TLS handshake of a new connection.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultWriteTimeout is the write deadline used by Write when none is given.
	DefaultWriteTimeout = 100 * time.Millisecond
)

// Engine is a single-threaded stream protocol state machine. The server calls
// it from one goroutine only.
type Engine interface {
	// Accept is offered every new connection. Returning false makes the
	// server close it.
	Accept(now time.Time, conn net.Conn) bool

	// Receive delivers bytes read from conn. data is owned by the engine.
	Receive(now time.Time, conn net.Conn, data []byte)

	// Closed reports a read error on conn, io.EOF included. The engine
	// releases the client; the server closes conn afterwards.
	Closed(now time.Time, conn net.Conn, err error)

	// Tick runs timers and sweeps and returns how long the loop may wait
	// before calling it again. A negative duration means no timer.
	Tick(now time.Time) time.Duration
}

// Shutdowner is implemented by engines that report their remaining clients
// when the server stops.
type Shutdowner interface {
	Shutdown(now time.Time)
}

// Config holds the TCP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// TLSConfig is optional TLS configuration for the listener
	TLSConfig *tls.Config

	// HandshakeTimeout bounds the TLS handshake. If 0, uses DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// MaxEvents is the number of queued events handled before the engine gets
	// a Tick. If 0, uses DefaultMaxEvents.
	MaxEvents int

	// WaitTimeout caps how long the loop sleeps without events, so Tick runs
	// at least that often. If 0, the loop waits as long as Tick allows.
	WaitTimeout time.Duration

	// BufferSize is the size of each connection read. If 0, uses DefaultBufferSize.
	BufferSize int

	// Now returns the loop clock. Defaults to time.Now.
	Now func() time.Time

	// Logger for server events
	Logger *slog.Logger
}

type eventKind int

const (
	eventAccept eventKind = iota
	eventData
	eventClosed
)

type event struct {
	kind eventKind
	conn net.Conn
	data []byte
	err  error
}

// Server drives one stream Engine. One goroutine accepts, one goroutine per
// connection reads, and every engine call happens on the loop goroutine.
type Server struct {
	config Config
	engine Engine
	events chan event
	done   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
}

// New creates a new TCP server driving engine.
func New(cfg Config, engine Engine) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Server{
		config: cfg,
		engine: engine,
		events: make(chan event, cfg.MaxEvents),
		done:   make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen starts the TCP server and blocks until the context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	if s.config.TLSConfig != nil {
		listener = tls.NewListener(listener, s.config.TLSConfig)
		s.config.Logger.Info("TLS enabled", slog.String("address", s.config.Address))
	}

	return s.Serve(ctx, listener)
}

// Serve runs the loop on listener until the context is cancelled. It closes
// the listener and every open connection before returning.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.config.Logger.Info("TCP server started",
		slog.String("address", listener.Addr().String()),
		slog.Int("max_events", s.config.MaxEvents))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.accept(listener)
	}()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		wait := s.engine.Tick(s.config.Now())
		if s.config.WaitTimeout > 0 && (wait < 0 || wait > s.config.WaitTimeout) {
			wait = s.config.WaitTimeout
		}
		var tick <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			tick = timer.C
		} else {
			timer.Stop()
		}

		select {
		case <-ctx.Done():
			s.shutdown(listener)
			return nil

		case ev := <-s.events:
			s.handle(ev)
		drain:
			for i := 1; i < s.config.MaxEvents; i++ {
				select {
				case ev := <-s.events:
					s.handle(ev)
				default:
					break drain
				}
			}

		case <-tick:
		}
	}
}

func (s *Server) shutdown(listener net.Listener) {
	s.config.Logger.Info("shutdown signal received, closing listener")
	close(s.done)
	if err := listener.Close(); err != nil {
		s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
	}

	if sd, ok := s.engine.(Shutdowner); ok {
		sd.Shutdown(s.config.Now())
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.config.Logger.Info("all connections closed")
}

func (s *Server) handle(ev event) {
	now := s.config.Now()
	switch ev.kind {
	case eventAccept:
		if !s.engine.Accept(now, ev.conn) {
			s.untrack(ev.conn)
			ev.conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.read(ev.conn)
		}()
	case eventData:
		s.engine.Receive(now, ev.conn, ev.data)
	case eventClosed:
		s.engine.Closed(now, ev.conn, ev.err)
		s.untrack(ev.conn)
		ev.conn.Close()
	}
}

func (s *Server) accept(listener net.Listener) {
	var delay time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			// Out of descriptors or a similar condition. Back off like net/http.
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else if delay *= 2; delay > time.Second {
				delay = time.Second
			}
			s.config.Logger.Error("failed to accept connection",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", delay))
			select {
			case <-time.After(delay):
			case <-s.done:
				return
			}
			continue
		}
		delay = 0

		if !s.track(conn) {
			conn.Close()
			return
		}

		if tlsConn, ok := conn.(*tls.Conn); ok {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.handshake(tlsConn)
			}()
			continue
		}
		if !s.push(event{kind: eventAccept, conn: conn}) {
			return
		}
	}
}

// The handshake runs off the loop so a silent peer cannot stall it.
func (s *Server) handshake(conn *tls.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.HandshakeTimeout)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := conn.HandshakeContext(ctx); err != nil {
		s.config.Logger.Debug("TLS handshake failed",
			slog.String("remote", conn.RemoteAddr().String()),
			slog.String("error", err.Error()))
		s.untrack(conn)
		conn.Close()
		return
	}
	s.push(event{kind: eventAccept, conn: conn})
}

func (s *Server) read(conn net.Conn) {
	buf := make([]byte, s.config.BufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !s.push(event{kind: eventData, conn: conn, data: data}) {
				return
			}
		}
		if err != nil {
			s.push(event{kind: eventClosed, conn: conn, err: err})
			return
		}
	}
}

func (s *Server) push(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// Write writes b to conn under a write deadline of timeout and classifies the
// result with errors.ClassifyIO. A short write is reported as transient.
func Write(conn net.Conn, b []byte, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return ehErrors.ClassifyIO(err)
	}
	n, err := conn.Write(b)
	if err != nil {
		return ehErrors.ClassifyIO(err)
	}
	if n < len(b) {
		return fmt.Errorf("%w: short write %d of %d", ehErrors.ErrTransientIO, n, len(b))
	}
	return nil
}

// RemoteIP returns the peer IP of conn without the port, IPv4 unmapped.
func RemoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	if ap, err := netip.ParseAddrPort(addr.String()); err == nil {
		return ap.Addr().Unmap().String()
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}
