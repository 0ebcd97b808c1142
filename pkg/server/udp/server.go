// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"
)

const (
	// MaxDatagramSize is the maximum size of a UDP datagram.
	MaxDatagramSize = 65535

	// DefaultBufferSize is the default buffer size for UDP packets.
	DefaultBufferSize = 2048

	// DefaultMaxEvents is the default number of datagrams handled per loop iteration.
	DefaultMaxEvents = 256
)

// Writer sends a datagram to a peer. The engine gets one from the loop and
// must not keep it past the call.
type Writer interface {
	WriteTo(b []byte, addr netip.AddrPort) (int, error)
}

// Engine is a single-threaded datagram protocol state machine. The server
// calls it from one goroutine only.
type Engine interface {
	// HandleDatagram processes one inbound datagram. data is only valid
	// during the call.
	HandleDatagram(w Writer, now time.Time, from netip.AddrPort, data []byte)

	// Tick fires every action due at now and returns how long the loop may
	// wait before the next one. A negative duration means nothing is scheduled.
	Tick(w Writer, now time.Time) time.Duration
}

// Shutdowner is implemented by engines that report their remaining clients
// when the server stops.
type Shutdowner interface {
	Shutdown(w Writer, now time.Time)
}

// Config holds the UDP server configuration.
type Config struct {
	// Address is the listen address (host:port)
	Address string

	// BufferSize is the size of datagram read buffers in bytes.
	// If 0, uses DefaultBufferSize. Must not exceed MaxDatagramSize.
	BufferSize int

	// MaxEvents is the number of queued datagrams handled before the engine
	// gets a Tick. If 0, uses DefaultMaxEvents.
	MaxEvents int

	// ReadBufferSize sets the socket receive buffer size (SO_RCVBUF).
	// If 0, uses system default.
	ReadBufferSize int

	// WriteBufferSize sets the socket send buffer size (SO_SNDBUF).
	// If 0, uses system default.
	WriteBufferSize int

	// Now returns the loop clock. Defaults to time.Now.
	Now func() time.Time

	// Logger for server events
	Logger *slog.Logger
}

type datagram struct {
	from netip.AddrPort
	buf  *[]byte
	n    int
}

// Server runs one datagram Engine on one socket. A reader goroutine owns the
// socket reads; every engine call happens on the loop goroutine.
type Server struct {
	config     Config
	engine     Engine
	bufferPool *sync.Pool
	packets    chan datagram
}

// New creates a new UDP server driving engine.
func New(cfg Config, engine Engine) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BufferSize > MaxDatagramSize {
		cfg.BufferSize = MaxDatagramSize
	}
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	bufferPool := &sync.Pool{
		New: func() interface{} {
			buf := make([]byte, cfg.BufferSize)
			return &buf
		},
	}

	return &Server{
		config:     cfg,
		engine:     engine,
		bufferPool: bufferPool,
		packets:    make(chan datagram, cfg.MaxEvents),
	}
}

// Listen binds Address and serves until the context is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve address %s: %w", s.config.Address, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	if s.config.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(s.config.ReadBufferSize); err != nil {
			s.config.Logger.Warn("failed to set read buffer size",
				slog.String("error", err.Error()))
		}
	}
	if s.config.WriteBufferSize > 0 {
		if err := conn.SetWriteBuffer(s.config.WriteBufferSize); err != nil {
			s.config.Logger.Warn("failed to set write buffer size",
				slog.String("error", err.Error()))
		}
	}

	return s.Serve(ctx, conn)
}

// Serve runs the loop on conn until the context is cancelled. It closes conn
// before returning.
func (s *Server) Serve(ctx context.Context, conn *net.UDPConn) error {
	s.config.Logger.Info("UDP server started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
		slog.Int("max_events", s.config.MaxEvents))

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		s.read(ctx, conn)
	}()

	w := &connWriter{conn: conn}
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		wait := s.engine.Tick(w, s.config.Now())
		var tick <-chan time.Time
		if wait >= 0 {
			timer.Reset(wait)
			tick = timer.C
		} else {
			timer.Stop()
		}

		select {
		case <-ctx.Done():
			s.config.Logger.Info("shutdown signal received, closing listener")
			if err := conn.Close(); err != nil {
				s.config.Logger.Error("error closing listener", slog.String("error", err.Error()))
			}
			<-readDone
			if sd, ok := s.engine.(Shutdowner); ok {
				sd.Shutdown(w, s.config.Now())
			}
			return nil

		case d := <-s.packets:
			s.handle(w, d)
		drain:
			for i := 1; i < s.config.MaxEvents; i++ {
				select {
				case d := <-s.packets:
					s.handle(w, d)
				default:
					break drain
				}
			}

		case <-tick:
		}
	}
}

func (s *Server) handle(w Writer, d datagram) {
	s.engine.HandleDatagram(w, s.config.Now(), d.from, (*d.buf)[:d.n])
	s.bufferPool.Put(d.buf)
}

func (s *Server) read(ctx context.Context, conn *net.UDPConn) {
	for {
		bufPtr := s.bufferPool.Get().(*[]byte)

		n, from, err := conn.ReadFromUDPAddrPort(*bufPtr)
		if err != nil {
			s.bufferPool.Put(bufPtr)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.config.Logger.Error("failed to read UDP packet",
				slog.String("error", err.Error()))
			continue
		}

		d := datagram{from: unmap(from), buf: bufPtr, n: n}
		select {
		case s.packets <- d:
		case <-ctx.Done():
			s.bufferPool.Put(bufPtr)
			return
		}
	}
}

// IPv4 peers on a dual stack socket arrive as 4in6 addresses.
func unmap(ap netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

type connWriter struct {
	conn *net.UDPConn
}

func (w *connWriter) WriteTo(b []byte, addr netip.AddrPort) (int, error) {
	return w.conn.WriteToUDPAddrPort(b, addr)
}
