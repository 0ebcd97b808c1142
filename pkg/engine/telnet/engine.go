// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package telnet

import (
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/absmach/eventhorizon/pkg/errors"
	"github.com/absmach/eventhorizon/pkg/events"
	"github.com/absmach/eventhorizon/pkg/ratelimit"
	"github.com/absmach/eventhorizon/pkg/registry"
	"github.com/absmach/eventhorizon/pkg/sched"
	"github.com/absmach/eventhorizon/pkg/server/tcp"
	"github.com/google/uuid"
)

const (
	DefaultDelay        = 10 * time.Second
	DefaultMaxClients   = 4096
	DefaultWriteTimeout = 100 * time.Millisecond
)

// Telnet command and option codes.
const (
	IAC  = 255
	DONT = 254
	DO   = 253
	WONT = 252
	WILL = 251

	OptEcho       = 1
	OptSGA        = 3
	OptStatus     = 5
	OptTType      = 24
	OptNAWS       = 31
	OptNewEnviron = 39
)

// Negotiations are the option negotiations dripped to a client, one per tick.
var Negotiations = [][]byte{
	{IAC, WILL, OptEcho},
	{IAC, DO, OptSGA},
	{IAC, DONT, OptStatus},
	{IAC, WILL, OptNAWS},
	{IAC, DO, OptTType},
	{IAC, WONT, OptNewEnviron},
}

// Config holds the Telnet engine configuration.
type Config struct {
	// Delay separates two negotiations sent to a client.
	Delay time.Duration

	// MaxClients bounds the number of trapped connections.
	MaxClients int

	// WriteTimeout is the write deadline of every negotiation.
	WriteTimeout time.Duration

	// Limiter, if set, admits new connections per source IP.
	Limiter *ratelimit.Limiter[netip.Addr]

	// Pick chooses the next negotiation index in [0, n). Defaults to
	// math/rand/v2.IntN.
	Pick func(n int) int

	Sink   events.Sink
	Logger *slog.Logger
}

type client struct {
	session string
	conn    net.Conn
	ip      string
	trapped time.Duration
	entry   *sched.Entry[*client]
}

// Engine is the Telnet tarpit state machine. It implements tcp.Engine and
// must only be driven by one goroutine.
type Engine struct {
	config  Config
	sink    events.Sink
	logger  *slog.Logger
	queue   *sched.Queue[*client]
	clients *registry.Registry[net.Conn, *client]
	count   atomic.Int64
}

var (
	_ tcp.Engine     = (*Engine)(nil)
	_ tcp.Shutdowner = (*Engine)(nil)
)

// New creates a Telnet engine.
func New(cfg Config) *Engine {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Pick == nil {
		cfg.Pick = rand.IntN
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		config:  cfg,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		queue:   sched.New[*client](cfg.MaxClients),
		clients: registry.New[net.Conn, *client](cfg.MaxClients),
	}
}

// Clients returns the number of trapped connections. Safe for concurrent use.
func (e *Engine) Clients() int {
	return int(e.count.Load())
}

// MaxClients returns the configured capacity.
func (e *Engine) MaxClients() int {
	return e.config.MaxClients
}

// Accept implements tcp.Engine.
func (e *Engine) Accept(now time.Time, conn net.Conn) bool {
	ip := tcp.RemoteIP(conn)
	if addr, err := netip.ParseAddr(ip); err == nil && e.config.Limiter != nil {
		if err := e.config.Limiter.Admit(addr, now); err != nil {
			e.logger.Debug("Telnet client refused",
				slog.String("remote", ip),
				slog.String("error", err.Error()))
			return false
		}
	}

	c := &client{
		session: uuid.New().String(),
		conn:    conn,
		ip:      ip,
	}
	if err := e.clients.Insert(conn, c); err != nil {
		e.logger.Warn("Telnet client rejected",
			slog.String("remote", ip),
			slog.String("error", err.Error()))
		return false
	}
	entry, err := e.queue.Schedule(c, now.Add(e.config.Delay))
	if err != nil {
		e.clients.Remove(conn)
		e.logger.Warn("Telnet client rejected",
			slog.String("remote", ip),
			slog.String("error", err.Error()))
		return false
	}
	c.entry = entry
	e.count.Add(1)

	e.logger.Debug("Telnet client trapped",
		slog.String("session", c.session),
		slog.String("remote", ip))
	e.sink.Emit(events.New(events.Telnet, events.KindConnect, ip))
	return true
}

// Receive implements tcp.Engine. Input is discarded.
func (e *Engine) Receive(time.Time, net.Conn, []byte) {}

// Closed implements tcp.Engine.
func (e *Engine) Closed(now time.Time, conn net.Conn, err error) {
	c, ok := e.clients.Find(conn)
	if !ok {
		return
	}
	reason := "read failed"
	if errors.Is(err, io.EOF) {
		reason = "peer closed"
	}
	e.evict(c, reason)
}

// Tick implements tcp.Engine. Every due client gets one negotiation.
func (e *Engine) Tick(now time.Time) time.Duration {
	for {
		c, ok := e.queue.PopDue(now)
		if !ok {
			break
		}
		if cur, ok := e.clients.Find(c.conn); !ok || cur != c {
			continue
		}
		e.drip(now, c)
	}

	if wait, ok := e.queue.Until(now); ok {
		return wait
	}
	return -1
}

func (e *Engine) drip(now time.Time, c *client) {
	msg := Negotiations[e.config.Pick(len(Negotiations))]
	if err := tcp.Write(c.conn, msg, e.config.WriteTimeout); err != nil && !errors.IsTransient(err) {
		e.logger.Debug("Telnet write failed",
			slog.Any("error", errors.New("write", "Telnet", c.session, c.ip, err)))
		e.evict(c, "write failed")
		return
	}

	c.trapped += e.config.Delay
	entry, err := e.queue.Schedule(c, now.Add(e.config.Delay))
	if err != nil {
		e.logger.Error("Telnet requeue failed",
			slog.String("session", c.session),
			slog.String("error", err.Error()))
		e.evict(c, "requeue failed")
		return
	}
	c.entry = entry
}

func (e *Engine) evict(c *client, reason string) {
	if _, ok := e.clients.Remove(c.conn); !ok {
		return
	}
	e.queue.Remove(c.entry)
	e.count.Add(-1)
	c.conn.Close()

	e.logger.Debug("Telnet client released",
		slog.String("session", c.session),
		slog.String("remote", c.ip),
		slog.String("reason", reason),
		slog.Duration("trapped", c.trapped))
	e.sink.Emit(events.New(events.Telnet, events.KindDisconnect,
		c.ip, strconv.FormatInt(c.trapped.Milliseconds(), 10)))
}

// Shutdown implements tcp.Shutdowner by releasing every client.
func (e *Engine) Shutdown(time.Time) {
	var all []*client
	e.clients.Range(func(_ net.Conn, c *client) bool {
		all = append(all, c)
		return true
	})
	for _, c := range all {
		e.evict(c, "shutdown")
	}
}
