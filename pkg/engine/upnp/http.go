// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package upnp

import (
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/absmach/eventhorizon/pkg/errors"
	"github.com/absmach/eventhorizon/pkg/events"
	"github.com/absmach/eventhorizon/pkg/parser/http"
	"github.com/absmach/eventhorizon/pkg/ratelimit"
	"github.com/absmach/eventhorizon/pkg/registry"
	"github.com/absmach/eventhorizon/pkg/sched"
	"github.com/absmach/eventhorizon/pkg/server/tcp"
	"github.com/google/uuid"
)

const (
	DefaultDelay          = 10 * time.Second
	DefaultMaxClients     = 4096
	DefaultRequestTimeout = 10 * time.Second
	DefaultWriteTimeout   = 100 * time.Millisecond
)

// HTTPConfig holds the description server configuration.
type HTTPConfig struct {
	// Delay separates two service chunks.
	Delay time.Duration

	// MaxClients bounds open connections, trapped or still sending their
	// request line.
	MaxClients int

	// RequestTimeout is how long a connection may take to send its request
	// line.
	RequestTimeout time.Duration

	// WriteTimeout is the write deadline of every chunk.
	WriteTimeout time.Duration

	// Limiter, if set, admits new connections per source IP.
	Limiter *ratelimit.Limiter[netip.Addr]

	Sink   events.Sink
	Logger *slog.Logger
}

type peer struct {
	session string
	conn    net.Conn
	ip      string
	buf     []byte
	trapped time.Duration
	serving bool
	entry   *sched.Entry[*peer]
}

// HTTP serves the device description as a chunked response that never ends.
// It implements tcp.Engine and must only be driven by one goroutine.
type HTTP struct {
	config  HTTPConfig
	sink    events.Sink
	logger  *slog.Logger
	queue   *sched.Queue[*peer]
	clients *registry.Registry[net.Conn, *peer]
	count   atomic.Int64
	chunk   []byte
}

var (
	_ tcp.Engine     = (*HTTP)(nil)
	_ tcp.Shutdowner = (*HTTP)(nil)
)

// NewHTTP creates a description server engine.
func NewHTTP(cfg HTTPConfig) *HTTP {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Sink == nil {
		cfg.Sink = events.Noop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &HTTP{
		config:  cfg,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		queue:   sched.New[*peer](cfg.MaxClients),
		clients: registry.New[net.Conn, *peer](cfg.MaxClients),
		chunk:   Chunk(ServiceBlock),
	}
}

// Clients returns the number of trapped connections. Safe for concurrent use.
func (h *HTTP) Clients() int {
	return int(h.count.Load())
}

// MaxClients returns the configured capacity.
func (h *HTTP) MaxClients() int {
	return h.config.MaxClients
}

// Accept implements tcp.Engine. The connection waits for its request line.
func (h *HTTP) Accept(now time.Time, nc net.Conn) bool {
	ip := tcp.RemoteIP(nc)
	if addr, err := netip.ParseAddr(ip); err == nil && h.config.Limiter != nil {
		if err := h.config.Limiter.Admit(addr, now); err != nil {
			h.logger.Debug("UPnP client refused",
				slog.String("remote", ip),
				slog.String("error", err.Error()))
			return false
		}
	}

	c := &peer{
		session: uuid.New().String(),
		conn:    nc,
		ip:      ip,
		buf:     make([]byte, 0, http.MaxRequestLine),
	}
	if err := h.clients.Insert(nc, c); err != nil {
		h.logger.Warn("UPnP client rejected",
			slog.String("remote", ip),
			slog.String("error", err.Error()))
		return false
	}
	if !h.schedule(c, now.Add(h.config.RequestTimeout)) {
		h.clients.Remove(nc)
		return false
	}
	return true
}

// Receive implements tcp.Engine. Input after the request line is discarded.
func (h *HTTP) Receive(now time.Time, nc net.Conn, data []byte) {
	c, ok := h.clients.Find(nc)
	if !ok || c.serving {
		return
	}

	n := min(len(data), cap(c.buf)-len(c.buf))
	c.buf = append(c.buf, data[:n]...)

	rl, err := http.ParseRequestLine(c.buf)
	switch {
	case errors.Is(err, http.ErrIncomplete):
		return
	case err != nil:
		h.logger.Debug("UPnP request rejected",
			slog.String("session", c.session),
			slog.String("error", err.Error()))
		h.sink.Emit(events.New(events.UPnP, events.KindOtherHTTPRequests, "", ""))
		h.drop(c, "malformed request")
		return
	case !rl.Is("GET", DescriptionPath):
		h.sink.Emit(events.New(events.UPnP, events.KindOtherHTTPRequests, rl.Method, rl.Target))
		h.drop(c, "other request")
		return
	}

	msg := append([]byte(ResponseHeader), Chunk(DeviceDescription)...)
	if err := tcp.Write(c.conn, msg, h.config.WriteTimeout); err != nil {
		h.logger.Debug("UPnP description write failed",
			slog.String("session", c.session),
			slog.String("error", err.Error()))
		h.drop(c, "write failed")
		return
	}

	// The request deadline becomes the first chunk.
	if !h.queue.Reschedule(c.entry, now.Add(h.config.Delay)) && !h.schedule(c, now.Add(h.config.Delay)) {
		h.drop(c, "schedule failed")
		return
	}
	c.serving = true
	c.buf = nil
	h.count.Add(1)

	h.logger.Debug("UPnP client trapped",
		slog.String("session", c.session),
		slog.String("remote", c.ip))
	h.sink.Emit(events.New(events.UPnP, events.KindConnect, c.ip))
}

// Closed implements tcp.Engine.
func (h *HTTP) Closed(_ time.Time, nc net.Conn, err error) {
	c, ok := h.clients.Find(nc)
	if !ok {
		return
	}
	reason := "read failed"
	if errors.Is(err, io.EOF) {
		reason = "peer closed"
	}
	h.drop(c, reason)
}

// Tick implements tcp.Engine. Trapped clients get the next service chunk,
// connections still without a request line past their deadline are closed.
func (h *HTTP) Tick(now time.Time) time.Duration {
	for {
		c, ok := h.queue.PopDue(now)
		if !ok {
			break
		}
		if cur, ok := h.clients.Find(c.conn); !ok || cur != c {
			continue
		}
		if !c.serving {
			h.drop(c, "request timeout")
			continue
		}
		h.drip(now, c)
	}

	if wait, ok := h.queue.Until(now); ok {
		return wait
	}
	return -1
}

func (h *HTTP) drip(now time.Time, c *peer) {
	if err := tcp.Write(c.conn, h.chunk, h.config.WriteTimeout); err != nil && !errors.IsTransient(err) {
		h.logger.Debug("UPnP write failed",
			slog.Any("error", errors.New("write", "UPnP", c.session, c.ip, err)))
		h.drop(c, "write failed")
		return
	}
	c.trapped += h.config.Delay
	if !h.schedule(c, now.Add(h.config.Delay)) {
		h.drop(c, "requeue failed")
	}
}

func (h *HTTP) schedule(c *peer, due time.Time) bool {
	entry, err := h.queue.Schedule(c, due)
	if err != nil {
		h.logger.Warn("UPnP schedule failed",
			slog.String("session", c.session),
			slog.String("error", err.Error()))
		return false
	}
	c.entry = entry
	return true
}

// drop closes c. Trapped clients also get a disconnect event.
func (h *HTTP) drop(c *peer, reason string) {
	if _, ok := h.clients.Remove(c.conn); !ok {
		return
	}
	h.queue.Remove(c.entry)
	c.conn.Close()
	if !c.serving {
		h.logger.Debug("UPnP connection closed",
			slog.String("session", c.session),
			slog.String("reason", reason))
		return
	}
	h.count.Add(-1)

	h.logger.Debug("UPnP client released",
		slog.String("session", c.session),
		slog.String("remote", c.ip),
		slog.String("reason", reason),
		slog.Duration("trapped", c.trapped))
	h.sink.Emit(events.New(events.UPnP, events.KindDisconnect,
		c.ip, strconv.FormatInt(c.trapped.Milliseconds(), 10)))
}

// Shutdown implements tcp.Shutdowner.
func (h *HTTP) Shutdown(time.Time) {
	var all []*peer
	h.clients.Range(func(_ net.Conn, c *peer) bool {
		all = append(all, c)
		return true
	})
	for _, c := range all {
		h.drop(c, "shutdown")
	}
}
