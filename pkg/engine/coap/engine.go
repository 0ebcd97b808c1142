// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"log/slog"
	"net/netip"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/absmach/eventhorizon/pkg/errors"
	"github.com/absmach/eventhorizon/pkg/events"
	codec "github.com/absmach/eventhorizon/pkg/parser/coap"
	"github.com/absmach/eventhorizon/pkg/ratelimit"
	"github.com/absmach/eventhorizon/pkg/registry"
	"github.com/absmach/eventhorizon/pkg/sched"
	"github.com/absmach/eventhorizon/pkg/server/udp"
	"github.com/google/uuid"
	"github.com/plgd-dev/go-coap/v3/message"
)

const (
	DefaultDelay         = time.Second
	DefaultAckTimeout    = 2 * time.Second
	DefaultMaxRetransmit = 4
	DefaultMaxClients    = 4096

	// MaxRetransmitLimit bounds MaxRetransmit so the backoff shift stays in
	// range of time.Duration.
	MaxRetransmitLimit = 20
)

// Config holds the CoAP engine configuration.
type Config struct {
	// Delay separates two Block2 fragments sent to a settled client.
	Delay time.Duration

	// AckTimeout is the base of the retransmission backoff.
	AckTimeout time.Duration

	// MaxRetransmit is the number of unanswered retransmissions before a
	// client is dropped.
	MaxRetransmit int

	// MaxClients bounds the number of trapped peers.
	MaxClients int

	// Limiter, if set, admits new peers per source IP.
	Limiter *ratelimit.Limiter[netip.Addr]

	Sink   events.Sink
	Logger *slog.Logger
}

type client struct {
	session     string
	addr        netip.AddrPort
	token       []byte
	messageID   uint16
	block       uint32
	lastID      uint16
	lastBlock   uint32
	acked       bool
	reset       bool
	deliverNext bool
	retransmits int
	backoff     time.Duration // sum of the current retransmission series
	connectedAt time.Time
}

// Engine is the CoAP tarpit state machine. It implements udp.Engine and must
// only be driven by one goroutine.
type Engine struct {
	config  Config
	sink    events.Sink
	logger  *slog.Logger
	queue   *sched.Queue[*client]
	clients *registry.Registry[netip.AddrPort, *client]
	count   atomic.Int64
}

var (
	_ udp.Engine     = (*Engine)(nil)
	_ udp.Shutdowner = (*Engine)(nil)
)

// New creates a CoAP engine.
func New(cfg Config) *Engine {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.MaxRetransmit < 0 {
		cfg.MaxRetransmit = DefaultMaxRetransmit
	}
	if cfg.MaxRetransmit > MaxRetransmitLimit {
		cfg.MaxRetransmit = MaxRetransmitLimit
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
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
		clients: registry.New[netip.AddrPort, *client](cfg.MaxClients),
	}
}

// Clients returns the number of trapped peers. Safe for concurrent use.
func (e *Engine) Clients() int {
	return int(e.count.Load())
}

// MaxClients returns the configured capacity.
func (e *Engine) MaxClients() int {
	return e.config.MaxClients
}

// HandleDatagram implements udp.Engine.
func (e *Engine) HandleDatagram(w udp.Writer, now time.Time, from netip.AddrPort, data []byte) {
	h, err := codec.Decode(data)
	switch {
	case errors.Is(err, codec.ErrTooShort):
		return
	case errors.Is(err, codec.ErrTokenLength):
		e.write(w, from, codec.BadRequest(h))
		return
	case errors.Is(err, codec.ErrVersion):
		return
	}

	c, ok := e.clients.Find(from)
	if !ok {
		c = e.admit(now, from, h.Token)
	}

	if c != nil {
		switch {
		case h.Type == message.Reset:
			c.reset = true
		case h.Type == message.Acknowledgement:
			c.acked = true
			c.retransmits = 0
			c.backoff = 0
		case h.IsGET():
			c.deliverNext = true
		}
	}

	if h.Type == message.Confirmable {
		e.write(w, from, codec.EmptyAck(h.MessageID))
	}
}

func (e *Engine) admit(now time.Time, from netip.AddrPort, token []byte) *client {
	if e.config.Limiter != nil {
		if err := e.config.Limiter.Admit(from.Addr(), now); err != nil {
			e.logger.Debug("CoAP client refused",
				slog.String("remote", from.String()),
				slog.String("error", err.Error()))
			return nil
		}
	}

	c := &client{
		session:     uuid.New().String(),
		addr:        from,
		token:       token,
		messageID:   1,
		acked:       true,
		reset:       true,
		connectedAt: now,
	}
	entry, err := e.queue.Schedule(c, now.Add(e.config.Delay))
	if err != nil {
		e.logger.Warn("CoAP client rejected",
			slog.String("remote", from.String()),
			slog.String("error", err.Error()))
		return nil
	}
	if err := e.clients.Insert(from, c); err != nil {
		e.queue.Remove(entry)
		e.logger.Warn("CoAP client rejected",
			slog.String("remote", from.String()),
			slog.String("error", err.Error()))
		return nil
	}
	e.count.Add(1)

	e.logger.Debug("CoAP client trapped",
		slog.String("session", c.session),
		slog.String("remote", from.String()))
	e.sink.Emit(events.New(events.CoAP, events.KindConnect, from.Addr().String()))
	return c
}

// Tick implements udp.Engine. It serves every client due at now.
func (e *Engine) Tick(w udp.Writer, now time.Time) time.Duration {
	for {
		c, ok := e.queue.PopDue(now)
		if !ok {
			break
		}
		if cur, ok := e.clients.Find(c.addr); !ok || cur != c {
			continue
		}
		e.serve(w, now, c)
	}

	if wait, ok := e.queue.Until(now); ok {
		return wait
	}
	return -1
}

func (e *Engine) serve(w udp.Writer, now time.Time, c *client) {
	if !c.acked || !c.reset {
		if c.retransmits >= e.config.MaxRetransmit {
			e.evict(c, "retransmissions exhausted", c.backoff)
			return
		}

		var msg []byte
		if !c.acked {
			msg = codec.BlockResponse(c.lastID, c.token, c.lastBlock)
		} else {
			msg = codec.Ping(c.lastID)
		}
		backoff := e.config.AckTimeout << c.retransmits
		if !e.send(w, now, c, msg) {
			return
		}
		c.retransmits++
		c.backoff += backoff
		e.requeue(now, c, backoff)
		return
	}

	switch {
	case c.deliverNext:
		if !e.send(w, now, c, codec.BlockResponse(c.messageID, c.token, c.block)) {
			return
		}
		c.lastBlock = c.block
		c.block = codec.NextBlock(c.block)
		c.acked = false
	case c.reset:
		if !e.send(w, now, c, codec.Ping(c.messageID)) {
			return
		}
		c.reset = false
	}
	c.lastID = c.messageID
	c.messageID++
	e.requeue(now, c, e.config.Delay)
}

// send writes msg and reports whether the caller should go on updating c.
// A transient failure requeues c unchanged; a fatal one evicts it.
func (e *Engine) send(w udp.Writer, now time.Time, c *client, msg []byte) bool {
	_, err := w.WriteTo(msg, c.addr)
	if err == nil {
		return true
	}
	if errors.IsTransient(err) {
		e.logger.Debug("CoAP write would block",
			slog.String("session", c.session),
			slog.String("error", err.Error()))
		e.requeue(now, c, e.config.Delay)
		return false
	}
	e.logger.Debug("CoAP write failed",
		slog.Any("error", errors.New("write", "CoAP", c.session, c.addr.String(), err)))
	e.evict(c, "write failed", now.Sub(c.connectedAt))
	return false
}

func (e *Engine) requeue(now time.Time, c *client, after time.Duration) {
	if err := e.queue.Push(c, now.Add(after)); err != nil {
		e.logger.Error("CoAP requeue failed",
			slog.String("session", c.session),
			slog.String("error", err.Error()))
		e.evict(c, "requeue failed", now.Sub(c.connectedAt))
	}
}

// evict releases c. A client that ran out of retransmissions reports the
// length of its backoff series as trapped time, any other release the time
// since its first datagram.
func (e *Engine) evict(c *client, reason string, trapped time.Duration) {
	if _, ok := e.clients.Remove(c.addr); !ok {
		return
	}
	e.count.Add(-1)

	e.logger.Debug("CoAP client released",
		slog.String("session", c.session),
		slog.String("remote", c.addr.String()),
		slog.String("reason", reason),
		slog.Duration("trapped", trapped))
	e.sink.Emit(events.New(events.CoAP, events.KindDisconnect,
		c.addr.Addr().String(), strconv.FormatInt(trapped.Milliseconds(), 10)))
}

// Shutdown implements udp.Shutdowner by releasing every client.
func (e *Engine) Shutdown(w udp.Writer, now time.Time) {
	var all []*client
	e.clients.Range(func(_ netip.AddrPort, c *client) bool {
		all = append(all, c)
		return true
	})
	for _, c := range all {
		e.evict(c, "shutdown", now.Sub(c.connectedAt))
	}
}

func (e *Engine) write(w udp.Writer, to netip.AddrPort, msg []byte) {
	if _, err := w.WriteTo(msg, to); err != nil {
		e.logger.Debug("CoAP reply failed",
			slog.String("remote", to.String()),
			slog.String("error", err.Error()))
	}
}
