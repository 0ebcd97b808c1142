// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mqtt

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
	codec "github.com/absmach/eventhorizon/pkg/parser/mqtt"
	"github.com/absmach/eventhorizon/pkg/ratelimit"
	"github.com/absmach/eventhorizon/pkg/registry"
	"github.com/absmach/eventhorizon/pkg/server/tcp"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"
)

const (
	DefaultPubrelInterval = 10 * time.Second
	DefaultMaxPackets     = 50
	DefaultMaxClients     = 4096
	DefaultBufferSize     = 1024
	DefaultWriteTimeout   = 100 * time.Millisecond
)

// Decoy publishes.
const (
	CredentialsTopic    = "$SYS/credentials"
	CredentialsPayload  = "username=admin password=admin"
	ConfidentialTopic   = "$SYS/confidential"
	ConfidentialPayload = "username=admin123 password=admin321"
)

// keepAliveGrace is the idle allowance, in tenths of the keep-alive.
const keepAliveGrace = 14

const (
	// maxPending bounds the replies held back for a client whose socket
	// would block.
	maxPending = 8

	// pendingRetry is how soon held back replies are retried.
	pendingRetry = 100 * time.Millisecond
)

// Config holds the MQTT engine configuration.
type Config struct {
	// PubrelInterval is the longest a client goes without a PUBREL.
	PubrelInterval time.Duration

	// MaxPackets bounds the packets decoded per read.
	MaxPackets int

	// MaxClients bounds the number of trapped connections.
	MaxClients int

	// BufferSize is the per-client reassembly buffer. A client that fills it
	// without completing a packet is dropped.
	BufferSize int

	// WriteTimeout is the write deadline of every reply.
	WriteTimeout time.Duration

	// Limiter, if set, admits new connections per source IP.
	Limiter *ratelimit.Limiter[netip.Addr]

	Sink   events.Sink
	Logger *slog.Logger
}

type client struct {
	session      string
	conn         net.Conn
	ip           string
	buf          []byte
	version      codec.Version
	keepAlive    time.Duration
	connectedAt  time.Time
	lastActivity time.Time
	lastPubrel   time.Time
	pending      [][]byte
	gone         bool
}

// Engine is the MQTT tarpit state machine. It implements tcp.Engine and must
// only be driven by one goroutine.
type Engine struct {
	config  Config
	sink    events.Sink
	logger  *slog.Logger
	clients *registry.Registry[net.Conn, *client]
	count   atomic.Int64
	frames  []codec.Frame
}

var (
	_ tcp.Engine     = (*Engine)(nil)
	_ tcp.Shutdowner = (*Engine)(nil)
)

// New creates an MQTT engine.
func New(cfg Config) *Engine {
	if cfg.PubrelInterval <= 0 {
		cfg.PubrelInterval = DefaultPubrelInterval
	}
	if cfg.MaxPackets <= 0 {
		cfg.MaxPackets = DefaultMaxPackets
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = DefaultMaxClients
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
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

	return &Engine{
		config:  cfg,
		sink:    cfg.Sink,
		logger:  cfg.Logger,
		clients: registry.New[net.Conn, *client](cfg.MaxClients),
		frames:  make([]codec.Frame, 0, cfg.MaxPackets),
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
			e.logger.Debug("MQTT client refused",
				slog.String("remote", ip),
				slog.String("error", err.Error()))
			return false
		}
	}

	c := &client{
		session:      uuid.New().String(),
		conn:         conn,
		ip:           ip,
		buf:          make([]byte, 0, e.config.BufferSize),
		connectedAt:  now,
		lastActivity: now,
		lastPubrel:   now,
	}
	if err := e.clients.Insert(conn, c); err != nil {
		e.logger.Warn("MQTT client rejected",
			slog.String("remote", ip),
			slog.String("error", err.Error()))
		return false
	}
	e.count.Add(1)

	e.logger.Debug("MQTT client trapped",
		slog.String("session", c.session),
		slog.String("remote", ip))
	e.sink.Emit(events.New(events.MQTT, events.KindConnect, ip))
	return true
}

// Receive implements tcp.Engine. Complete packets are dispatched in arrival
// order and an incomplete tail is kept for the next read.
func (e *Engine) Receive(now time.Time, conn net.Conn, data []byte) {
	c, ok := e.clients.Find(conn)
	if !ok {
		return
	}
	if len(c.buf)+len(data) > cap(c.buf) {
		e.evict(now, c, "receive buffer overflow")
		return
	}
	c.buf = append(c.buf, data...)

	frames, consumed, err := codec.Split(c.buf, e.config.MaxPackets, e.frames[:0])
	e.frames = frames
	for _, f := range frames {
		e.dispatch(now, c, f, f.Body(c.buf))
		if c.gone {
			return
		}
	}
	if err != nil {
		e.logger.Debug("MQTT framing failed",
			slog.String("session", c.session),
			slog.String("error", err.Error()))
		e.evict(now, c, "malformed remaining length")
		return
	}
	c.buf = c.buf[:copy(c.buf, c.buf[consumed:])]
}

func (e *Engine) dispatch(now time.Time, c *client, f codec.Frame, body []byte) {
	c.lastActivity = now

	switch f.Type {
	case packets.Connect:
		e.connect(now, c, body)

	case packets.Subscribe:
		sub, err := codec.ParseSubscribe(body, c.version)
		if err != nil {
			e.malformed(c, f, err)
			return
		}
		e.sink.Emit(events.New(events.MQTT, events.KindSubscribe, sub.Topic, strconv.Itoa(int(sub.QoS))))

	case packets.Publish:
		pub, err := codec.ParsePublish(f.Flags, body, c.version)
		if err != nil {
			e.malformed(c, f, err)
			return
		}
		e.sink.Emit(events.New(events.MQTT, events.KindPublish, pub.Topic, strconv.Itoa(int(pub.QoS))))

	case packets.Pubrec:
		rec, err := codec.ParsePubrec(body, c.version)
		if err != nil {
			e.malformed(c, f, err)
			return
		}
		if rec.ReasonString != "" {
			e.logger.Debug("MQTT PUBREC reason",
				slog.String("session", c.session),
				slog.String("reason", rec.ReasonString))
		}
		e.sink.Emit(events.New(events.MQTT, events.KindPubrec))

	case packets.Pubcomp:
		e.write(now, c, codec.PublishQoS2(c.version, ConfidentialTopic, ConfidentialPayload, codec.DecoyPacketID))

	case packets.Unsubscribe:
		_, topics, err := codec.ParseUnsubscribe(body, c.version)
		for _, topic := range topics {
			e.sink.Emit(events.New(events.MQTT, events.KindUnsubscribe, topic))
		}
		if err != nil {
			e.malformed(c, f, err)
		}

	case packets.Pingreq:
		e.write(now, c, codec.Pingresp())

	case packets.Disconnect:
		e.evict(now, c, "client disconnected")

	default:
		e.logger.Debug("MQTT packet ignored",
			slog.String("session", c.session),
			slog.String("type", f.Name()))
	}
}

func (e *Engine) connect(now time.Time, c *client, body []byte) {
	pkt, rc := codec.ParseConnect(body)
	if pkt.Version != codec.VersionUnknown {
		c.version = pkt.Version
		e.sink.Emit(events.New(events.MQTT, events.KindConnectVersion, pkt.Version.String()))
	}

	if rc == codec.Accepted {
		c.keepAlive = time.Duration(pkt.KeepAlive) * time.Second
		e.logger.Debug("MQTT CONNECT",
			slog.String("session", c.session),
			slog.String("client_id", pkt.ClientID),
			slog.String("version", pkt.Version.String()))
		e.sink.Emit(events.New(events.MQTT, events.KindCredentials, pkt.Username, pkt.Password))
	} else {
		e.logger.Debug("MQTT CONNECT refused",
			slog.String("session", c.session),
			slog.Int("reason", int(rc)))
		e.sink.Emit(events.New(events.MQTT, events.KindMalformedConnect))
	}

	if !e.write(now, c, codec.Connack(c.version, rc)) {
		// Evicted.
		return
	}
	e.sink.Emit(events.New(events.MQTT, events.KindConnack))

	if rc == codec.Accepted {
		e.write(now, c, codec.PublishQoS2(c.version, CredentialsTopic, CredentialsPayload, codec.DecoyPacketID))
	}
}

func (e *Engine) malformed(c *client, f codec.Frame, err error) {
	e.logger.Debug("MQTT packet malformed",
		slog.String("session", c.session),
		slog.String("type", f.Name()),
		slog.String("error", err.Error()))
}

// write sends b, or holds it back behind earlier replies or a socket that
// would block. It reports false once a fatal failure has evicted c.
func (e *Engine) write(now time.Time, c *client, b []byte) bool {
	if len(c.pending) > 0 {
		e.hold(c, b)
		return true
	}
	err := tcp.Write(c.conn, b, e.config.WriteTimeout)
	switch {
	case err == nil:
		return true
	case errors.IsTransient(err):
		e.logger.Debug("MQTT write would block",
			slog.String("session", c.session),
			slog.String("error", err.Error()))
		e.hold(c, b)
		return true
	}
	e.logger.Debug("MQTT write failed",
		slog.Any("error", errors.New("write", "MQTT", c.session, c.ip, err)))
	e.evict(now, c, "write failed")
	return false
}

func (e *Engine) hold(c *client, b []byte) {
	if len(c.pending) >= maxPending {
		e.logger.Debug("MQTT reply dropped",
			slog.String("session", c.session),
			slog.Int("pending", len(c.pending)))
		return
	}
	c.pending = append(c.pending, b)
}

// flush retries held back replies in order until one would block again.
func (e *Engine) flush(now time.Time, c *client) {
	for len(c.pending) > 0 {
		err := tcp.Write(c.conn, c.pending[0], e.config.WriteTimeout)
		switch {
		case err == nil:
			c.pending[0] = nil
			c.pending = c.pending[1:]
		case errors.IsTransient(err):
			return
		default:
			e.logger.Debug("MQTT write failed",
				slog.Any("error", errors.New("write", "MQTT", c.session, c.ip, err)))
			e.evict(now, c, "write failed")
			return
		}
	}
	c.pending = nil
}

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
	e.evict(now, c, reason)
}

// Tick implements tcp.Engine. It sweeps every client and sends a PUBREL to
// those whose PUBREL interval or keep-alive allowance has run out.
func (e *Engine) Tick(now time.Time) time.Duration {
	var held, due []*client
	e.clients.Range(func(_ net.Conn, c *client) bool {
		if len(c.pending) > 0 {
			held = append(held, c)
		}
		if e.watchdogDue(now, c) {
			due = append(due, c)
		}
		return true
	})

	for _, c := range held {
		e.flush(now, c)
	}
	for _, c := range due {
		if c.gone {
			continue
		}
		// Timers restart even if the write would block.
		e.write(now, c, codec.Pubrel(c.version, codec.DecoyPacketID))
		c.lastPubrel = now
		c.lastActivity = now
	}

	wait := time.Duration(-1)
	e.clients.Range(func(_ net.Conn, c *client) bool {
		d := e.watchdogDeadline(c).Sub(now)
		if len(c.pending) > 0 {
			d = min(d, pendingRetry)
		}
		if wait < 0 || d < wait {
			wait = max(d, 0)
		}
		return true
	})
	return wait
}

func (e *Engine) watchdogDue(now time.Time, c *client) bool {
	// An allowance that has exactly elapsed counts as exceeded.
	return !now.Before(e.watchdogDeadline(c))
}

func (e *Engine) watchdogDeadline(c *client) time.Time {
	deadline := c.lastPubrel.Add(e.config.PubrelInterval)
	if c.keepAlive > 0 {
		if idle := c.lastActivity.Add(c.keepAlive * keepAliveGrace / 10); idle.Before(deadline) {
			deadline = idle
		}
	}
	return deadline
}

func (e *Engine) evict(now time.Time, c *client, reason string) {
	if _, ok := e.clients.Remove(c.conn); !ok {
		return
	}
	e.count.Add(-1)
	c.gone = true
	c.conn.Close()

	trapped := now.Sub(c.connectedAt)
	e.logger.Debug("MQTT client released",
		slog.String("session", c.session),
		slog.String("remote", c.ip),
		slog.String("reason", reason),
		slog.Duration("trapped", trapped))
	e.sink.Emit(events.New(events.MQTT, events.KindDisconnect,
		c.ip, strconv.FormatInt(trapped.Milliseconds(), 10)))
}

// Shutdown implements tcp.Shutdowner by releasing every client.
func (e *Engine) Shutdown(now time.Time) {
	var all []*client
	e.clients.Range(func(_ net.Conn, c *client) bool {
		all = append(all, c)
		return true
	})
	for _, c := range all {
		e.evict(now, c, "shutdown")
	}
}
