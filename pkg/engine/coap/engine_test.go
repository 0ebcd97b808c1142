// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package coap

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/netip"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/absmach/eventhorizon/pkg/events"
	codec "github.com/absmach/eventhorizon/pkg/parser/coap"
	"github.com/absmach/eventhorizon/pkg/ratelimit"
	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/message/pool"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

type datagram struct {
	data []byte
	to   netip.AddrPort
}

type recordingWriter struct {
	sent []datagram
	err  error
}

func (w *recordingWriter) WriteTo(b []byte, addr netip.AddrPort) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	w.sent = append(w.sent, datagram{data: append([]byte(nil), b...), to: addr})
	return len(b), nil
}

func (w *recordingWriter) take() []datagram {
	sent := w.sent
	w.sent = nil
	return sent
}

type recordingSink struct {
	lines []string
}

func (s *recordingSink) Emit(e events.Event) {
	s.lines = append(s.lines, e.String())
}

var peer = netip.MustParseAddrPort("198.51.100.7:40000")

const (
	delay = time.Second
	ackT  = 2 * time.Second
)

func newEngine(sink events.Sink, maxClients int) *Engine {
	return New(Config{
		Delay:         delay,
		AckTimeout:    ackT,
		MaxRetransmit: 4,
		MaxClients:    maxClients,
		Sink:          sink,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func request(t *testing.T, typ message.Type, code codes.Code, mid int32, token []byte) []byte {
	t.Helper()
	msg := pool.NewMessage(context.Background())
	msg.SetType(typ)
	msg.SetCode(code)
	msg.SetMessageID(mid)
	if token != nil {
		msg.SetToken(token)
	}
	data, err := msg.MarshalWithEncoder(coder.DefaultCoder)
	if err != nil {
		t.Fatalf("Failed to marshal request: %v", err)
	}
	return data
}

func decode(t *testing.T, data []byte) *pool.Message {
	t.Helper()
	msg := pool.NewMessage(context.Background())
	if _, err := msg.UnmarshalWithDecoder(coder.DefaultCoder, data); err != nil {
		t.Fatalf("Failed to decode reply % x: %v", data, err)
	}
	return msg
}

func blockNumber(t *testing.T, msg *pool.Message) uint32 {
	t.Helper()
	v, err := msg.Options().GetUint32(message.Block2)
	if err != nil {
		t.Fatalf("Block2 option missing: %v", err)
	}
	if v&0x08 == 0 {
		t.Error("more flag must always be set")
	}
	return v >> 4
}

func TestConfirmableGETScenario(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(sink, 16)
	w := &recordingWriter{}
	t0 := time.Unix(1_700_000_000, 0)

	e.HandleDatagram(w, t0, peer, request(t, message.Confirmable, codes.GET, 1, nil))

	sent := w.take()
	if len(sent) != 1 || !bytes.Equal(sent[0].data, codec.EmptyAck(1)) || sent[0].to != peer {
		t.Fatalf("first reply = %v, want empty ACK for message 1", sent)
	}
	if len(sink.lines) != 1 || sink.lines[0] != "CoAP connect 198.51.100.7\n" {
		t.Fatalf("events = %q", sink.lines)
	}
	if e.Clients() != 1 {
		t.Fatalf("Clients() = %d, want 1", e.Clients())
	}

	if wait := e.Tick(w, t0); wait != delay {
		t.Fatalf("Tick() wait = %v, want %v", wait, delay)
	}

	t1 := t0.Add(delay)
	e.Tick(w, t1)
	sent = w.take()
	if len(sent) != 1 {
		t.Fatalf("tick at t0+delay sent %d datagrams, want 1", len(sent))
	}
	first := decode(t, sent[0].data)
	if first.Type() != message.Confirmable || first.Code() != codes.Content {
		t.Errorf("block reply = %v %v, want CON 2.05", first.Type(), first.Code())
	}
	if n := blockNumber(t, first); n != 0 {
		t.Errorf("first block = %d, want 0", n)
	}

	// No ACK ever arrives: retransmissions at r0, r0+T, r0+3T, r0+7T.
	r0 := t1.Add(delay)
	for i, at := range []time.Duration{0, ackT, 3 * ackT, 7 * ackT} {
		now := r0.Add(at)
		e.Tick(w, now.Add(-time.Millisecond))
		if len(w.sent) != 0 {
			t.Fatalf("retransmission %d sent early", i)
		}
		e.Tick(w, now)
		sent = w.take()
		if len(sent) != 1 {
			t.Fatalf("retransmission %d: sent %d datagrams, want 1", i, len(sent))
		}
		if !bytes.Equal(sent[0].data, codec.BlockResponse(1, nil, 0)) {
			t.Errorf("retransmission %d = % x, want block 0 with message id 1", i, sent[0].data)
		}
	}

	end := r0.Add(15 * ackT)
	e.Tick(w, end)
	if len(w.take()) != 0 {
		t.Error("eviction must not send anything")
	}
	if e.Clients() != 0 {
		t.Fatalf("Clients() = %d after exhaustion, want 0", e.Clients())
	}

	// Trapped time is the backoff series T*(2^4-1), not the wall time since t0.
	trapped := (ackT * (1<<4 - 1)).Milliseconds()
	want := "CoAP disconnect 198.51.100.7 " + strconv.FormatInt(trapped, 10) + "\n"
	if got := sink.lines[len(sink.lines)-1]; got != want {
		t.Errorf("disconnect event = %q, want %q", got, want)
	}
	if wait := e.Tick(w, end); wait >= 0 {
		t.Errorf("Tick() on empty engine = %v, want negative", wait)
	}
}

func TestBackoffSeriesRestartsAfterAck(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(sink, 16)
	w := &recordingWriter{}
	now := time.Unix(0, 0)

	e.HandleDatagram(w, now, peer, request(t, message.NonConfirmable, codes.GET, 1, nil))
	now = now.Add(delay)
	e.Tick(w, now)

	// Two unanswered retransmissions, then the ACK arrives.
	now = now.Add(delay)
	e.Tick(w, now)
	now = now.Add(ackT)
	e.Tick(w, now)
	if len(w.take()) != 3 {
		t.Fatal("want the block and two retransmissions")
	}
	e.HandleDatagram(w, now, peer, []byte{0x60, 0x00, 0x00, 0x01})

	// The next block is never acknowledged.
	now = now.Add(2 * ackT)
	e.Tick(w, now)
	for _, after := range []time.Duration{delay, ackT, 2 * ackT, 4 * ackT, 8 * ackT} {
		now = now.Add(after)
		e.Tick(w, now)
	}
	if e.Clients() != 0 {
		t.Fatalf("Clients() = %d, want 0", e.Clients())
	}
	if last := sink.lines[len(sink.lines)-1]; last != "CoAP disconnect 198.51.100.7 30000\n" {
		t.Errorf("disconnect event = %q, want a single series of 30000ms", last)
	}
}

func TestMaxRetransmitLimit(t *testing.T) {
	e := New(Config{MaxRetransmit: 1000})
	if e.config.MaxRetransmit != MaxRetransmitLimit {
		t.Errorf("MaxRetransmit = %d, want %d", e.config.MaxRetransmit, MaxRetransmitLimit)
	}
	if e.config.AckTimeout<<e.config.MaxRetransmit <= 0 {
		t.Error("largest backoff overflowed")
	}
}

func TestAckAdvancesBlocks(t *testing.T) {
	e := newEngine(nil, 16)
	w := &recordingWriter{}
	now := time.Unix(0, 0)

	e.HandleDatagram(w, now, peer, request(t, message.NonConfirmable, codes.GET, 9, []byte{0xAB}))
	if len(w.take()) != 0 {
		t.Fatal("non-confirmable request must not be acknowledged")
	}

	for want := uint32(0); want < 3; want++ {
		now = now.Add(delay)
		e.Tick(w, now)
		sent := w.take()
		if len(sent) != 1 {
			t.Fatalf("block %d: sent %d datagrams", want, len(sent))
		}
		msg := decode(t, sent[0].data)
		if n := blockNumber(t, msg); n != want {
			t.Errorf("block = %d, want %d", n, want)
		}
		if !bytes.Equal(msg.Token(), []byte{0xAB}) {
			t.Errorf("token = % x, want ab", msg.Token())
		}

		mid := uint16(msg.MessageID())
		e.HandleDatagram(w, now, peer, []byte{0x60, 0x00, byte(mid >> 8), byte(mid)})
	}
}

func TestResetAnswersPing(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(sink, 16)
	w := &recordingWriter{}
	now := time.Unix(0, 0)

	// A client that never asks for content is pinged and answers with RST.
	e.HandleDatagram(w, now, peer, request(t, message.NonConfirmable, codes.POST, 3, nil))
	for i := 0; i < 3; i++ {
		now = now.Add(delay)
		e.Tick(w, now)
		sent := w.take()
		if len(sent) != 1 {
			t.Fatalf("round %d: sent %d datagrams", i, len(sent))
		}
		msg := decode(t, sent[0].data)
		if msg.Type() != message.Confirmable || msg.Code() != codes.Empty {
			t.Fatalf("round %d: got %v %v, want CON ping", i, msg.Type(), msg.Code())
		}
		mid := uint16(msg.MessageID())
		e.HandleDatagram(w, now, peer, []byte{0x70, 0x00, byte(mid >> 8), byte(mid)})
	}
	if e.Clients() != 1 || len(sink.lines) != 1 {
		t.Errorf("client should stay trapped, clients=%d events=%q", e.Clients(), sink.lines)
	}
}

func TestMalformedInput(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(sink, 16)
	w := &recordingWriter{}
	now := time.Unix(0, 0)

	e.HandleDatagram(w, now, peer, []byte{0x40, 0x01, 0x00})
	if len(w.take()) != 0 {
		t.Error("short datagram must be dropped silently")
	}

	e.HandleDatagram(w, now, peer, []byte{0x49, 0x01, 0x12, 0x34, 1, 2, 3, 4, 5, 6, 7, 8, 9})
	sent := w.take()
	if len(sent) != 1 {
		t.Fatalf("bad token length: sent %d datagrams, want 4.00", len(sent))
	}
	if msg := decode(t, sent[0].data); msg.Code() != codes.BadRequest || msg.Type() != message.Acknowledgement {
		t.Errorf("reply = %v %v, want ACK 4.00", msg.Type(), msg.Code())
	}

	e.HandleDatagram(w, now, peer, []byte{0x80, 0x01, 0x00, 0x01})
	if len(w.take()) != 0 {
		t.Error("version 2 must be ignored")
	}

	if e.Clients() != 0 || len(sink.lines) != 0 {
		t.Errorf("malformed input created state: clients=%d events=%q", e.Clients(), sink.lines)
	}
}

func TestCapacity(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(sink, 1)
	w := &recordingWriter{}
	now := time.Unix(0, 0)
	other := netip.MustParseAddrPort("203.0.113.5:5683")

	e.HandleDatagram(w, now, peer, request(t, message.Confirmable, codes.GET, 1, nil))
	e.HandleDatagram(w, now, other, request(t, message.Confirmable, codes.GET, 1, nil))

	sent := w.take()
	if len(sent) != 2 || sent[1].to != other || !bytes.Equal(sent[1].data, codec.EmptyAck(1)) {
		t.Errorf("rejected peer should still get its empty ACK, sent %v", sent)
	}
	if e.Clients() != 1 || len(sink.lines) != 1 {
		t.Errorf("clients=%d events=%q, want only the first peer", e.Clients(), sink.lines)
	}
}

func TestRateLimitedAdmission(t *testing.T) {
	var logs bytes.Buffer
	e := New(Config{
		Delay:         delay,
		AckTimeout:    ackT,
		MaxRetransmit: 4,
		MaxClients:    16,
		Limiter:       ratelimit.NewLimiter[netip.Addr](1, 1, 16),
		Logger:        slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})),
	})
	w := &recordingWriter{}
	now := time.Unix(0, 0)

	e.HandleDatagram(w, now, peer, request(t, message.NonConfirmable, codes.GET, 1, nil))
	second := netip.AddrPortFrom(peer.Addr(), peer.Port()+1)
	e.HandleDatagram(w, now, second, request(t, message.NonConfirmable, codes.GET, 1, nil))

	if e.Clients() != 1 {
		t.Errorf("Clients() = %d, want second port of the same IP refused", e.Clients())
	}
	if !strings.Contains(logs.String(), "rate limit exceeded") {
		t.Errorf("refusal not logged with its cause: %s", logs.String())
	}
}

func TestWriteFailures(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(sink, 16)
	w := &recordingWriter{}
	now := time.Unix(0, 0)

	e.HandleDatagram(w, now, peer, request(t, message.NonConfirmable, codes.GET, 1, nil))

	w.err = syscall.EAGAIN
	now = now.Add(delay)
	if wait := e.Tick(w, now); wait != delay {
		t.Fatalf("transient failure should requeue after delay, wait = %v", wait)
	}
	if e.Clients() != 1 {
		t.Fatal("transient failure must keep the client")
	}

	w.err = nil
	now = now.Add(delay)
	e.Tick(w, now)
	sent := w.take()
	if len(sent) != 1 || blockNumber(t, decode(t, sent[0].data)) != 0 {
		t.Fatal("block 0 should be sent once the socket recovers")
	}

	w.err = syscall.EHOSTUNREACH
	now = now.Add(delay)
	e.Tick(w, now)
	if e.Clients() != 0 {
		t.Fatal("fatal failure must evict the client")
	}
	if last := sink.lines[len(sink.lines)-1]; !strings.HasPrefix(last, "CoAP disconnect 198.51.100.7 ") {
		t.Errorf("last event = %q, want disconnect", last)
	}
}

func TestShutdownReleasesClients(t *testing.T) {
	sink := &recordingSink{}
	e := newEngine(sink, 16)
	w := &recordingWriter{}
	now := time.Unix(0, 0)

	e.HandleDatagram(w, now, peer, request(t, message.NonConfirmable, codes.GET, 1, nil))
	e.Shutdown(w, now.Add(5*time.Second))

	if e.Clients() != 0 {
		t.Errorf("Clients() = %d after Shutdown", e.Clients())
	}
	if last := sink.lines[len(sink.lines)-1]; last != "CoAP disconnect 198.51.100.7 5000\n" {
		t.Errorf("last event = %q", last)
	}
}
