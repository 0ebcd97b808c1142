// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package notify

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/eventhorizon/pkg/events"
	"github.com/absmach/eventhorizon/pkg/health"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func listen(t *testing.T) (*net.UnixConn, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "collector.sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		t.Fatalf("Failed to listen on %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn, path
}

func TestSenderDeliversLines(t *testing.T) {
	conn, path := listen(t)

	s := New(Config{Socket: path})
	defer s.Close()

	s.Emit(events.New(events.MQTT, events.KindSubscribe, "a b", "1"))
	s.Emit(events.New(events.CoAP, events.KindDisconnect, "192.0.2.9", "30000"))

	want := []string{"MQTT SUBSCRIBE a_b 1\n", "CoAP disconnect 192.0.2.9 30000\n"}
	buf := make([]byte, 512)
	for _, w := range want {
		if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			t.Fatalf("SetReadDeadline: %v", err)
		}
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if got := string(buf[:n]); got != w {
			t.Errorf("datagram = %q, want %q", got, w)
		}
	}
}

func TestSenderWithoutCollector(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sock")
	s := New(Config{Socket: path, MaxFailures: 1, ResetTimeout: time.Hour})
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.Emit(events.New(events.Telnet, events.KindConnect, "192.0.2.1"))
	}
	if state := s.breaker.State(); state.String() != "open" {
		t.Errorf("breaker state = %v, want open", state)
	}
}

func TestSenderCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.sock")
	s := New(Config{Socket: path, MaxFailures: 1, ResetTimeout: time.Hour})
	defer s.Close()

	if err := s.Check(context.Background()); err != nil {
		t.Fatalf("Check() before failures = %v, want nil", err)
	}
	s.Emit(events.New(events.MQTT, events.KindConnect, "192.0.2.1"))
	s.Emit(events.New(events.MQTT, events.KindConnect, "192.0.2.1"))

	err := s.Check(context.Background())
	if !errors.Is(err, health.ErrDegraded) {
		t.Errorf("Check() = %v, want %v", err, health.ErrDegraded)
	}
}
