// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pit

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestMQTTCapacity(t *testing.T) {
	p, err := NewMQTT(MQTTConfig{Port: "0", MaxClients: 10, Logger: discard})
	if err != nil {
		t.Fatalf("NewMQTT() error = %v", err)
	}
	if p.MaxClients() != 10 {
		t.Errorf("MaxClients() = %d, want 10", p.MaxClients())
	}

	p, err = NewMQTT(MQTTConfig{Port: "0", WSPort: "0", MaxClients: 10, Logger: discard})
	if err != nil {
		t.Fatalf("NewMQTT() error = %v", err)
	}
	if p.MaxClients() != 20 || p.Clients() != 0 {
		t.Errorf("MaxClients() = %d Clients() = %d, want 20 and 0", p.MaxClients(), p.Clients())
	}
}

func TestNewUPnPInvalidPort(t *testing.T) {
	if _, err := NewUPnP(UPnPConfig{HTTPPort: "http", AdvertiseHost: "10.0.0.1", Logger: discard}); err == nil {
		t.Error("NewUPnP() accepted a non-numeric port")
	}
}

func TestListenPortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	defer l.Close()
	port := strconv.Itoa(l.Addr().(*net.TCPAddr).Port)

	telnetPit, err := NewTelnet(TelnetConfig{Host: "127.0.0.1", Port: port, Logger: discard})
	if err != nil {
		t.Fatalf("NewTelnet() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telnetPit.Listen(ctx); err == nil {
		t.Error("Listen() on a busy port returned nil")
	}
}

func TestCoAPListenStops(t *testing.T) {
	coapPit, err := NewCoAP(CoAPConfig{Host: "127.0.0.1", Port: "0", Logger: discard})
	if err != nil {
		t.Fatalf("NewCoAP() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- coapPit.Listen(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Listen() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Listen() did not return after cancel")
	}
}
