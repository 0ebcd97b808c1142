// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"testing"
	"time"

	"github.com/absmach/eventhorizon"
	"github.com/caarlos0/env/v11"
)

func defaults(t *testing.T) eventhorizon.Config {
	t.Helper()
	cfg, err := eventhorizon.NewConfig(env.Options{Prefix: envPrefix, Environment: map[string]string{}})
	if err != nil {
		t.Fatalf("NewConfig() error = %v", err)
	}
	return cfg
}

func TestParseArgsDefaultsToAll(t *testing.T) {
	cfg := defaults(t)
	cfg.Telnet.Enabled = false

	cmd, err := parseArgs(nil, &cfg)
	if err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if cmd != cmdAll {
		t.Errorf("command = %q, want %q", cmd, cmdAll)
	}
	if !cfg.CoAP.Enabled || !cfg.MQTT.Enabled || cfg.Telnet.Enabled || !cfg.UPnP.Enabled {
		t.Errorf("enabled flags changed: coap=%v mqtt=%v telnet=%v upnp=%v",
			cfg.CoAP.Enabled, cfg.MQTT.Enabled, cfg.Telnet.Enabled, cfg.UPnP.Enabled)
	}
}

func TestParseArgsCoAP(t *testing.T) {
	cfg := defaults(t)

	if _, err := parseArgs([]string{"coap", "5684", "500", "1000", "2", "64"}, &cfg); err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if cfg.CoAP.Port != "5684" || cfg.CoAP.Delay != 500*time.Millisecond || cfg.CoAP.AckTimeout != time.Second ||
		cfg.CoAP.MaxRetransmit != 2 || cfg.CoAP.MaxClients != 64 {
		t.Errorf("CoAP = %+v", cfg.CoAP)
	}
	if !cfg.CoAP.Enabled || cfg.MQTT.Enabled || cfg.Telnet.Enabled || cfg.UPnP.Enabled {
		t.Error("only CoAP should be enabled")
	}
}

func TestParseArgsPartial(t *testing.T) {
	cfg := defaults(t)

	if _, err := parseArgs([]string{"mqtt", "1884"}, &cfg); err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if cfg.MQTT.Port != "1884" {
		t.Errorf("port = %q, want 1884", cfg.MQTT.Port)
	}
	if cfg.MQTT.PubrelInterval != 10*time.Second || cfg.MQTT.MaxPackets != 50 || cfg.MQTT.MaxClients != 4096 {
		t.Errorf("MQTT defaults lost: %+v", cfg.MQTT)
	}
}

func TestParseArgsTelnetAndUPnP(t *testing.T) {
	cfg := defaults(t)
	if _, err := parseArgs([]string{"telnet", "2222", "2000", "8"}, &cfg); err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if cfg.Telnet.Port != "2222" || cfg.Telnet.Delay != 2*time.Second || cfg.Telnet.MaxClients != 8 {
		t.Errorf("Telnet = %+v", cfg.Telnet)
	}

	cfg = defaults(t)
	if _, err := parseArgs([]string{"upnp", "8081", "1901", "3000", "16"}, &cfg); err != nil {
		t.Fatalf("parseArgs() error = %v", err)
	}
	if cfg.UPnP.HTTPPort != "8081" || cfg.UPnP.SSDPPort != "1901" || cfg.UPnP.Delay != 3*time.Second || cfg.UPnP.MaxClients != 16 {
		t.Errorf("UPnP = %+v", cfg.UPnP)
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"ssh"}},
		{"not a number", []string{"telnet", "2323", "soon"}},
		{"too many args", []string{"telnet", "2323", "1", "2", "3"}},
		{"retransmit overflow", []string{"coap", "5683", "1000", "2000", "64"}},
		{"negative retransmit", []string{"coap", "5683", "1000", "2000", "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults(t)
			if _, err := parseArgs(tt.args, &cfg); err == nil {
				t.Errorf("parseArgs(%v) error = nil, want error", tt.args)
			}
		})
	}
}

func TestNewLimiter(t *testing.T) {
	if l := newLimiter(eventhorizon.RateLimitConfig{}); l != nil {
		t.Error("zero capacity should disable the limiter")
	}
	if l := newLimiter(eventhorizon.RateLimitConfig{Capacity: 1, Refill: 1, MaxKeys: 4}); l == nil {
		t.Error("newLimiter() = nil, want limiter")
	}
}
