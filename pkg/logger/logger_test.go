// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "warn", Format: "json", Output: &buf})

	l.Info("dropped")
	l.Warn("kept", slog.String("client", "192.0.2.1"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if rec["msg"] != "kept" || rec["client"] != "192.0.2.1" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: "debug", Output: &buf})

	l.Debug("hello", slog.Int("clients", 3))

	if got := buf.String(); !strings.Contains(got, "msg=hello") || !strings.Contains(got, "clients=3") {
		t.Errorf("unexpected output: %q", got)
	}
}

func TestFileOutput(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "tarpit.log")
	l := New(Options{Format: "json", File: path, MaxSize: 1, Output: &buf})

	l.Info("to both")
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !bytes.Equal(data, buf.Bytes()) {
		t.Errorf("file = %q, stdout = %q", data, buf.Bytes())
	}
}

func TestCloseWithoutFile(t *testing.T) {
	l := New(Options{Output: &bytes.Buffer{}})
	if err := l.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
