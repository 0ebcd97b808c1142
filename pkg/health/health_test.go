// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthStatus(t *testing.T) {
	cases := []struct {
		desc string
		errs []error
		want Status
	}{
		{desc: "all healthy", errs: []error{nil, nil}, want: StatusHealthy},
		{desc: "one degraded", errs: []error{nil, ErrDegraded}, want: StatusDegraded},
		{desc: "unhealthy wins", errs: []error{ErrDegraded, errors.New("socket gone")}, want: StatusUnhealthy},
	}

	for _, tc := range cases {
		t.Run(tc.desc, func(t *testing.T) {
			c := NewChecker(time.Second)
			for i, err := range tc.errs {
				err := err
				c.Register(string(rune('a'+i)), func(context.Context) error { return err })
			}
			status, checks := c.Health(context.Background())
			if status != tc.want {
				t.Errorf("Health() = %s, want %s", status, tc.want)
			}
			if len(checks) != len(tc.errs) || checks[0].Name != "a" {
				t.Errorf("checks = %+v", checks)
			}
		})
	}
}

func TestHealthCache(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewChecker(10 * time.Second)
	c.now = func() time.Time { return now }

	runs := 0
	c.Register("counted", func(context.Context) error {
		runs++
		return nil
	})

	c.Health(context.Background())
	now = now.Add(5 * time.Second)
	c.Health(context.Background())
	if runs != 1 {
		t.Errorf("check ran %d times within the TTL, want 1", runs)
	}

	now = now.Add(5 * time.Second)
	c.Health(context.Background())
	if runs != 2 {
		t.Errorf("check ran %d times after the TTL, want 2", runs)
	}
}

func TestCapacityCheck(t *testing.T) {
	clients := 3
	check := CapacityCheck(func() int { return clients }, 4)

	if err := check(context.Background()); err != nil {
		t.Errorf("below capacity: %v", err)
	}
	clients = 4
	if err := check(context.Background()); !errors.Is(err, ErrDegraded) {
		t.Errorf("at capacity: err = %v, want ErrDegraded", err)
	}
}

func TestHandlers(t *testing.T) {
	c := NewChecker(time.Second)
	c.Register("coap", CapacityCheck(func() int { return 8 }, 8))
	srv := httptest.NewServer(c.Mux())
	defer srv.Close()

	cases := []struct {
		path string
		code int
		want string
	}{
		{path: "/health", code: http.StatusOK, want: string(StatusDegraded)},
		{path: "/ready", code: http.StatusServiceUnavailable, want: string(StatusDegraded)},
		{path: "/live", code: http.StatusOK, want: "alive"},
	}

	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tc.path, err)
		}
		var body struct {
			Status string `json:"status"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("GET %s: bad body: %v", tc.path, err)
		}
		if resp.StatusCode != tc.code || body.Status != tc.want {
			t.Errorf("GET %s = %d %q, want %d %q", tc.path, resp.StatusCode, body.Status, tc.code, tc.want)
		}
	}
}
