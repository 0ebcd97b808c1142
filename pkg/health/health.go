// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package health provides health check and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status represents the health status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// ErrDegraded marks a check failure that leaves the service usable.
var ErrDegraded = errors.New("degraded")

// Check represents a single health check.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// CheckFunc is a function that performs a health check. An error wrapping
// ErrDegraded reports StatusDegraded, any other error StatusUnhealthy.
type CheckFunc func(ctx context.Context) error

// Checker manages health checks.
type Checker struct {
	mu     sync.Mutex
	checks map[string]CheckFunc
	cache  map[string]*Check
	ttl    time.Duration
	now    func() time.Time
}

// NewChecker creates a new health checker.
func NewChecker(cacheTTL time.Duration) *Checker {
	if cacheTTL == 0 {
		cacheTTL = 10 * time.Second
	}
	return &Checker{
		checks: make(map[string]CheckFunc),
		cache:  make(map[string]*Check),
		ttl:    cacheTTL,
		now:    time.Now,
	}
}

// Register adds a health check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
	delete(c.cache, name)
}

// Health runs every check not cached within the TTL and returns the worst
// status with the individual results sorted by name.
func (c *Checker) Health(ctx context.Context) (Status, []Check) {
	c.mu.Lock()
	defer c.mu.Unlock()

	checks := make([]Check, 0, len(c.checks))
	overall := StatusHealthy

	for name, fn := range c.checks {
		check, ok := c.cache[name]
		if !ok || c.now().Sub(check.LastChecked) >= c.ttl {
			check = c.run(ctx, name, fn)
			c.cache[name] = check
		}
		checks = append(checks, *check)
		overall = worst(overall, check.Status)
	}

	sort.Slice(checks, func(i, j int) bool { return checks[i].Name < checks[j].Name })
	return overall, checks
}

func (c *Checker) run(ctx context.Context, name string, fn CheckFunc) *Check {
	start := c.now()
	err := fn(ctx)
	check := &Check{
		Name:        name,
		Status:      StatusHealthy,
		LastChecked: c.now(),
	}
	check.Duration = check.LastChecked.Sub(start)

	switch {
	case err == nil:
	case errors.Is(err, ErrDegraded):
		check.Status = StatusDegraded
		check.Message = err.Error()
	default:
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	return check
}

var severity = map[Status]int{
	StatusHealthy:   0,
	StatusDegraded:  1,
	StatusUnhealthy: 2,
}

func worst(a, b Status) Status {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// CapacityCheck reports degraded while count() has reached limit, so an
// orchestrator can see a pit that turns new clients away.
func CapacityCheck(count func() int, limit int) CheckFunc {
	return func(context.Context) error {
		if n := count(); limit > 0 && n >= limit {
			return fmt.Errorf("%w: %d of %d clients trapped", ErrDegraded, n, limit)
		}
		return nil
	}
}

// HTTPHandler returns an HTTP handler for health checks.
func (c *Checker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, checks := c.Health(ctx)
		code := http.StatusOK
		if status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status": status,
			"checks": checks,
		})
	}
}

// ReadinessHandler returns a readiness probe handler. Only a healthy
// service is ready.
func (c *Checker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status, checks := c.Health(ctx)
		code := http.StatusOK
		if status != StatusHealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{
			"status": status,
			"checks": checks,
		})
	}
}

// LivenessHandler returns a simple liveness probe.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
		})
	}
}

// Mux registers /health, /ready and /live on a new ServeMux.
func (c *Checker) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", c.HTTPHandler())
	mux.HandleFunc("/ready", c.ReadinessHandler())
	mux.HandleFunc("/live", LivenessHandler())
	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
