// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit admits new clients through per-source token buckets.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/absmach/eventhorizon/pkg/errors"
)

// TokenBucket implements the token bucket algorithm. The caller supplies the
// clock on every call so tests and event loops stay deterministic.
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewTokenBucket creates a full token bucket.
// capacity is the maximum number of tokens.
// refillRate is the number of tokens added per second.
func NewTokenBucket(capacity int64, refillRate float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now,
	}
}

// AllowAt takes one token if available.
func (tb *TokenBucket) AllowAt(now time.Time) bool {
	tb.refill(now)
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

func (tb *TokenBucket) full(now time.Time) bool {
	tb.refill(now)
	return tb.tokens >= tb.capacity
}

func (tb *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Limiter manages one token bucket per key, typically a source address.
type Limiter[K comparable] struct {
	mu         sync.Mutex
	limiters   map[K]*TokenBucket
	capacity   int64
	refillRate float64
	maxKeys    int
}

// NewLimiter creates a limiter tracking at most maxKeys buckets.
func NewLimiter[K comparable](capacity int64, refillRate float64, maxKeys int) *Limiter[K] {
	if capacity <= 0 {
		capacity = 16
	}
	if refillRate <= 0 {
		refillRate = 4
	}
	if maxKeys <= 0 {
		maxKeys = 10000
	}

	return &Limiter[K]{
		limiters:   make(map[K]*TokenBucket),
		capacity:   capacity,
		refillRate: refillRate,
		maxKeys:    maxKeys,
	}
}

// Admit takes a token from key's bucket at now. It returns an error wrapping
// errors.ErrRateLimited when the bucket is empty, or when the table is full
// and no refilled bucket can be dropped to make room.
func (l *Limiter[K]) Admit(key K, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tb, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.maxKeys {
			l.prune(now)
			if len(l.limiters) >= l.maxKeys {
				return fmt.Errorf("%w: %d sources tracked", errors.ErrRateLimited, len(l.limiters))
			}
		}
		tb = NewTokenBucket(l.capacity, l.refillRate, now)
		l.limiters[key] = tb
	}

	if !tb.AllowAt(now) {
		return fmt.Errorf("%w: %v", errors.ErrRateLimited, key)
	}
	return nil
}

// A full bucket behaves exactly like a fresh one, so forgetting it is lossless.
func (l *Limiter[K]) prune(now time.Time) {
	for k, tb := range l.limiters {
		if tb.full(now) {
			delete(l.limiters, k)
		}
	}
}
