// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package registry maps connection identities to the client state an engine owns.
package registry

import (
	"errors"
	"fmt"

	perrors "github.com/absmach/eventhorizon/pkg/errors"
)

var (
	// ErrFull is returned when the registry holds its maximum number of clients.
	ErrFull = fmt.Errorf("%w: client registry is full", perrors.ErrResourceExhausted)

	// ErrExists is returned when inserting a key that is already registered.
	ErrExists = errors.New("client already registered")
)

// Registry owns the live clients of one engine, keyed by connection identity.
// It is not safe for concurrent use.
type Registry[K comparable, V any] struct {
	entries  map[K]V
	capacity int
}

// New creates a registry holding at most capacity clients.
// A capacity of 0 or less means no limit.
func New[K comparable, V any](capacity int) *Registry[K, V] {
	size := capacity
	if size <= 0 {
		size = 64
	}
	return &Registry[K, V]{
		entries:  make(map[K]V, size),
		capacity: capacity,
	}
}

// Insert registers v under key.
func (r *Registry[K, V]) Insert(key K, v V) error {
	if _, ok := r.entries[key]; ok {
		return ErrExists
	}
	if r.Full() {
		return ErrFull
	}
	r.entries[key] = v
	return nil
}

// Find returns the client registered under key.
func (r *Registry[K, V]) Find(key K) (V, bool) {
	v, ok := r.entries[key]
	return v, ok
}

// Remove unregisters key and returns the client it held.
func (r *Registry[K, V]) Remove(key K) (V, bool) {
	v, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	return v, ok
}

// Range calls fn for every client until fn returns false.
// fn may Remove the key it was called with.
func (r *Registry[K, V]) Range(fn func(K, V) bool) {
	for k, v := range r.entries {
		if !fn(k, v) {
			return
		}
	}
}

// Len returns the number of registered clients.
func (r *Registry[K, V]) Len() int {
	return len(r.entries)
}

// Full reports whether another Insert would fail with ErrFull.
func (r *Registry[K, V]) Full() bool {
	return r.capacity > 0 && len(r.entries) >= r.capacity
}
