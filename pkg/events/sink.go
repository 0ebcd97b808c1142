// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

// Sink receives events from the engines. Emit must not block for long and
// never reports failure; delivery is best effort.
type Sink interface {
	Emit(Event)
}

// Noop discards every event.
type Noop struct{}

var _ Sink = (*Noop)(nil)

// Emit implements Sink.
func (Noop) Emit(Event) {}

// Func adapts an ordinary function to a Sink.
type Func func(Event)

var _ Sink = Func(nil)

// Emit implements Sink.
func (f Func) Emit(e Event) {
	f(e)
}

type multi []Sink

// Multi fans every event out to all sinks in order. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	m := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multi) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
