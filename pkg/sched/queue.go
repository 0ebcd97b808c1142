// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sched

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/absmach/eventhorizon/pkg/errors"
)

// ErrFull is returned by Push when the queue holds Cap items.
var ErrFull = fmt.Errorf("%w: schedule queue is full", errors.ErrResourceExhausted)

// Entry is a scheduled item. It stays valid for Remove and Reschedule until
// the item is popped.
type Entry[T any] struct {
	due   time.Time
	item  T
	index int
}

// entries implements heap.Interface ordered by due time.
type entries[T any] []*Entry[T]

func (e entries[T]) Len() int           { return len(e) }
func (e entries[T]) Less(i, j int) bool { return e[i].due.Before(e[j].due) }

func (e entries[T]) Swap(i, j int) {
	e[i], e[j] = e[j], e[i]
	e[i].index = i
	e[j].index = j
}

func (e *entries[T]) Push(x any) {
	en := x.(*Entry[T])
	en.index = len(*e)
	*e = append(*e, en)
}

func (e *entries[T]) Pop() any {
	old := *e
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	x.index = -1
	*e = old[:n-1]
	return x
}

// Queue is a binary min-heap of items keyed by their due time.
// It is not safe for concurrent use; each engine loop owns its queue.
type Queue[T any] struct {
	items    entries[T]
	capacity int
}

// New creates a queue holding at most capacity items.
// A capacity of 0 or less means no limit.
func New[T any](capacity int) *Queue[T] {
	q := &Queue[T]{capacity: capacity}
	if capacity > 0 {
		q.items = make(entries[T], 0, capacity)
	}
	return q
}

// Push schedules item at due. It returns ErrFull and leaves the queue
// untouched when the queue is at capacity.
func (q *Queue[T]) Push(item T, due time.Time) error {
	_, err := q.Schedule(item, due)
	return err
}

// Schedule is Push returning the entry for a later Remove or Reschedule.
func (q *Queue[T]) Schedule(item T, due time.Time) (*Entry[T], error) {
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return nil, ErrFull
	}
	en := &Entry[T]{due: due, item: item}
	heap.Push(&q.items, en)
	return en, nil
}

// Remove takes en out of the queue. It reports false if en was already
// popped or removed.
func (q *Queue[T]) Remove(en *Entry[T]) bool {
	if !q.holds(en) {
		return false
	}
	heap.Remove(&q.items, en.index)
	return true
}

// Reschedule moves en to due. It reports false if en is no longer queued.
func (q *Queue[T]) Reschedule(en *Entry[T], due time.Time) bool {
	if !q.holds(en) {
		return false
	}
	en.due = due
	heap.Fix(&q.items, en.index)
	return true
}

func (q *Queue[T]) holds(en *Entry[T]) bool {
	return en != nil && en.index >= 0 && en.index < len(q.items) && q.items[en.index] == en
}

// Peek returns the earliest due time.
func (q *Queue[T]) Peek() (time.Time, bool) {
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].due, true
}

// Pop removes and returns the earliest item with its due time.
func (q *Queue[T]) Pop() (T, time.Time, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, time.Time{}, false
	}
	en := heap.Pop(&q.items).(*Entry[T])
	return en.item, en.due, true
}

// PopDue pops the earliest item only if it is due at now.
func (q *Queue[T]) PopDue(now time.Time) (T, bool) {
	if len(q.items) == 0 || q.items[0].due.After(now) {
		var zero T
		return zero, false
	}
	item, _, _ := q.Pop()
	return item, true
}

// Until returns the time left before the earliest item is due, clamped at 0.
// The boolean is false for an empty queue.
func (q *Queue[T]) Until(now time.Time) (time.Duration, bool) {
	due, ok := q.Peek()
	if !ok {
		return 0, false
	}
	if d := due.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

// Len returns the number of scheduled items.
func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Cap returns the configured capacity.
func (q *Queue[T]) Cap() int {
	return q.capacity
}
