// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package sched

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	perrors "github.com/absmach/eventhorizon/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertHeap[T any](t *testing.T, q *Queue[T]) {
	t.Helper()
	for i := range q.items {
		for _, c := range []int{2*i + 1, 2*i + 2} {
			if c < len(q.items) {
				require.False(t, q.items[c].due.Before(q.items[i].due),
					"child %d due before parent %d", c, i)
			}
		}
	}
}

func TestQueueOrdering(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	rng := rand.New(rand.NewSource(42))
	q := New[int](0)

	for i := 0; i < 500; i++ {
		switch {
		case q.Len() == 0 || rng.Intn(3) > 0:
			require.NoError(t, q.Push(i, base.Add(time.Duration(rng.Intn(10_000))*time.Millisecond)))
		default:
			_, _, ok := q.Pop()
			require.True(t, ok)
		}
		assertHeap(t, q)
	}

	var last time.Time
	for q.Len() > 0 {
		_, due, ok := q.Pop()
		require.True(t, ok)
		assert.False(t, due.Before(last), "pop order went backwards")
		last = due
		assertHeap(t, q)
	}
}

func TestQueueCapacity(t *testing.T) {
	now := time.Now()
	q := New[string](2)

	require.NoError(t, q.Push("a", now))
	require.NoError(t, q.Push("b", now.Add(time.Second)))

	err := q.Push("c", now.Add(-time.Second))
	require.ErrorIs(t, err, ErrFull)
	assert.True(t, errors.Is(err, perrors.ErrResourceExhausted))
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Cap())

	item, _, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", item, "rejected push must not change the head")
}

func TestQueueEmpty(t *testing.T) {
	q := New[int](4)

	_, ok := q.Peek()
	assert.False(t, ok)

	_, _, ok = q.Pop()
	assert.False(t, ok)

	_, ok = q.PopDue(time.Now())
	assert.False(t, ok)

	_, ok = q.Until(time.Now())
	assert.False(t, ok)
}

func TestQueuePopDue(t *testing.T) {
	now := time.Unix(100, 0)
	q := New[string](0)
	require.NoError(t, q.Push("late", now.Add(2*time.Second)))
	require.NoError(t, q.Push("early", now.Add(time.Second)))

	_, ok := q.PopDue(now)
	assert.False(t, ok, "nothing is due yet")

	wait, ok := q.Until(now)
	require.True(t, ok)
	assert.Equal(t, time.Second, wait)

	item, ok := q.PopDue(now.Add(time.Second))
	require.True(t, ok)
	assert.Equal(t, "early", item)

	wait, _ = q.Until(now.Add(5 * time.Second))
	assert.Zero(t, wait, "overdue items clamp to zero")
}

func TestQueueRemoveAndReschedule(t *testing.T) {
	base := time.Unix(0, 0)
	q := New[string](3)

	a, err := q.Schedule("a", base.Add(1*time.Second))
	require.NoError(t, err)
	b, err := q.Schedule("b", base.Add(2*time.Second))
	require.NoError(t, err)
	_, err = q.Schedule("c", base.Add(3*time.Second))
	require.NoError(t, err)

	_, err = q.Schedule("d", base)
	assert.ErrorIs(t, err, ErrFull)

	// A removed entry frees its slot at once.
	require.True(t, q.Remove(a))
	assert.False(t, q.Remove(a), "second Remove of the same entry")
	assertHeap(t, q)
	_, err = q.Schedule("d", base.Add(4*time.Second))
	require.NoError(t, err)

	require.True(t, q.Reschedule(b, base.Add(5*time.Second)))
	assertHeap(t, q)

	var order []string
	for {
		item, _, ok := q.Pop()
		if !ok {
			break
		}
		order = append(order, item)
	}
	assert.Equal(t, []string{"c", "d", "b"}, order)
	assert.False(t, q.Reschedule(b, base), "Reschedule after Pop")
	assert.False(t, q.Remove(nil))
}
