// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package sched implements the due-time queue that drives every tarpit loop.
//
// # Overview
//
// A Queue is a fixed-capacity binary min-heap keyed by the time an item
// must next be serviced. Loops peek at the head to size their wait, then
// pop every due item, act on it, and push it back with its next due time.
//
//	for {
//		for {
//			c, ok := q.PopDue(now)
//			if !ok {
//				break
//			}
//			serve(c)
//			q.Push(c, now.Add(delay))
//		}
//		wait, _ := q.Until(now)
//		...
//	}
//
// Push, Pop and PopDue are O(log n); Peek and Until are O(1). Items with equal
// due times come out in no particular order.
//
// Pushing into a full queue returns ErrFull, which wraps
// errors.ErrResourceExhausted; the queue is left unchanged and the caller
// decides whether to log or drop.
package sched
