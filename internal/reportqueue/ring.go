// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reportqueue

import (
	"sync/atomic"

	"github.com/kittinap/kunnjae/internal/wire"
)

// Ring is a fixed-capacity, single-producer/single-consumer queue of
// wire.AccessReport slots. It is adapted from the generation-counted
// reclamation technique of the teacher's lib/artifactstore block ring
// (an atomic cursor pair with no locking on the hot path), narrowed here
// from variable-length byte blocks to the fixed ReportSize slot this
// repository's wire format uses, and from that ring's MPMC discipline
// down to the SPSC discipline this queue actually needs: exactly one
// dispatcher goroutine enqueues, and exactly one client drain loop
// dequeues, per Ring.
//
// produced and consumed are monotonically increasing counts, not
// wrapped indices; the slot index is their value modulo capacity. A
// writer publishes a new slot by writing it and only then advancing
// produced; a reader only advances consumed after copying the slot out,
// so the two cursors never need a shared lock.
type Ring struct {
	capacity uint64
	slots    []wire.AccessReport

	produced atomic.Uint64
	consumed atomic.Uint64

	pushFailed atomic.Uint64

	// activitySeq increments on every successful Pop. internal/watchdog
	// polls it to detect a client that has stopped draining its queue
	// (spec.md §4.G's report_queue_starvation_timeout): no advance
	// between two polls, with the ring non-empty, means nothing was
	// dequeued in that interval.
	activitySeq atomic.Uint64
}

// NewRing returns a Ring holding up to capacity reports. capacity is
// clamped to at least 1.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		capacity: uint64(capacity),
		slots:    make([]wire.AccessReport, capacity),
	}
}

// Capacity returns the number of slots the ring was allocated with.
func (r *Ring) Capacity() int { return int(r.capacity) }

// Len returns the number of reports currently queued.
func (r *Ring) Len() int {
	return int(r.produced.Load() - r.consumed.Load())
}

// Full reports whether the ring has no free slots.
func (r *Ring) Full() bool {
	return r.produced.Load()-r.consumed.Load() >= r.capacity
}

// Push appends report to the ring. It returns false without blocking if
// the ring is full; the caller (the report-queue multiplexer) is
// responsible for spec.md §4.G's queue-starvation accounting when that
// happens.
func (r *Ring) Push(report wire.AccessReport) bool {
	produced := r.produced.Load()
	consumed := r.consumed.Load()
	if produced-consumed >= r.capacity {
		r.pushFailed.Add(1)
		return false
	}
	r.slots[produced%r.capacity] = report
	r.produced.Store(produced + 1)
	return true
}

// Pop removes and returns the oldest queued report, if any.
func (r *Ring) Pop() (wire.AccessReport, bool) {
	consumed := r.consumed.Load()
	produced := r.produced.Load()
	if consumed >= produced {
		return wire.AccessReport{}, false
	}
	report := r.slots[consumed%r.capacity]
	r.consumed.Store(consumed + 1)
	r.activitySeq.Add(1)
	return report, true
}

// PushFailed returns the number of Push calls that found the ring full.
func (r *Ring) PushFailed() uint64 { return r.pushFailed.Load() }

// ActivitySeq returns a counter that advances once per successful Pop.
// internal/watchdog polls it across two points in time to tell a client
// that is actively draining its queue from one that has stopped.
func (r *Ring) ActivitySeq() uint64 { return r.activitySeq.Load() }
