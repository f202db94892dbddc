// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reportqueue

import (
	"sync"
	"sync/atomic"

	"github.com/kittinap/kunnjae/internal/pip"
	"github.com/kittinap/kunnjae/internal/tracker"
	"github.com/kittinap/kunnjae/internal/trie"
	"github.com/kittinap/kunnjae/internal/wire"
)

// DefaultQueueSizeMiB is the queue_size_mib the multiplexer uses when a
// client requests 0, per spec.md §4.G "clamped to [1, MAX]; default 16".
const DefaultQueueSizeMiB = 16

// MaxQueueSizeMiB is the clamp ceiling for queue_size_mib, per spec.md
// §6's set_report_queue_size "clamp to [1, 1024]".
const MaxQueueSizeMiB = 1024

// CapacityForMiB computes the SPSC ring capacity spec.md §9 requires:
// floor(queue_size_mib * 1048576 / sizeof(AccessReport)), treating
// mib == 0 as DefaultQueueSizeMiB and clamping to [1, MaxQueueSizeMiB].
func CapacityForMiB(mib uint32) int {
	if mib == 0 {
		mib = DefaultQueueSizeMiB
	}
	if mib > MaxQueueSizeMiB {
		mib = MaxQueueSizeMiB
	}
	capacity := int((uint64(mib) * 1048576) / uint64(wire.ReportSize))
	if capacity < 1 {
		capacity = 1
	}
	return capacity
}

// clientQueues is one client's ordered list of queues plus the FIFO
// pairing state set_notification_port / memory_descriptor_for_next
// share, and the round-robin cursor enqueue advances.
type clientQueues struct {
	mu sync.Mutex

	queues []*Ring
	ports  []chan struct{} // ports[i] is queues[i]'s notification port, or nil until set

	nextPortPair int // index of the next queue awaiting set_notification_port
	nextDescPair int // index of the next queue awaiting memory_descriptor_for_next

	roundRobinCursor int
}

// Multiplexer is the per-client report queue set of spec.md §4.G. It
// implements tracker.CompletionNotifier so a Tracker can hand it
// process-tree-completed events to enqueue without depending on it
// directly.
type Multiplexer struct {
	sweeper interface {
		SweepClient(client int) []*pip.Pip
	}

	byClient *trie.Uint[*clientQueues]

	enqueueFailed      atomic.Uint64
	queueSizeMiBClamps atomic.Uint64
}

// New returns an empty Multiplexer. AttachSweeper should be called once
// the owning Tracker exists, so free_report_queues can also evict that
// client's tracked pips (spec.md §4.G client-crash cleanup).
func New() *Multiplexer {
	return &Multiplexer{byClient: trie.NewUint[*clientQueues]()}
}

// AttachSweeper wires t as the tracker swept on free_report_queues.
func (m *Multiplexer) AttachSweeper(t *tracker.Tracker) {
	m.sweeper = t
}

// clientFor returns client's queue list, creating an empty one if this
// is its first use. If two goroutines race to create the same client's
// first entry, trie.Uint.GetOrAdd ensures only one clientQueues wins and
// both callers observe it.
func (m *Multiplexer) clientFor(client int) *clientQueues {
	cq, _ := m.byClient.GetOrAdd(uint64(client), func() *clientQueues {
		return &clientQueues{}
	})
	return cq
}

// AllocateQueue appends a new ring, sized from mib, to client's queue
// list and returns its index.
func (m *Multiplexer) AllocateQueue(client int, mib uint32) int {
	cq := m.clientFor(client)
	cq.mu.Lock()
	defer cq.mu.Unlock()

	cq.queues = append(cq.queues, NewRing(CapacityForMiB(mib)))
	cq.ports = append(cq.ports, nil)
	return len(cq.queues) - 1
}

// SetNotificationPort attaches port to the next queue awaiting one, in
// allocation order, per spec.md §4.G's FIFO pairing. It returns false if
// every allocated queue already has a port.
func (m *Multiplexer) SetNotificationPort(client int, port chan struct{}) bool {
	cq := m.clientFor(client)
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.nextPortPair >= len(cq.queues) {
		return false
	}
	cq.ports[cq.nextPortPair] = port
	cq.nextPortPair++
	return true
}

// MemoryDescriptorForNext hands back the next queue awaiting a
// descriptor handout, strictly FIFO with SetNotificationPort, per
// spec.md §4.G.
func (m *Multiplexer) MemoryDescriptorForNext(client int) (*Ring, bool) {
	cq := m.clientFor(client)
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if cq.nextDescPair >= len(cq.queues) {
		return nil, false
	}
	r := cq.queues[cq.nextDescPair]
	cq.nextDescPair++
	return r, true
}

// Enqueue pushes report into the first non-full queue belonging to
// client. If roundRobin, a successful push advances a per-client cursor
// so the next call starts its scan there instead of at index 0. It
// returns false, incrementing the multiplexer's enqueue-failure
// counter, if every queue is full or client has no queues at all.
func (m *Multiplexer) Enqueue(client int, report wire.AccessReport, roundRobin bool) bool {
	cq := m.clientFor(client)
	cq.mu.Lock()
	defer cq.mu.Unlock()

	n := len(cq.queues)
	if n == 0 {
		m.enqueueFailed.Add(1)
		return false
	}

	start := 0
	if roundRobin {
		start = cq.roundRobinCursor % n
	}
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if cq.queues[idx].Push(report) {
			if port := cq.ports[idx]; port != nil {
				notify(port)
			}
			if roundRobin {
				cq.roundRobinCursor = (idx + 1) % n
			}
			return true
		}
	}
	m.enqueueFailed.Add(1)
	return false
}

// notify performs a non-blocking send on the notification channel, so a
// client that has not drained its previous notification never stalls
// the dispatcher.
func notify(port chan struct{}) {
	select {
	case port <- struct{}{}:
	default:
	}
}

// FreeQueues removes every queue belonging to client and sweeps the
// tracker table for client's tracked pips, per spec.md §4.G's
// client-crash cleanup. It is idempotent: freeing a client with no
// queues is a no-op, not an error.
func (m *Multiplexer) FreeQueues(client int) []*pip.Pip {
	m.byClient.Remove(uint64(client))
	if m.sweeper == nil {
		return nil
	}
	return m.sweeper.SweepClient(client)
}

// NotifyTreeCompleted implements tracker.CompletionNotifier: it builds
// and enqueues the process-tree-completed AccessReport spec.md §4.H
// requires when a pip's tree count reaches zero.
func (m *Multiplexer) NotifyTreeCompleted(p *pip.Pip, reason tracker.CompletionReason) {
	report := wire.AccessReport{
		StatusField: wire.Allowed,
		PipID:       p.PipID(),
		ClientPID:   int32(p.ClientPID),
		RootPID:     int32(p.RootPID),
		PID:         int32(p.RootPID),
		Path:        "process-tree-completed:" + reason.String(),
	}
	if !m.Enqueue(p.ClientPID, report, false) {
		p.Counters().IncQueueEnqueueFailed()
	}
}

// Stats reports multiplexer-wide counters for introspection.
type Stats struct {
	EnqueueFailed uint64
}

func (m *Multiplexer) Stats() Stats {
	return Stats{EnqueueFailed: m.enqueueFailed.Load()}
}
