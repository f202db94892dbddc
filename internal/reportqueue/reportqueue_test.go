// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reportqueue

import (
	"testing"

	"github.com/kittinap/kunnjae/internal/fam"
	"github.com/kittinap/kunnjae/internal/pip"
	"github.com/kittinap/kunnjae/internal/tracker"
	"github.com/kittinap/kunnjae/internal/wire"
)

func TestCapacityForMiBDefaultsWhenZero(t *testing.T) {
	got := CapacityForMiB(0)
	want := CapacityForMiB(DefaultQueueSizeMiB)
	if got != want {
		t.Fatalf("CapacityForMiB(0) = %d, want %d (default)", got, want)
	}
	if got <= 0 {
		t.Fatalf("CapacityForMiB(0) = %d, want > 0", got)
	}
}

func TestCapacityForMiBMatchesFormula(t *testing.T) {
	const mib = 4
	want := int((uint64(mib) * 1048576) / uint64(wire.ReportSize))
	got := CapacityForMiB(mib)
	if got != want {
		t.Fatalf("CapacityForMiB(%d) = %d, want %d", mib, got, want)
	}
}

func TestCapacityForMiBClampsHuge(t *testing.T) {
	got := CapacityForMiB(1 << 30)
	want := CapacityForMiB(MaxQueueSizeMiB)
	if got != want {
		t.Fatalf("CapacityForMiB(huge) = %d, want clamp at MaxQueueSizeMiB (%d)", got, want)
	}
}

func TestRingPushPopFIFO(t *testing.T) {
	r := NewRing(2)
	if !r.Push(wire.AccessReport{PID: 1}) {
		t.Fatal("first push should succeed")
	}
	if !r.Push(wire.AccessReport{PID: 2}) {
		t.Fatal("second push should succeed")
	}
	if r.Push(wire.AccessReport{PID: 3}) {
		t.Fatal("third push should fail: ring full")
	}
	if !r.Full() {
		t.Fatal("ring should report full")
	}

	first, ok := r.Pop()
	if !ok || first.PID != 1 {
		t.Fatalf("Pop() = %+v, %v, want PID=1, true", first, ok)
	}
	if r.Full() {
		t.Fatal("ring should not be full after a pop")
	}
	if !r.Push(wire.AccessReport{PID: 3}) {
		t.Fatal("push after pop should succeed")
	}

	second, _ := r.Pop()
	third, _ := r.Pop()
	if second.PID != 2 || third.PID != 3 {
		t.Fatalf("got PIDs %d, %d, want 2, 3", second.PID, third.PID)
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("Pop on empty ring should fail")
	}
	if r.PushFailed() != 1 {
		t.Fatalf("PushFailed() = %d, want 1", r.PushFailed())
	}
}

func TestMultiplexerAllocateAndEnqueue(t *testing.T) {
	m := New()
	idx := m.AllocateQueue(100, 0)
	if idx != 0 {
		t.Fatalf("AllocateQueue index = %d, want 0", idx)
	}

	if !m.Enqueue(100, wire.AccessReport{PID: 7}, false) {
		t.Fatal("Enqueue into freshly allocated queue should succeed")
	}

	r, ok := m.MemoryDescriptorForNext(100)
	if !ok {
		t.Fatal("MemoryDescriptorForNext should find the allocated queue")
	}
	report, ok := r.Pop()
	if !ok || report.PID != 7 {
		t.Fatalf("got %+v, %v, want PID=7, true", report, ok)
	}
}

func TestMultiplexerEnqueueWithNoQueuesFails(t *testing.T) {
	m := New()
	if m.Enqueue(5, wire.AccessReport{}, false) {
		t.Fatal("Enqueue with no allocated queues should fail")
	}
	if m.Stats().EnqueueFailed != 1 {
		t.Fatalf("EnqueueFailed = %d, want 1", m.Stats().EnqueueFailed)
	}
}

func TestMultiplexerEnqueueFallsThroughToSecondQueue(t *testing.T) {
	m := New()
	m.AllocateQueue(1, 0)
	m.AllocateQueue(1, 0)

	// Fill the first queue completely.
	cq, _ := m.byClient.Get(1)
	for !cq.queues[0].Full() {
		cq.queues[0].Push(wire.AccessReport{})
	}

	if !m.Enqueue(1, wire.AccessReport{PID: 9}, false) {
		t.Fatal("Enqueue should fall through to the second, non-full queue")
	}
	report, ok := cq.queues[1].Pop()
	if !ok || report.PID != 9 {
		t.Fatalf("second queue got %+v, %v, want PID=9, true", report, ok)
	}
}

func TestMultiplexerNotificationPortFIFOPairing(t *testing.T) {
	m := New()
	m.AllocateQueue(2, 0)
	m.AllocateQueue(2, 0)

	portA := make(chan struct{}, 1)
	portB := make(chan struct{}, 1)
	if !m.SetNotificationPort(2, portA) {
		t.Fatal("first SetNotificationPort should succeed")
	}
	if !m.SetNotificationPort(2, portB) {
		t.Fatal("second SetNotificationPort should succeed")
	}
	if m.SetNotificationPort(2, make(chan struct{}, 1)) {
		t.Fatal("third SetNotificationPort should fail: no queue awaiting one")
	}

	m.Enqueue(2, wire.AccessReport{}, false)
	select {
	case <-portA:
	default:
		t.Fatal("portA (paired with the first-allocated queue) should have been notified")
	}
	select {
	case <-portB:
		t.Fatal("portB should not have been notified: its queue was not written to")
	default:
	}
}

func TestMultiplexerRoundRobinAdvancesCursor(t *testing.T) {
	m := New()
	m.AllocateQueue(3, 0)
	m.AllocateQueue(3, 0)

	m.Enqueue(3, wire.AccessReport{PID: 1}, true)
	m.Enqueue(3, wire.AccessReport{PID: 2}, true)

	cq, _ := m.byClient.Get(3)
	first, _ := cq.queues[0].Pop()
	second, _ := cq.queues[1].Pop()
	if first.PID != 1 || second.PID != 2 {
		t.Fatalf("round robin should spread across queues: got %d, %d", first.PID, second.PID)
	}
}

func TestMultiplexerFreeQueuesIsIdempotent(t *testing.T) {
	m := New()
	m.AllocateQueue(4, 0)
	m.FreeQueues(4)
	m.FreeQueues(4) // must not panic or error on a client with nothing left

	if m.Enqueue(4, wire.AccessReport{}, false) {
		t.Fatal("Enqueue after FreeQueues should fail: no queues remain")
	}
}

func TestMultiplexerFreeQueuesSweepsTracker(t *testing.T) {
	m := New()
	tr := tracker.New(m)
	m.AttachSweeper(tr)

	manifest := &fam.Manifest{PipID: 1}
	p := pip.New(42, 100, manifest)
	tr.TrackRoot(p)

	affected := m.FreeQueues(42)
	if len(affected) != 1 || affected[0] != p {
		t.Fatalf("FreeQueues should sweep and return the client's pip, got %v", affected)
	}
	if p.State() != pip.Terminated {
		t.Fatalf("swept pip should be Terminated, got %v", p.State())
	}
}

func TestMultiplexerNotifyTreeCompletedEnqueuesSyntheticReport(t *testing.T) {
	m := New()
	m.AllocateQueue(9, 0)

	manifest := &fam.Manifest{PipID: 3}
	p := pip.New(9, 200, manifest)
	m.NotifyTreeCompleted(p, tracker.ReasonTreeEmpty)

	r, _ := m.MemoryDescriptorForNext(9)
	report, ok := r.Pop()
	if !ok {
		t.Fatal("NotifyTreeCompleted should have enqueued a report")
	}
	if report.PipID != 3 {
		t.Fatalf("PipID = %d, want 3", report.PipID)
	}
}
