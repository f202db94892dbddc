// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/kittinap/kunnjae/internal/clock"
	"github.com/kittinap/kunnjae/internal/fam"
	"github.com/kittinap/kunnjae/internal/pip"
	"github.com/kittinap/kunnjae/internal/reportqueue"
	"github.com/kittinap/kunnjae/internal/tracker"
	"github.com/kittinap/kunnjae/internal/wire"
)

func newHarness(manifest *fam.Manifest, rootPID, clientPID int) (*clock.FakeClock, *Watchdog, *tracker.Tracker, *reportqueue.Multiplexer, *pip.Pip) {
	q := reportqueue.New()
	tr := tracker.New(q)
	q.AttachSweeper(tr)
	p := pip.New(clientPID, rootPID, manifest)
	tr.TrackRoot(p)
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return fc, New(fc, tr), tr, q, p
}

func TestArmDrainingFiresWhenStillDraining(t *testing.T) {
	fc, w, _, _, p := newHarness(&fam.Manifest{PipID: 1, NestedProcessTerminationTimeoutMS: 5000}, 100, 1)
	p.MarkRootExited()
	if p.State() != pip.Draining {
		t.Fatalf("State() = %v, want Draining", p.State())
	}

	w.ArmDraining(p)
	fc.WaitForTimers(1)
	fc.Advance(5 * time.Second)

	if p.State() != pip.Terminated {
		t.Fatalf("State() after timeout = %v, want Terminated", p.State())
	}
}

func TestArmDrainingNoopIfTreeCompletedFirst(t *testing.T) {
	fc, w, tr, _, p := newHarness(&fam.Manifest{PipID: 1, NestedProcessTerminationTimeoutMS: 5000}, 100, 1)
	p.MarkRootExited()
	w.ArmDraining(p)
	fc.WaitForTimers(1)

	// The last descendant exits before the timer fires: the tree
	// completes naturally via ReasonTreeEmpty.
	tr.Untrack(100)
	if p.State() != pip.Terminated {
		t.Fatalf("State() after Untrack = %v, want Terminated", p.State())
	}

	fc.Advance(5 * time.Second)
	if p.State() != pip.Terminated {
		t.Fatalf("State() after timer fires post-completion = %v, want Terminated", p.State())
	}
}

func TestArmDrainingUsesDefaultWhenUnset(t *testing.T) {
	fc, w, _, _, p := newHarness(&fam.Manifest{PipID: 1}, 100, 1)
	p.MarkRootExited()
	w.ArmDraining(p)
	fc.WaitForTimers(1)

	fc.Advance(time.Duration(DefaultNestedProcessTerminationTimeoutMS) * time.Millisecond)
	if p.State() != pip.Terminated {
		t.Fatalf("State() = %v, want Terminated after default timeout", p.State())
	}
}

func TestWatchQueueStarvationKillsWhenQueueNeverDrained(t *testing.T) {
	fc, w, _, q, p := newHarness(&fam.Manifest{PipID: 1, ReportQueueStarvationTimeoutMS: 1000}, 100, 1)
	q.AllocateQueue(1, 0)
	ring, ok := q.MemoryDescriptorForNext(1)
	if !ok {
		t.Fatalf("MemoryDescriptorForNext: no ring")
	}
	ring.Push(wire.AccessReport{Path: "/tmp/a"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.WatchQueueStarvation(ctx, p, ring, 1000)
	fc.WaitForTimers(1)
	fc.Advance(1 * time.Second)

	if p.State() != pip.Terminated {
		t.Fatalf("State() = %v, want Terminated after starvation timeout", p.State())
	}
}

func TestWatchQueueStarvationSurvivesWhenClientDrains(t *testing.T) {
	fc, w, _, q, p := newHarness(&fam.Manifest{PipID: 1, ReportQueueStarvationTimeoutMS: 1000}, 100, 1)
	q.AllocateQueue(1, 0)
	ring, _ := q.MemoryDescriptorForNext(1)
	ring.Push(wire.AccessReport{Path: "/tmp/a"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.WatchQueueStarvation(ctx, p, ring, 1000)
	fc.WaitForTimers(1)

	// The client drains before the first poll: no starvation.
	ring.Pop()
	ring.Push(wire.AccessReport{Path: "/tmp/b"})
	fc.Advance(1 * time.Second)

	if p.State() == pip.Terminated {
		t.Fatalf("State() = Terminated, want non-terminal: client drained within the window")
	}
}

func TestWatchQueueStarvationIgnoresEmptyQueue(t *testing.T) {
	fc, w, _, q, p := newHarness(&fam.Manifest{PipID: 1, ReportQueueStarvationTimeoutMS: 1000}, 100, 1)
	q.AllocateQueue(1, 0)
	ring, _ := q.MemoryDescriptorForNext(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.WatchQueueStarvation(ctx, p, ring, 1000)
	fc.WaitForTimers(1)
	fc.Advance(1 * time.Second)

	if p.State() == pip.Terminated {
		t.Fatalf("State() = Terminated, want non-terminal: queue was never non-empty")
	}
}

func TestWatchQueueStarvationForClientKillsEveryPipOfThatClient(t *testing.T) {
	fc, w, tr, q, p1 := newHarness(&fam.Manifest{PipID: 1, ReportQueueStarvationTimeoutMS: 1000}, 100, 1)
	p2 := pip.New(1, 200, &fam.Manifest{PipID: 2})
	tr.TrackRoot(p2)

	q.AllocateQueue(1, 0)
	ring, _ := q.MemoryDescriptorForNext(1)
	ring.Push(wire.AccessReport{Path: "/tmp/a"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.WatchQueueStarvationForClient(ctx, 1, ring, 1000)
	fc.WaitForTimers(1)
	fc.Advance(1 * time.Second)

	if p1.State() != pip.Terminated {
		t.Fatalf("p1 State() = %v, want Terminated", p1.State())
	}
	if p2.State() != pip.Terminated {
		t.Fatalf("p2 State() = %v, want Terminated", p2.State())
	}
}

func TestWatchQueueStarvationUsesDefaultWhenUnset(t *testing.T) {
	fc, w, _, q, p := newHarness(&fam.Manifest{PipID: 1}, 100, 1)
	q.AllocateQueue(1, 0)
	ring, _ := q.MemoryDescriptorForNext(1)
	ring.Push(wire.AccessReport{Path: "/tmp/a"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.WatchQueueStarvation(ctx, p, ring, 0)
	fc.WaitForTimers(1)
	fc.Advance(time.Duration(DefaultReportQueueStarvationTimeoutMS) * time.Millisecond)

	if p.State() != pip.Terminated {
		t.Fatalf("State() = %v, want Terminated after default starvation timeout", p.State())
	}
}
