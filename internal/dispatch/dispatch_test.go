// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"testing"
	"time"

	"github.com/kittinap/kunnjae/internal/clock"
	"github.com/kittinap/kunnjae/internal/fam"
	"github.com/kittinap/kunnjae/internal/pip"
	"github.com/kittinap/kunnjae/internal/reportqueue"
	"github.com/kittinap/kunnjae/internal/tracker"
)

func allowAllManifest(flags fam.Flags) *fam.Manifest {
	return &fam.Manifest{
		PipID: 7,
		Flags: flags,
		ScopeTree: &fam.ScopeNode{
			PolicyMask: fam.AllowRead | fam.AllowWrite | fam.AllowProbe | fam.AllowEnumerate | fam.AllowExec,
			ConePolicy: fam.AllowRead | fam.AllowWrite | fam.AllowProbe | fam.AllowEnumerate | fam.AllowExec,
		},
	}
}

func denyAllManifest(flags fam.Flags) *fam.Manifest {
	return &fam.Manifest{
		PipID:     8,
		Flags:     flags,
		ScopeTree: &fam.ScopeNode{PolicyMask: fam.Deny, ConePolicy: fam.Deny},
	}
}

func newHarness(manifest *fam.Manifest, rootPID, clientPID int) (*Dispatcher, *tracker.Tracker, *reportqueue.Multiplexer, *pip.Pip) {
	q := reportqueue.New()
	tr := tracker.New(q)
	q.AttachSweeper(tr)
	p := pip.New(clientPID, rootPID, manifest)
	tr.TrackRoot(p)
	q.AllocateQueue(clientPID, 0)
	d := NewWithClock(tr, q, clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	return d, tr, q, p
}

func TestLookupAllowsUnknownPIDWithoutReporting(t *testing.T) {
	q := reportqueue.New()
	tr := tracker.New(q)
	d := New(tr, q)

	if got := d.Lookup(999, 0, "/tmp/x"); got != Allow {
		t.Fatalf("Lookup(unknown pid) = %v, want Allow", got)
	}
}

func TestLookupStoresPathForFollowUpHook(t *testing.T) {
	d, _, _, p := newHarness(allowAllManifest(0), 100, 1)

	d.Lookup(100, 3, "/tmp/a.obj")
	got, ok := p.LastLookup(3)
	if !ok || got != "/tmp/a.obj" {
		t.Fatalf("LastLookup(3) = %q, %v, want /tmp/a.obj, true", got, ok)
	}
}

func TestExecRecoversPathFromLastLookup(t *testing.T) {
	d, _, q, _ := newHarness(allowAllManifest(0), 100, 1)

	d.Lookup(100, 0, "/bin/tool")
	if got := d.Exec(100, 0); got != Allow {
		t.Fatalf("Exec() = %v, want Allow", got)
	}

	r, _ := q.MemoryDescriptorForNext(1)
	// allow-all manifest carries no report_access bit, so nothing
	// should have been enqueued for the allowed exec.
	if r.Len() != 0 {
		t.Fatalf("expected no report enqueued for a quiet allow, got %d", r.Len())
	}
}

func TestExecWithNoPriorLookupAllowsWithoutPanicking(t *testing.T) {
	d, _, _, _ := newHarness(allowAllManifest(0), 100, 1)

	if got := d.Exec(100, 5); got != Allow {
		t.Fatalf("Exec() with no prior Lookup = %v, want Allow", got)
	}
}

func TestCreateRecoversPathFromLastLookup(t *testing.T) {
	d, _, q, _ := newHarness(denyAllManifest(0), 100, 1)

	d.Lookup(100, 0, "/tmp/new-file")
	if got := d.Create(100, 0); got != Deny {
		t.Fatalf("Create() = %v, want Deny", got)
	}

	r, _ := q.MemoryDescriptorForNext(1)
	if r.Len() != 1 {
		t.Fatalf("expected denied create to be reported, got %d reports", r.Len())
	}
}

func TestCreateWithNoPriorLookupAllowsWithoutPanicking(t *testing.T) {
	d, _, _, _ := newHarness(allowAllManifest(0), 100, 1)

	if got := d.Create(100, 5); got != Allow {
		t.Fatalf("Create() with no prior Lookup = %v, want Allow", got)
	}
}

func TestDeniedAccessIsAlwaysReported(t *testing.T) {
	d, _, q, _ := newHarness(denyAllManifest(0), 100, 1)

	if got := d.Readlink(100, "/etc/shadow"); got != Deny {
		t.Fatalf("Readlink() = %v, want Deny", got)
	}

	r, _ := q.MemoryDescriptorForNext(1)
	report, ok := r.Pop()
	if !ok {
		t.Fatal("expected a report to have been enqueued for a denied access")
	}
	if report.StatusField.String() != "denied" {
		t.Fatalf("StatusField = %v, want denied", report.StatusField)
	}
}

func TestRepeatedAccessIsDedupedAfterFirstReport(t *testing.T) {
	d, _, q, _ := newHarness(denyAllManifest(0), 100, 1)

	d.Readlink(100, "/etc/shadow")
	d.Readlink(100, "/etc/shadow")

	r, _ := q.MemoryDescriptorForNext(1)
	if r.Len() != 1 {
		t.Fatalf("queue length = %d, want 1 (second access should be suppressed)", r.Len())
	}
}

func TestFailUnexpectedTerminatesPipOnDeny(t *testing.T) {
	d, _, _, p := newHarness(denyAllManifest(fam.FailUnexpected), 100, 1)

	d.Readlink(100, "/etc/shadow")
	if p.State() != pip.Terminated {
		t.Fatalf("pip state = %v, want Terminated after fail_unexpected deny", p.State())
	}
}

func TestForkDelegatesToTracker(t *testing.T) {
	d, _, _, _ := newHarness(allowAllManifest(fam.MonitorChildren), 100, 1)

	if !d.Fork(100, 101) {
		t.Fatal("Fork should track the child when monitor_children is set")
	}
}

func TestExitOnRootWithSurvivingDescendantsDrainsInsteadOfTerminating(t *testing.T) {
	d, tr, _, p := newHarness(allowAllManifest(0), 100, 1)
	tr.TrackChild(101, p)

	if !d.Exit(100) {
		t.Fatal("Exit should succeed for a tracked pid")
	}
	if p.State() != pip.Draining {
		t.Fatalf("state = %v, want Draining: root exited but a descendant remains", p.State())
	}
}

func TestExitOnLastPIDTerminates(t *testing.T) {
	d, _, _, p := newHarness(allowAllManifest(0), 100, 1)

	if !d.Exit(100) {
		t.Fatal("Exit should succeed")
	}
	if p.State() != pip.Terminated {
		t.Fatalf("state = %v, want Terminated", p.State())
	}
}

func TestQueueOverflowWithFailOnQueueOverflowTerminatesPip(t *testing.T) {
	manifest := denyAllManifest(fam.FailOnQueueOverflow)
	q := reportqueue.New()
	tr := tracker.New(q)
	q.AttachSweeper(tr)
	p := pip.New(1, 100, manifest)
	tr.TrackRoot(p)
	// Deliberately do not allocate a queue: every Enqueue now fails.
	d := New(tr, q)

	d.Readlink(100, "/etc/shadow")
	if p.State() != pip.Terminated {
		t.Fatalf("state = %v, want Terminated after fail_on_queue_overflow enqueue failure", p.State())
	}
}

func TestExitArmsWatchdogThatTerminatesStuckDrainingPip(t *testing.T) {
	manifest := allowAllManifest(0)
	manifest.NestedProcessTerminationTimeoutMS = 2000
	fc := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	q := reportqueue.New()
	tr := tracker.New(q)
	q.AttachSweeper(tr)
	p := pip.New(1, 100, manifest)
	tr.TrackRoot(p)
	tr.TrackChild(101, p)
	q.AllocateQueue(1, 0)
	d := NewWithClock(tr, q, fc)

	d.Exit(100)
	if p.State() != pip.Draining {
		t.Fatalf("state = %v, want Draining", p.State())
	}

	fc.WaitForTimers(1)
	fc.Advance(2 * time.Second)

	if p.State() != pip.Terminated {
		t.Fatalf("state = %v, want Terminated: child 101 never exited, timeout should have fired", p.State())
	}
}
