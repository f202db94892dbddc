// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"testing"

	"github.com/kittinap/kunnjae/internal/fam"
	"github.com/kittinap/kunnjae/internal/pip"
)

type fakeNotifier struct {
	calls []struct {
		pip    *pip.Pip
		reason CompletionReason
	}
}

func (f *fakeNotifier) NotifyTreeCompleted(p *pip.Pip, reason CompletionReason) {
	f.calls = append(f.calls, struct {
		pip    *pip.Pip
		reason CompletionReason
	}{p, reason})
}

func newRootPip(rootPID int, monitorChildren bool) *pip.Pip {
	flags := fam.Flags(0)
	if monitorChildren {
		flags = fam.MonitorChildren
	}
	return pip.New(1, rootPID, &fam.Manifest{PipID: uint64(rootPID), Flags: flags, ScopeTree: &fam.ScopeNode{}})
}

func TestTrackRootAndFind(t *testing.T) {
	tr := New(nil)
	p := newRootPip(100, false)

	if !tr.TrackRoot(p) {
		t.Fatal("TrackRoot should succeed")
	}
	got, ok := tr.Find(100)
	if !ok || got != p {
		t.Fatalf("Find(100) = (%v, %v), want (p, true)", got, ok)
	}
}

func TestFindMissingIsCheapMiss(t *testing.T) {
	tr := New(nil)
	if _, ok := tr.Find(999); ok {
		t.Fatal("expected miss on empty tracker")
	}
}

func TestTrackChildIncrementsCount(t *testing.T) {
	tr := New(nil)
	p := newRootPip(100, true)
	tr.TrackRoot(p)

	if !tr.TrackChild(101, p) {
		t.Fatal("TrackChild should succeed")
	}
	if p.ProcessTreeCount() != 2 {
		t.Fatalf("ProcessTreeCount() = %d, want 2", p.ProcessTreeCount())
	}
	got, ok := tr.Find(101)
	if !ok || got != p {
		t.Fatal("child should map to the same pip")
	}
}

func TestTrackChildDuplicateFails(t *testing.T) {
	tr := New(nil)
	p := newRootPip(100, true)
	tr.TrackRoot(p)
	tr.TrackChild(101, p)

	if tr.TrackChild(101, p) {
		t.Fatal("duplicate TrackChild should return false")
	}
	if p.ProcessTreeCount() != 2 {
		t.Fatalf("duplicate track should not change the count, got %d", p.ProcessTreeCount())
	}
	if tr.Stats().DuplicateTrackChild != 1 {
		t.Fatalf("expected duplicate counter to be 1, got %d", tr.Stats().DuplicateTrackChild)
	}
}

func TestUntrackMissingFails(t *testing.T) {
	tr := New(nil)
	if tr.Untrack(404) {
		t.Fatal("untrack of unknown pid should return false")
	}
	if tr.Stats().MissingUntrack != 1 {
		t.Fatalf("expected missing-untrack counter to be 1, got %d", tr.Stats().MissingUntrack)
	}
}

func TestUntrackLastPidFiresCompletion(t *testing.T) {
	notifier := &fakeNotifier{}
	tr := New(notifier)
	p := newRootPip(100, false)
	tr.TrackRoot(p)

	if !tr.Untrack(100) {
		t.Fatal("untrack of tracked root should succeed")
	}
	if p.State() != pip.Terminated {
		t.Fatalf("State() = %v, want Terminated", p.State())
	}
	if len(notifier.calls) != 1 || notifier.calls[0].reason != ReasonTreeEmpty {
		t.Fatalf("expected exactly one ReasonTreeEmpty notification, got %+v", notifier.calls)
	}
}

func TestUntrackDescendantKeepsPipAlive(t *testing.T) {
	notifier := &fakeNotifier{}
	tr := New(notifier)
	p := newRootPip(100, true)
	tr.TrackRoot(p)
	tr.TrackChild(101, p)

	tr.Untrack(101)
	if len(notifier.calls) != 0 {
		t.Fatalf("expected no completion while root still tracked, got %+v", notifier.calls)
	}
	if p.State() == pip.Terminated {
		t.Fatal("pip should not be terminated while a PID remains tracked")
	}
}

func TestTerminateThenUntrackLastPidNotifiesOnce(t *testing.T) {
	notifier := &fakeNotifier{}
	tr := New(notifier)
	p := newRootPip(100, true)
	tr.TrackRoot(p)
	tr.TrackChild(101, p)

	// A forced termination (e.g. fail_unexpected) fires before either
	// tracked pid has exited; the tree count is still 2.
	tr.Terminate(p, ReasonUnexpectedAccess)
	if len(notifier.calls) != 1 || notifier.calls[0].reason != ReasonUnexpectedAccess {
		t.Fatalf("expected one ReasonUnexpectedAccess notification, got %+v", notifier.calls)
	}

	// The tracked pids now exit normally, driving the tree count to
	// zero. This must not fire a second completion for the same pip.
	tr.Untrack(100)
	tr.Untrack(101)
	if len(notifier.calls) != 1 {
		t.Fatalf("expected exactly one notification total, got %+v", notifier.calls)
	}
}

func TestForkChildRespectsMonitorChildrenFlag(t *testing.T) {
	tr := New(nil)
	p := newRootPip(100, false)
	tr.TrackRoot(p)

	if tr.ForkChild(100, 101) {
		t.Fatal("ForkChild should not track when monitor_children is unset")
	}
	if _, ok := tr.Find(101); ok {
		t.Fatal("child should not be tracked when monitor_children is unset")
	}
}

func TestForkChildTracksWhenMonitorChildrenSet(t *testing.T) {
	tr := New(nil)
	p := newRootPip(100, true)
	tr.TrackRoot(p)

	if !tr.ForkChild(100, 101) {
		t.Fatal("ForkChild should track when monitor_children is set")
	}
	if _, ok := tr.Find(101); !ok {
		t.Fatal("child should be tracked")
	}
}

func TestSweepClientNotifiesOncePerPip(t *testing.T) {
	notifier := &fakeNotifier{}
	tr := New(notifier)
	p := newRootPip(100, true)
	tr.TrackRoot(p)
	tr.TrackChild(101, p)
	tr.TrackChild(102, p)

	affected := tr.SweepClient(1)
	if len(affected) != 1 {
		t.Fatalf("expected exactly one affected pip, got %d", len(affected))
	}
	if len(notifier.calls) != 1 || notifier.calls[0].reason != ReasonClientDisconnect {
		t.Fatalf("expected one ReasonClientDisconnect notification, got %+v", notifier.calls)
	}
	if tr.Count() != 0 {
		t.Fatalf("expected every PID to be removed, got %d remaining", tr.Count())
	}
}

func TestAtMostOnePipPerPID(t *testing.T) {
	tr := New(nil)
	first := newRootPip(100, false)
	second := newRootPip(100, false)

	tr.TrackRoot(first)
	tr.TrackRoot(second)

	got, ok := tr.Find(100)
	if !ok || got != second {
		t.Fatalf("expected the second TrackRoot to replace the first mapping")
	}
}
