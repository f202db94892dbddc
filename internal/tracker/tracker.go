// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tracker

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kittinap/kunnjae/internal/fam"
	"github.com/kittinap/kunnjae/internal/pip"
	"github.com/kittinap/kunnjae/internal/trie"
)

// CompletionReason explains why a process-tree-completed event fired.
// spec.md §9 Open Question 2: forced client teardown also emits
// completion, tagged ReasonClientDisconnect, rather than being silently
// swallowed.
type CompletionReason int

const (
	ReasonTreeEmpty CompletionReason = iota
	ReasonTimeout
	ReasonClientDisconnect
	// ReasonUnexpectedAccess fires when the dispatcher kills a pip
	// because fail_unexpected is set and a denied access occurred,
	// per spec.md §4.G Flags doc comment.
	ReasonUnexpectedAccess
	// ReasonQueueOverflow fires when the dispatcher kills a pip
	// because fail_on_queue_overflow is set and a reportable enqueue
	// failed, per spec.md §4.G Backpressure.
	ReasonQueueOverflow
	// ReasonQueueStarvation fires when internal/watchdog kills a pip
	// because its client stopped draining a report queue within
	// report_queue_starvation_timeout, per spec.md §4.G.
	ReasonQueueStarvation
)

func (r CompletionReason) String() string {
	switch r {
	case ReasonTreeEmpty:
		return "tree_empty"
	case ReasonTimeout:
		return "timeout"
	case ReasonClientDisconnect:
		return "client_disconnect"
	case ReasonUnexpectedAccess:
		return "unexpected_access"
	case ReasonQueueOverflow:
		return "queue_overflow"
	case ReasonQueueStarvation:
		return "queue_starvation"
	default:
		return "unknown"
	}
}

// CompletionNotifier is called exactly once per pip when its process
// tree reaches zero, decoupling the tracker from the report-queue
// multiplexer that actually emits the process-tree-completed record.
type CompletionNotifier interface {
	NotifyTreeCompleted(p *pip.Pip, reason CompletionReason)
}

// Tracker is the PID -> Pip index, per spec.md §4.E.
type Tracker struct {
	notifier CompletionNotifier

	byPID *trie.Uint[*pip.Pip]

	mu sync.Mutex // guards structural changes only; byPID reads are lock-free

	duplicateTrackChild atomic.Uint64
	missingUntrack       atomic.Uint64
}

// New returns an empty Tracker that calls notifier when a pip's tree
// completes.
func New(notifier CompletionNotifier) *Tracker {
	return &Tracker{
		notifier: notifier,
		byPID:    trie.NewUint[*pip.Pip](),
	}
}

// TrackRoot registers p under p.RootPID. If a mapping already exists for
// that PID (a nested build reusing a PID the OS has since recycled, or a
// stale entry), the old pip is untracked first per spec.md §4.E.
func (t *Tracker) TrackRoot(p *pip.Pip) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byPID.Get(uint64(p.RootPID)); ok {
		t.untrackLocked(uint64(p.RootPID), existing, false)
	}

	t.byPID.Insert(uint64(p.RootPID), p)
	return true
}

// TrackChild attaches childPID to root's pip, incrementing its
// process-tree count. Returns false without changing state if childPID
// is already tracked (logged once, per spec.md §4.E failure semantics).
func (t *Tracker) TrackChild(childPID int, root *pip.Pip) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byPID.Get(uint64(childPID)); exists {
		t.duplicateTrackChild.Add(1)
		slog.Warn("tracker: duplicate track_child", "pid", childPID)
		return false
	}

	t.byPID.Insert(uint64(childPID), root)
	root.IncrementProcessTreeCount()
	return true
}

// Find returns the pip governing pid, if any. Lock-free; this is the
// dispatcher's hot-path lookup.
func (t *Tracker) Find(pid int) (*pip.Pip, bool) {
	return t.byPID.Get(uint64(pid))
}

// Untrack removes pid's mapping. If the mapping existed, it decrements
// the owning pip's process-tree count and, if that reaches zero,
// transitions it to Terminated and notifies the completion sink exactly
// once. Returns false (logged) if pid had no mapping.
func (t *Tracker) Untrack(pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.byPID.Get(uint64(pid))
	if !ok {
		t.missingUntrack.Add(1)
		slog.Warn("tracker: untrack of unknown pid", "pid", pid)
		return false
	}
	t.untrackLocked(uint64(pid), existing, true)
	return true
}

// untrackLocked removes key's mapping and, for a real pid removal
// (decrementCount), decrements the process tree and fires completion at
// zero. Must be called with t.mu held.
func (t *Tracker) untrackLocked(key uint64, p *pip.Pip, decrementCount bool) {
	t.byPID.Remove(key)
	if !decrementCount {
		return
	}
	if remaining := p.DecrementProcessTreeCount(); remaining <= 0 {
		if p.MarkTerminatedIfNotAlready() && t.notifier != nil {
			t.notifier.NotifyTreeCompleted(p, ReasonTreeEmpty)
		}
	}
}

// ForkChild attributes a freshly forked childPID to the same pip as
// parentPID, provided the pip's manifest has MonitorChildren set.
// per spec.md §4.E "Transitions driven by hook events".
func (t *Tracker) ForkChild(parentPID, childPID int) bool {
	parent, ok := t.Find(parentPID)
	if !ok {
		return false
	}
	if !parent.Manifest.Flags.Has(fam.MonitorChildren) {
		return false
	}
	return t.TrackChild(childPID, parent)
}

// ExecUpdate re-associates pid's label on execve/vfork. The pip
// membership itself is unaffected; this exists as an explicit hook
// entry point so callers never need to special-case exec vs. other
// events when routing to the tracker, matching spec.md §4.E.
func (t *Tracker) ExecUpdate(pid int) (*pip.Pip, bool) {
	return t.Find(pid)
}

// ProcExit untracks pid. Equivalent to Untrack, exposed under the
// hook-event name spec.md §4.E uses.
func (t *Tracker) ProcExit(pid int) bool {
	return t.Untrack(pid)
}

// Terminate forcibly terminates p for a reason other than its tree
// reaching zero -- the watchdog's nested_process_termination_timeout
// firing (ReasonTimeout) or report_queue_starvation_timeout firing
// (ReasonQueueStarvation), or the
// dispatcher's fail_unexpected / fail_on_queue_overflow kill switches
// (ReasonUnexpectedAccess / ReasonQueueOverflow). Notifies completion
// exactly once even if called more than once for the same pip.
func (t *Tracker) Terminate(p *pip.Pip, reason CompletionReason) {
	if p.MarkTerminatedIfNotAlready() && t.notifier != nil {
		t.notifier.NotifyTreeCompleted(p, reason)
	}
}

// SweepClient untracks every PID belonging to a pip whose ClientPID
// matches client, used during client crash cleanup (spec.md §4.G
// free_report_queues "also traverse the tracker table"). Each affected
// pip is notified with ReasonClientDisconnect exactly once even though
// it may own many tracked PIDs.
func (t *Tracker) SweepClient(client int) []*pip.Pip {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[uint64]*pip.Pip)
	var toRemove []uint64
	t.byPID.ForEach(func(pidKey uint64, p *pip.Pip) {
		if p.ClientPID != client {
			return
		}
		toRemove = append(toRemove, pidKey)
		seen[p.PipID()] = p
	})

	for _, key := range toRemove {
		t.byPID.Remove(key)
	}

	var affected []*pip.Pip
	for _, p := range seen {
		if p.MarkTerminatedIfNotAlready() && t.notifier != nil {
			t.notifier.NotifyTreeCompleted(p, ReasonClientDisconnect)
		}
		affected = append(affected, p)
	}
	return affected
}

// ForEachPip calls fn once for each distinct pip currently tracked,
// regardless of how many PIDs are attributed to it. Used by
// introspection, which reports per-pip, not per-PID.
func (t *Tracker) ForEachPip(fn func(p *pip.Pip)) {
	seen := make(map[uint64]struct{})
	t.byPID.ForEach(func(_ uint64, p *pip.Pip) {
		if _, ok := seen[p.PipID()]; ok {
			return
		}
		seen[p.PipID()] = struct{}{}
		fn(p)
	})
}

// Count returns the number of PIDs currently tracked, across all pips.
// O(n); introspection use only.
func (t *Tracker) Count() int { return t.byPID.Count() }

// Stats reports tracker-inconsistency counters for introspection.
type Stats struct {
	DuplicateTrackChild uint64
	MissingUntrack      uint64
}

func (t *Tracker) Stats() Stats {
	return Stats{
		DuplicateTrackChild: t.duplicateTrackChild.Load(),
		MissingUntrack:      t.missingUntrack.Load(),
	}
}
