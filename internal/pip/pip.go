// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pip

import (
	"sync/atomic"

	"github.com/kittinap/kunnjae/internal/fam"
	"github.com/kittinap/kunnjae/internal/policy"
	"github.com/kittinap/kunnjae/internal/trie"
)

// MaxThreadSlots bounds the per-thread last-lookup table. spec.md §9
// calls for "an array indexed by a kernel-assigned logical thread id,
// sized to the platform maximum"; on Linux there is no such fixed
// maximum (TIDs are unbounded), so this repository substitutes a bounded
// table indexed by a small "tracer thread slot" that internal/ptracedriver
// assigns per traced kernel thread — a deliberate, documented
// substitution (DESIGN.md Open Question 5) rather than an unbounded map
// on the hot path.
const MaxThreadSlots = 4096

// CacheRecord memoizes "already reported for this (path, operation)
// pair within this pip" so repeated identical accesses on the hot path
// deduplicate, per spec.md §4.D and Testable Property 4.
type CacheRecord struct {
	reported atomic.Bool
}

// MarkReported reports whether this is the first caller to mark the
// record reported -- true means the caller should emit a report, false
// means a report was already emitted and this access must be
// suppressed.
func (r *CacheRecord) MarkReported() (first bool) {
	return r.reported.CompareAndSwap(false, true)
}

// Pip is the Go representation of a SandboxedPip: the aggregate owning
// one root build action's FAM, path-dedup cache, process-tree count, and
// per-thread last-lookup slots.
//
// Pip is shared between the tracker (which holds one strong reference
// per tracked PID) and the dispatcher (which borrows a reference scoped
// to a single hook call). Construct with [New]; the zero value is not
// usable.
type Pip struct {
	ClientPID int
	RootPID   int
	Manifest  *fam.Manifest

	processTreeCount atomic.Int32
	refCount         atomic.Int32
	state            atomic.Int32 // State, accessed via atomic for lock-free reads

	pathCache *trie.Path[*CacheRecord]
	counters  Counters

	threadSlots [MaxThreadSlots]atomic.Pointer[string]
}

// New returns a Pip registered in the Registered state with a tree count
// of 1 and a ref count of 1 (the caller's own reference, conventionally
// released once the tracker has taken its own via [Pip.Retain]).
func New(clientPID, rootPID int, manifest *fam.Manifest) *Pip {
	p := &Pip{
		ClientPID: clientPID,
		RootPID:   rootPID,
		Manifest:  manifest,
		pathCache: trie.NewPath[*CacheRecord](),
	}
	p.processTreeCount.Store(1)
	p.refCount.Store(1)
	p.state.Store(int32(Registered))
	return p
}

// State returns the pip's current lifecycle state.
func (p *Pip) State() State { return State(p.state.Load()) }

func (p *Pip) setState(s State) { p.state.Store(int32(s)) }

// ProcessTreeCount returns the number of PIDs currently attributed to
// this pip.
func (p *Pip) ProcessTreeCount() int32 { return p.processTreeCount.Load() }

// IncrementProcessTreeCount records a newly-tracked PID. If the pip was
// Registered, it transitions to Running (a second PID has joined the
// tree; matches spec.md §4.H: "fork_child increments and stays in
// current state" for an already-Running pip, and Registered -> Running
// the first time a child is tracked).
func (p *Pip) IncrementProcessTreeCount() int32 {
	n := p.processTreeCount.Add(1)
	if p.State() == Registered {
		p.setState(Running)
	}
	return n
}

// DecrementProcessTreeCount records a PID leaving the tree. Returns the
// new count; callers at 0 are responsible for the Terminated transition
// and process-tree-completed report (see internal/tracker).
func (p *Pip) DecrementProcessTreeCount() int32 {
	return p.processTreeCount.Add(-1)
}

// MarkRootExited transitions Running -> Draining, per spec.md §4.H. A
// no-op if the pip is already Draining or Terminated, or if other
// descendants already brought the tree to zero (the caller should have
// terminated in that case instead).
func (p *Pip) MarkRootExited() {
	for {
		cur := p.State()
		if cur != Registered && cur != Running {
			return
		}
		if p.state.CompareAndSwap(int32(cur), int32(Draining)) {
			return
		}
	}
}

// MarkTerminated transitions unconditionally to Terminated. Idempotent.
func (p *Pip) MarkTerminated() { p.setState(Terminated) }

// MarkTerminatedIfNotAlready transitions to Terminated and reports true
// only for the caller that actually performs the transition. Callers
// that race to terminate the same pip (a forced [tracker.Tracker.Terminate]
// racing the tree-count reaching zero via untrack) use this to ensure
// exactly one of them notifies the completion sink, per Testable
// Property 3: no report bearing a pip's id is emitted after its
// process-tree-completed report.
func (p *Pip) MarkTerminatedIfNotAlready() bool {
	for {
		cur := p.State()
		if cur == Terminated {
			return false
		}
		if p.state.CompareAndSwap(int32(cur), int32(Terminated)) {
			return true
		}
	}
}

// Retain increments the reference count and returns the new count.
func (p *Pip) Retain() int32 { return p.refCount.Add(1) }

// Release decrements the reference count and returns the new count. A
// caller observing 0 is responsible for running teardown (releasing the
// FAM buffer, clearing the path cache) off the hot path -- this type
// itself holds no finalizer.
func (p *Pip) Release() int32 { return p.refCount.Add(-1) }

// PipID returns the manifest-supplied pip identifier.
func (p *Pip) PipID() uint64 { return p.Manifest.PipID }

// Counters returns the pip's instrumentation counters.
func (p *Pip) Counters() *Counters { return &p.counters }

// cacheKey combines a path and operation into the path-trie's string
// key space. The operation is encoded as a single decimal digit
// (Operation's range never exceeds one digit) followed by ':', both
// within the path trie's supported byte range [32,122], then the path
// itself -- a fixed-width prefix, so the split is unambiguous
// regardless of what bytes the path contains.
func cacheKey(path string, op policy.Operation) string {
	return string('0'+byte(op)) + ":" + path
}

// CacheLookup returns the dedup record for (path, op) within this pip,
// creating one if absent. ok is false if path contains a byte the path
// trie cannot represent (non-ASCII); per spec.md's boundary behavior and
// Testable Property, such paths are never cached -- every call for a
// non-ASCII path returns a fresh, unshared record that was never
// inserted into the trie, so MarkReported on it always reports true.
func (p *Pip) CacheLookup(path string, op policy.Operation) (record *CacheRecord, ok bool) {
	value, _, ok := p.pathCache.GetOrAdd(cacheKey(path, op), func() *CacheRecord {
		return &CacheRecord{}
	})
	if !ok {
		p.counters.IncCacheMiss()
		return &CacheRecord{}, false
	}
	return value, true
}

// SetLastLookup records path as the most recent lookup-phase path seen
// on the given tracer thread slot. slot must be in [0, MaxThreadSlots).
func (p *Pip) SetLastLookup(slot int, path string) {
	if slot < 0 || slot >= MaxThreadSlots {
		return
	}
	v := path
	p.threadSlots[slot].Store(&v)
}

// LastLookup returns the most recently recorded lookup-phase path for
// slot, and whether one was ever recorded.
func (p *Pip) LastLookup(slot int) (path string, ok bool) {
	if slot < 0 || slot >= MaxThreadSlots {
		return "", false
	}
	v := p.threadSlots[slot].Load()
	if v == nil {
		return "", false
	}
	return *v, true
}

// PipInfo is the introspection-facing snapshot of a pip, returned by
// core.Core.Introspect.
type PipInfo struct {
	PipID            uint64
	ClientPID        int
	RootPID          int
	State            State
	ProcessTreeCount int32
	Counters         CountersSnapshot
}

// Introspect returns a point-in-time snapshot of this pip.
func (p *Pip) Introspect() PipInfo {
	return PipInfo{
		PipID:            p.PipID(),
		ClientPID:        p.ClientPID,
		RootPID:          p.RootPID,
		State:            p.State(),
		ProcessTreeCount: p.ProcessTreeCount(),
		Counters:         p.counters.Snapshot(),
	}
}
