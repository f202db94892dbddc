// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"github.com/kittinap/kunnjae/internal/clock"
	"github.com/kittinap/kunnjae/internal/fam"
	"github.com/kittinap/kunnjae/internal/pip"
	"github.com/kittinap/kunnjae/internal/policy"
	"github.com/kittinap/kunnjae/internal/reportqueue"
	"github.com/kittinap/kunnjae/internal/tracker"
	"github.com/kittinap/kunnjae/internal/watchdog"
	"github.com/kittinap/kunnjae/internal/wire"
)

// Disposition is the allow/deny verdict a hook returns to its kernel
// caller.
type Disposition int

const (
	Allow Disposition = iota
	Deny
)

func (d Disposition) String() string {
	if d == Deny {
		return "deny"
	}
	return "allow"
}

func dispositionFor(allowed bool) Disposition {
	if allowed {
		return Allow
	}
	return Deny
}

// Dispatcher wires the tracker, the policy evaluator, and the report
// queue multiplexer together behind the kernel-hook surface spec.md
// §4.F names.
type Dispatcher struct {
	tracker  *tracker.Tracker
	queues   *reportqueue.Multiplexer
	clock    clock.Clock
	watchdog *watchdog.Watchdog

	// RoundRobin is passed through to every Enqueue call. spec.md
	// §4.G leaves round_robin as a per-call argument; this repository
	// fixes it per dispatcher instance (one core process, one policy)
	// rather than threading a choice through every hook call site.
	RoundRobin bool
}

// New returns a Dispatcher over t and q, using real wall-clock time for
// report timestamps.
func New(t *tracker.Tracker, q *reportqueue.Multiplexer) *Dispatcher {
	return NewWithClock(t, q, clock.Real())
}

// NewWithClock is New, injecting an explicit clock for deterministic
// tests. The same clock drives the watchdog's nested_process_termination
// timer, so a fake clock's Advance also fires it.
func NewWithClock(t *tracker.Tracker, q *reportqueue.Multiplexer, c clock.Clock) *Dispatcher {
	return &Dispatcher{tracker: t, queues: q, clock: c, watchdog: watchdog.New(c, t)}
}

// Lookup implements the lookup hook: spec.md §4.F step 2's "preflight
// variant" that evaluates policy against path without re-entering the
// kernel's own path-resolution machinery, and records path in
// threadSlot so a follow-up Exec or Create on the same kernel thread can
// recover it (the OS does not redeliver the path to those hooks).
func (d *Dispatcher) Lookup(pid, threadSlot int, path string) Disposition {
	p, ok := d.tracker.Find(pid)
	if !ok {
		return Allow
	}
	p.SetLastLookup(threadSlot, path)
	return d.evaluate(p, pid, path, policy.Probe)
}

// Readlink implements the readlink hook: the target path is delivered
// directly to the hook, unlike exec/create.
func (d *Dispatcher) Readlink(pid int, path string) Disposition {
	p, ok := d.tracker.Find(pid)
	if !ok {
		return Allow
	}
	return d.evaluate(p, pid, path, policy.Readlink)
}

// Exec implements the exec hook, recovering the path from the most
// recent Lookup on threadSlot per spec.md §4.D's per-thread last-lookup
// cell.
func (d *Dispatcher) Exec(pid, threadSlot int) Disposition {
	return d.evalFromLastLookup(pid, threadSlot, policy.Exec)
}

// Create implements the create hook, recovering the path the same way
// Exec does.
func (d *Dispatcher) Create(pid, threadSlot int) Disposition {
	return d.evalFromLastLookup(pid, threadSlot, policy.Create)
}

func (d *Dispatcher) evalFromLastLookup(pid, threadSlot int, op policy.Operation) Disposition {
	p, ok := d.tracker.Find(pid)
	if !ok {
		return Allow
	}
	path, ok := p.LastLookup(threadSlot)
	if !ok {
		// No preceding lookup on this thread slot to attribute the
		// access to; allow without reporting rather than evaluate
		// against an empty path, matching the "internal failure ->
		// allow plus diagnostic" propagation policy (spec.md §7).
		p.Counters().IncAllowed()
		return Allow
	}
	return d.evaluate(p, pid, path, op)
}

// Fork implements the fork_child hook (spec.md §4.E).
func (d *Dispatcher) Fork(parentPID, childPID int) bool {
	return d.tracker.ForkChild(parentPID, childPID)
}

// Exit implements the proc_exit hook (spec.md §4.E / §4.H). When the
// exiting pid is a pip's root and the tree survives the exit, the pip
// transitions Running -> Draining instead of terminating outright.
func (d *Dispatcher) Exit(pid int) bool {
	p, found := d.tracker.Find(pid)
	isRoot := found && pid == p.RootPID

	ok := d.tracker.ProcExit(pid)
	if ok && isRoot && p.State() != pip.Terminated {
		p.MarkRootExited()
		d.watchdog.ArmDraining(p)
	}
	return ok
}

// evaluate runs spec.md §4.F steps 3-5: evaluate policy, consult the
// dedup cache, emit a report if warranted, and return the verdict.
func (d *Dispatcher) evaluate(p *pip.Pip, pid int, path string, op policy.Operation) Disposition {
	reportAll := p.Manifest.Flags.Has(fam.ReportAll)
	result := policy.Evaluate(p.Manifest.ScopeTree, path, op, reportAll)

	if result.Allowed {
		p.Counters().IncAllowed()
	} else {
		p.Counters().IncDenied()
	}

	if result.Report || !result.Allowed {
		d.maybeEmit(p, pid, path, op, result)
	}

	if !result.Allowed && p.Manifest.Flags.Has(fam.FailUnexpected) {
		d.tracker.Terminate(p, tracker.ReasonUnexpectedAccess)
	}

	return dispositionFor(result.Allowed)
}

// maybeEmit suppresses a report already emitted for this (path, op)
// pair within the pip's lifetime, or synthesizes and enqueues a fresh
// AccessReport.
func (d *Dispatcher) maybeEmit(p *pip.Pip, pid int, path string, op policy.Operation, result policy.Result) {
	record, cacheable := p.CacheLookup(path, op)
	if cacheable && !record.MarkReported() {
		p.Counters().IncReportSuppressed()
		return
	}

	status := wire.Allowed
	if !result.Allowed {
		status = wire.Denied
	}
	report := wire.AccessReport{
		Operation:       uint32(op),
		RequestedAccess: uint32(policy.RequiredMask(op)),
		StatusField:     status,
		PipID:           p.PipID(),
		ClientPID:       int32(p.ClientPID),
		RootPID:         int32(p.RootPID),
		PID:             int32(pid),
		Stats:           wire.Stats{EnqueueNS: uint64(d.clock.Now().UnixNano())},
		Path:            path,
	}

	p.Counters().IncReportEmitted()
	if d.queues.Enqueue(p.ClientPID, report, d.RoundRobin) {
		return
	}

	p.Counters().IncQueueEnqueueFailed()
	if p.Manifest.Flags.Has(fam.FailOnQueueOverflow) {
		d.tracker.Terminate(p, tracker.ReasonQueueOverflow)
	}
}
