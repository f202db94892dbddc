// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/kittinap/kunnjae/internal/clock"
	"github.com/kittinap/kunnjae/internal/pip"
	"github.com/kittinap/kunnjae/internal/reportqueue"
	"github.com/kittinap/kunnjae/internal/tracker"
)

// DefaultNestedProcessTerminationTimeoutMS is used when a manifest
// leaves nested_process_termination_timeout_ms unset (0).
const DefaultNestedProcessTerminationTimeoutMS = 30_000

// DefaultReportQueueStarvationTimeoutMS is used when a manifest leaves
// report_queue_starvation_timeout_ms unset (0).
const DefaultReportQueueStarvationTimeoutMS = 60_000

// Watchdog arms and fires the two background timers spec.md §4.G and
// §4.H describe but never name an owner for. It holds no state of its
// own beyond the clock and tracker references; every armed timer
// closes over the specific pip (and, for queue starvation, ring) it
// watches.
type Watchdog struct {
	clock   clock.Clock
	tracker *tracker.Tracker
}

// New returns a Watchdog driven by c, terminating pips through tr.
func New(c clock.Clock, tr *tracker.Tracker) *Watchdog {
	return &Watchdog{clock: c, tracker: tr}
}

// ArmDraining schedules p's nested_process_termination_timeout,
// starting now. If p is still Draining when the timer fires -- its
// surviving descendants never reached zero on their own -- it is
// forced to Terminated with ReasonTimeout, per spec.md §4.H "timeout
// in Draining moves to Terminated and records surviving children in
// the final report". A no-op timer is still returned if p is not
// Draining at call time, so callers don't need to special-case it.
//
// The returned Timer may be stopped early if the tree completes
// naturally first; Terminate is idempotent even if it fires anyway.
func (w *Watchdog) ArmDraining(p *pip.Pip) *clock.Timer {
	timeoutMS := p.Manifest.NestedProcessTerminationTimeoutMS
	if timeoutMS == 0 {
		timeoutMS = DefaultNestedProcessTerminationTimeoutMS
	}
	return w.clock.AfterFunc(time.Duration(timeoutMS)*time.Millisecond, func() {
		if p.State() == pip.Draining {
			slog.Warn("watchdog: nested_process_termination_timeout fired",
				"pip_id", p.PipID(), "root_pid", p.RootPID, "tree_count", p.ProcessTreeCount())
			w.tracker.Terminate(p, tracker.ReasonTimeout)
		}
	})
}

// WatchQueueStarvation starts a background goroutine that polls ring
// once per report_queue_starvation_timeout_ms and kills p -- with
// ReasonQueueStarvation, via Terminate, which also causes the
// report-queue multiplexer to emit the synthetic
// kill-and-report-queue-closed record spec.md §4.G requires -- the
// first time it observes ring holding at least one unconsumed report
// with no Pop having happened since the previous poll.
//
// The goroutine exits on its own once p reaches Terminated (by any
// means), or immediately if ctx is canceled.
func (w *Watchdog) WatchQueueStarvation(ctx context.Context, p *pip.Pip, ring *reportqueue.Ring, timeoutMS uint32) {
	if timeoutMS == 0 {
		timeoutMS = DefaultReportQueueStarvationTimeoutMS
	}
	interval := time.Duration(timeoutMS) * time.Millisecond
	ticker := w.clock.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		lastSeq := ring.ActivitySeq()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if p.State() == pip.Terminated {
					return
				}
				seq := ring.ActivitySeq()
				if ring.Len() > 0 && seq == lastSeq {
					slog.Warn("watchdog: report_queue_starvation_timeout fired",
						"pip_id", p.PipID(), "client_pid", p.ClientPID, "queued", ring.Len())
					w.tracker.Terminate(p, tracker.ReasonQueueStarvation)
					return
				}
				lastSeq = seq
			}
		}
	}()
}

// WatchQueueStarvationForClient is WatchQueueStarvation for a queue
// that is not owned by a single pip: a client's report queue may be
// shared across every pip it is currently draining. When ring starves,
// every pip the tracker still attributes to client is terminated with
// ReasonQueueStarvation, not just one.
func (w *Watchdog) WatchQueueStarvationForClient(ctx context.Context, clientPID int, ring *reportqueue.Ring, timeoutMS uint32) {
	if timeoutMS == 0 {
		timeoutMS = DefaultReportQueueStarvationTimeoutMS
	}
	interval := time.Duration(timeoutMS) * time.Millisecond
	ticker := w.clock.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		lastSeq := ring.ActivitySeq()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				seq := ring.ActivitySeq()
				if ring.Len() > 0 && seq == lastSeq {
					slog.Warn("watchdog: report_queue_starvation_timeout fired for client",
						"client_pid", clientPID, "queued", ring.Len())
					w.tracker.ForEachPip(func(p *pip.Pip) {
						if p.ClientPID == clientPID {
							w.tracker.Terminate(p, tracker.ReasonQueueStarvation)
						}
					})
					return
				}
				lastSeq = seq
			}
		}
	}()
}
