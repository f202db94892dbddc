// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kittinap/kunnjae/internal/clock"
	"github.com/kittinap/kunnjae/internal/dispatch"
	"github.com/kittinap/kunnjae/internal/fam"
	"github.com/kittinap/kunnjae/internal/pip"
	"github.com/kittinap/kunnjae/internal/reportqueue"
	"github.com/kittinap/kunnjae/internal/tracker"
	"github.com/kittinap/kunnjae/internal/watchdog"
	"github.com/kittinap/kunnjae/internal/wire"
)

// Core is the sandbox core's control-plane surface: the seven RPCs of
// spec.md §6, wired over this repository's tracker, report-queue
// multiplexer, and dispatcher.
//
// Structural changes (registering a new pip, allocating a queue) go
// through the tracker's and multiplexer's own internal locks; Core
// itself holds no mutex of its own, matching the teacher's recurring
// "single narrow lock around structural writes, lock-free reads" shape
// (lib/artifactstore's BlockRing.mu guards only the writer cursor).
type Core struct {
	tracker    *tracker.Tracker
	queues     *reportqueue.Multiplexer
	dispatcher *dispatch.Dispatcher
	watchdog   *watchdog.Watchdog

	// watchCtx bounds every report-queue starvation watcher this Core
	// starts; canceling it on shutdown stops them all without having
	// to track each one individually.
	watchCtx    context.Context
	cancelWatch context.CancelFunc

	defaultQueueMiB atomic.Uint32
}

// New returns a Core with an empty tracker and report-queue multiplexer.
func New() *Core {
	return newWithClock(clock.Real())
}

func newWithClock(c clock.Clock) *Core {
	q := reportqueue.New()
	tr := tracker.New(q)
	q.AttachSweeper(tr)
	ctx, cancel := context.WithCancel(context.Background())

	return &Core{
		tracker:     tr,
		queues:      q,
		dispatcher:  dispatch.NewWithClock(tr, q, c),
		watchdog:    watchdog.New(c, tr),
		watchCtx:    ctx,
		cancelWatch: cancel,
	}
}

// Close stops every report-queue starvation watcher this Core started.
func (c *Core) Close() { c.cancelWatch() }

// Dispatcher returns the event dispatcher the process tracer (e.g.
// internal/ptracedriver) drives on every hook event.
func (c *Core) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }

// SetReportQueueSize implements spec.md §6's set_report_queue_size,
// clamping mib to [1, reportqueue.MaxQueueSizeMiB] and recording it as
// the default used by future AllocateReportQueue calls that don't
// override it.
func (c *Core) SetReportQueueSize(mib uint32) wire.ExitCode {
	if mib == 0 {
		mib = reportqueue.DefaultQueueSizeMiB
	}
	if mib > reportqueue.MaxQueueSizeMiB {
		mib = reportqueue.MaxQueueSizeMiB
	}
	c.defaultQueueMiB.Store(mib)
	return wire.Success
}

// AllocateReportQueue implements allocate_report_queue: it appends a
// new queue to client's list, sized from the last SetReportQueueSize
// call (or reportqueue's own default if none was ever made).
func (c *Core) AllocateReportQueue(clientPID int) wire.ExitCode {
	c.queues.AllocateQueue(clientPID, c.defaultQueueMiB.Load())
	return wire.Success
}

// SetReportQueueNotificationPort implements
// set_report_queue_notification_port, FIFO-paired with
// GetReportQueueMemoryDescriptor.
func (c *Core) SetReportQueueNotificationPort(clientPID int, port chan struct{}) wire.ExitCode {
	if !c.queues.SetNotificationPort(clientPID, port) {
		return wire.ResourceExhausted
	}
	return wire.Success
}

// GetReportQueueMemoryDescriptor implements
// get_report_queue_memory_descriptor, handing back the next
// unclaimed queue in FIFO order.
func (c *Core) GetReportQueueMemoryDescriptor(clientPID int) (*reportqueue.Ring, wire.ExitCode) {
	r, ok := c.queues.MemoryDescriptorForNext(clientPID)
	if !ok {
		return nil, wire.ResourceExhausted
	}

	var timeoutMS uint32
	c.tracker.ForEachPip(func(p *pip.Pip) {
		if p.ClientPID == clientPID && timeoutMS == 0 {
			timeoutMS = p.Manifest.ReportQueueStarvationTimeoutMS
		}
	})
	c.watchdog.WatchQueueStarvationForClient(c.watchCtx, clientPID, r, timeoutMS)

	return r, wire.Success
}

// FreeReportQueues implements free_report_queues: idempotent, and also
// sweeps the tracker table for any pip belonging to clientPID (spec.md
// §6 client-crash cleanup).
func (c *Core) FreeReportQueues(clientPID int) wire.ExitCode {
	c.queues.FreeQueues(clientPID)
	return wire.Success
}

// TrackRoot implements track_root: parses famBytes and registers a new
// pip for rootPID under clientPID. Returns AlreadyRegistered, unchanged,
// if rootPID is already tracked by a live (non-Terminated) pip.
func (c *Core) TrackRoot(clientPID, rootPID int, famBytes []byte) (pipID uint64, code wire.ExitCode, diagnostic string) {
	if existing, ok := c.tracker.Find(rootPID); ok && existing.State() != pip.Terminated {
		return 0, wire.AlreadyRegistered, fmt.Sprintf("root_pid %d is already tracked", rootPID)
	}

	manifest, err := fam.Parse(famBytes)
	if err != nil {
		return 0, wire.ParseError, err.Error()
	}

	p := pip.New(clientPID, rootPID, manifest)
	c.tracker.TrackRoot(p)
	slog.Info("core: tracked root", "client_pid", clientPID, "root_pid", rootPID, "pip_id", p.PipID())
	return p.PipID(), wire.Success, ""
}

// Introspect implements introspect: a point-in-time snapshot of every
// pip the tracker currently governs.
func (c *Core) Introspect() []pip.PipInfo {
	var infos []pip.PipInfo
	c.tracker.ForEachPip(func(p *pip.Pip) {
		infos = append(infos, p.Introspect())
	})
	return infos
}

// Handle routes a decoded control-plane request to the matching Core
// method and encodes its result as a Response, per spec.md §6's
// synchronous request/response contract. Handle never panics on a
// malformed payload; it returns an InvalidArgument response instead.
func (c *Core) Handle(req wire.Request) wire.Response {
	switch req.Verb {
	case wire.VerbSetReportQueueSize:
		var body wire.SetReportQueueSizeRequest
		if err := req.DecodePayload(&body); err != nil {
			return wire.ErrorResponse(wire.InvalidArgument, err.Error())
		}
		return wire.Response{Code: c.SetReportQueueSize(body.MiB)}

	case wire.VerbAllocateReportQueue:
		var body wire.AllocateReportQueueRequest
		if err := req.DecodePayload(&body); err != nil {
			return wire.ErrorResponse(wire.InvalidArgument, err.Error())
		}
		return wire.Response{Code: c.AllocateReportQueue(body.ClientPID)}

	case wire.VerbFreeReportQueues:
		var body wire.FreeReportQueuesRequest
		if err := req.DecodePayload(&body); err != nil {
			return wire.ErrorResponse(wire.InvalidArgument, err.Error())
		}
		return wire.Response{Code: c.FreeReportQueues(body.ClientPID)}

	case wire.VerbTrackRoot:
		var body wire.TrackRootRequest
		if err := req.DecodePayload(&body); err != nil {
			return wire.ErrorResponse(wire.InvalidArgument, err.Error())
		}
		pipID, code, diagnostic := c.TrackRoot(body.ClientPID, body.RootPID, body.FAMBytes)
		if code != wire.Success {
			return wire.ErrorResponse(code, diagnostic)
		}
		resp, err := wire.EncodeResponse(wire.TrackRootResponse{PipID: pipID})
		if err != nil {
			return wire.ErrorResponse(wire.InvalidArgument, err.Error())
		}
		return resp

	case wire.VerbIntrospect:
		resp, err := wire.EncodeResponse(wire.IntrospectResponse{Pips: toWirePipInfos(c.Introspect())})
		if err != nil {
			return wire.ErrorResponse(wire.InvalidArgument, err.Error())
		}
		return resp

	// VerbSetReportQueueNotificationPort and
	// VerbGetReportQueueMemoryDescriptor are handled by
	// internal/ipcserver directly, not through Handle: both carry an
	// out-of-band payload (a kernel notification port, a memfd handed
	// over SCM_RIGHTS) that a CBOR-framed Request/Response pair cannot
	// represent. Handle still recognizes the verbs so an unrecognized
	// verb and a deliberately-out-of-band one are distinguishable.
	case wire.VerbSetReportQueueNotificationPort, wire.VerbGetReportQueueMemoryDescriptor:
		return wire.ErrorResponse(wire.InvalidArgument, "handled out-of-band, not via Handle")

	default:
		return wire.ErrorResponse(wire.InvalidArgument, fmt.Sprintf("unknown verb %q", req.Verb))
	}
}

// toWirePipInfos converts pip.PipInfo snapshots to their CBOR-serializable
// wire mirror, per internal/wire's documented layering (wire sits below
// pip in the dependency graph).
func toWirePipInfos(infos []pip.PipInfo) []wire.PipInfo {
	out := make([]wire.PipInfo, len(infos))
	for i, info := range infos {
		out[i] = wire.PipInfo{
			PipID:              info.PipID,
			ClientPID:          info.ClientPID,
			RootPID:            info.RootPID,
			State:              info.State.String(),
			ProcessTreeCount:   info.ProcessTreeCount,
			AccessesAllowed:    info.Counters.AccessesAllowed,
			AccessesDenied:     info.Counters.AccessesDenied,
			ReportsEmitted:     info.Counters.ReportsEmitted,
			ReportsSuppressed:  info.Counters.ReportsSuppressed,
			CacheHits:          info.Counters.CacheHits,
			CacheMisses:        info.Counters.CacheMisses,
			QueueEnqueueFailed: info.Counters.QueueEnqueueFailed,
		}
	}
	return out
}
