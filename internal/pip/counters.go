// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pip

import "sync/atomic"

// Counters tracks per-pip instrumentation, grounded on the original
// SandboxedPip.hpp's "AllCounters" (IMPORTANT: counters may be globally
// disabled). Every field is an independent atomic so hot-path increments
// never contend with each other or with a concurrent CountersSnapshot.
type Counters struct {
	disabled atomic.Bool

	accessesAllowed    atomic.Int64
	accessesDenied     atomic.Int64
	reportsEmitted     atomic.Int64
	reportsSuppressed  atomic.Int64
	cacheHits          atomic.Int64
	cacheMisses        atomic.Int64
	queueEnqueueFailed atomic.Int64
}

// Disable turns off counting; all further increments become no-ops.
// Matches the original's "counters may be globally disabled" note.
func (c *Counters) Disable() { c.disabled.Store(true) }

func (c *Counters) add(counter *atomic.Int64) {
	if c.disabled.Load() {
		return
	}
	counter.Add(1)
}

func (c *Counters) IncAllowed()            { c.add(&c.accessesAllowed) }
func (c *Counters) IncDenied()              { c.add(&c.accessesDenied) }
func (c *Counters) IncReportEmitted()       { c.add(&c.reportsEmitted) }
func (c *Counters) IncReportSuppressed()    { c.add(&c.reportsSuppressed) }
func (c *Counters) IncCacheHit()            { c.add(&c.cacheHits) }
func (c *Counters) IncCacheMiss()           { c.add(&c.cacheMisses) }
func (c *Counters) IncQueueEnqueueFailed()  { c.add(&c.queueEnqueueFailed) }

// CountersSnapshot is a point-in-time copy of [Counters] for
// introspection RPCs.
type CountersSnapshot struct {
	AccessesAllowed    int64
	AccessesDenied     int64
	ReportsEmitted     int64
	ReportsSuppressed  int64
	CacheHits          int64
	CacheMisses        int64
	QueueEnqueueFailed int64
}

// Snapshot returns the current values of every counter.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		AccessesAllowed:    c.accessesAllowed.Load(),
		AccessesDenied:     c.accessesDenied.Load(),
		ReportsEmitted:     c.reportsEmitted.Load(),
		ReportsSuppressed:  c.reportsSuppressed.Load(),
		CacheHits:          c.cacheHits.Load(),
		CacheMisses:        c.cacheMisses.Load(),
		QueueEnqueueFailed: c.queueEnqueueFailed.Load(),
	}
}
