// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch implements the event dispatcher of spec.md §4.F: the
// kernel-hook entry points (lookup, exec, create, readlink, fork, exit)
// that tie the tracker, the policy evaluator, and the report queue
// multiplexer together on the hot path.
//
// Every exported method here runs, conceptually, inside a kernel
// execution context: it must never block, allocate from pageable
// memory, or unwind an exception across the hook boundary. This
// repository's hooks are plain Go method calls instead of actual kernel
// vnode/fileop callbacks, but they preserve that contract by construction
// -- no hook method returns an error; internal failure degrades to
// Allow plus a diagnostic counter increment, per spec.md §7's
// "hot-path hooks never unwind exceptional control flow" propagation
// policy.
package dispatch
