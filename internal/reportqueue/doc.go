// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reportqueue implements the per-client report queue
// multiplexer of spec.md §4.G: an ordered list of fixed-capacity
// single-producer/single-consumer rings of [wire.AccessReport], indexed
// by client PID.
//
// [Ring] stands in for the real kernel's wired, pageable
// IOSharedDataQueue: a fixed-capacity slot array with atomic
// producer/consumer cursors, safe for exactly one concurrent writer
// (the dispatcher) and one concurrent reader (the client drain loop) per
// ring -- the SPSC discipline spec.md's data model assumes.
// [Multiplexer.SetNotificationPort] stands in for attaching a kernel
// notification port to a queue: a Go channel send is this repository's
// userspace analogue of firing an OSAsyncReference64 completion.
package reportqueue
