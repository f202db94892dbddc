// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shm creates memfd-backed shared memory segments and hands
// their file descriptor to an out-of-process client over SCM_RIGHTS.
//
// internal/ipcserver is the only caller: internal/reportqueue's Ring
// stays a plain in-process slice (see its own doc comment), and a
// per-client forwarder copies each popped report into the Segment a
// client mapped via get_report_queue_memory_descriptor, so the ring's
// hot path never touches a syscall.
package shm
