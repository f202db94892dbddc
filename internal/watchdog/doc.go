// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package watchdog enforces the two timers spec.md §4.G and §4.H name
// but never arm themselves: nested_process_termination_timeout, which
// bounds how long a Draining pip's surviving descendants may outlive
// their root, and report_queue_starvation_timeout, which bounds how
// long a client may leave reports queued without draining them.
//
// Both timers are driven through an injected internal/clock.Clock so
// tests can fire them deterministically without sleeping.
package watchdog
