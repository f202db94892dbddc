// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pip implements SandboxedPip, the aggregate that owns one root
// build action's File Access Manifest, path-dedup cache, process-tree
// count, and per-thread last-lookup slots.
//
// A Pip is created once when its root process starts (registered into
// the process tracker) and is shared between the tracker (one strong
// reference per tracked PID) and the dispatcher (a borrowed reference
// scoped to a single hook call). It is destroyed when its reference
// count reaches zero, which happens when ProcessTreeCount reaches zero
// and every tracker entry referencing it has been removed.
package pip
