// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tracker maps every OS PID participating in a pip's process
// tree to its owning [pip.Pip], and drives the fork/exec/exit
// transitions spec.md §4.E and §4.H describe.
//
// The PID index is a [trie.Uint], giving O(1)-in-practice lookup on the
// dispatcher's hot path and a cheap empty-table case (no build action
// running). Structural changes (track/untrack) additionally take a
// mutex to serialize the tracker-wide invariant checks spec.md §8 lists
// (at most one pip per PID; ProcessTreeCount equals the PID count); the
// trie itself remains lock-free for reads.
package tracker
