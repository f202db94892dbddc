// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package trie implements the two lock-free, fixed-fan-out tries the
// sandbox core uses on its hot paths: [Uint], keyed by a 64-bit integer
// (the process tracker's pid index), and [Path], keyed by a filesystem
// path (the pip path-dedup cache and the policy scope tree's lookup
// index).
//
// Both tries use the same technique: each node holds a fixed-size array
// of atomic child pointers and one atomic value pointer, and every
// mutation is a single compare-and-swap against a slot. Readers never
// block and never see a partially-constructed node — a child slot is
// either nil or points to a fully-built node, and a value slot is either
// nil or points to a fully-built value. Lookups that race a concurrent
// insert either see the old state or the new state, never a torn one.
// A writer that loses a CAS race retries internally and the loss is
// counted in [Stats].Races; no Uint or Path operation returns [Race].
//
// Path uses a 65-way fan-out: paths are indexed byte by byte after
// folding to uppercase, so the trie is case-insensitive by construction
// in exactly the way a case-insensitive filesystem's path comparisons
// are. Uint uses a 10-way fan-out over the decimal digits of the key,
// walked least-significant digit first, so two keys only share a node
// prefix when they share trailing (low-order) digits,
// which never causes a spurious match because every key is walked to a
// fixed depth.
package trie
