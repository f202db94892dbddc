// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trie

// Result reports the outcome of a mutating trie operation.
type Result int

const (
	// Inserted means a value was newly written into an empty slot.
	Inserted Result = iota
	// Replaced means a value was written over an existing value.
	Replaced
	// Removed means a previously-present value was cleared.
	Removed
	// AlreadyEmpty means a remove was requested for a slot that held no
	// value; a no-op, not an error.
	AlreadyEmpty
	// AlreadyExists means an insert-only operation found a value
	// already present and left it untouched.
	AlreadyExists
	// Race means an operation lost a compare-and-swap to a concurrent
	// writer. Uint and Path retry a lost compare-and-swap internally
	// and never return Race.
	Race
	// Failure means the key could not be represented by the trie (for
	// Path, a byte outside the trie's supported range).
	Failure
)

func (r Result) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Removed:
		return "removed"
	case AlreadyEmpty:
		return "already_empty"
	case AlreadyExists:
		return "already_exists"
	case Race:
		return "race"
	case Failure:
		return "failure"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of trie instrumentation counters.
// Every counter is monotonically increasing for the lifetime of the
// trie; callers interested in a rate take two snapshots and subtract.
type Stats struct {
	Inserts    uint64
	Replaces   uint64
	Removes    uint64
	Races      uint64
	NodesAlive uint64
}
