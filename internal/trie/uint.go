// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trie

import "sync/atomic"

// uintFanOut is the number of children per node: one per decimal digit.
const uintFanOut = 10

// uintDepth is the number of digits a uint64 key is always walked to,
// so that no key is ever a strict prefix of another key's path.
const uintDepth = 20

// uintNode is one level of a Uint trie.
type uintNode[V any] struct {
	children [uintFanOut]atomic.Pointer[uintNode[V]]
	value    atomic.Pointer[V]
}

// Uint is a lock-free trie keyed by a uint64, fixed at 10-way fan-out
// over decimal digits. The zero value is not usable; construct with
// [NewUint].
type Uint[V any] struct {
	root uintNode[V]

	inserts, replaces, removes, races, nodesAlive atomic.Uint64
	size                                           atomic.Int64
	onChange                                       atomic.Pointer[func(oldCount, newCount int)]
}

// OnChange registers fn to be called whenever the trie's value count
// changes. Only one callback is retained; a later call replaces the
// earlier one. fn is called synchronously from the mutator that caused
// the change, with the count immediately before and after.
func (t *Uint[V]) OnChange(fn func(oldCount, newCount int)) {
	t.onChange.Store(&fn)
}

func (t *Uint[V]) triggerOnChange(oldCount, newCount int) {
	if oldCount == newCount {
		return
	}
	if cb := t.onChange.Load(); cb != nil {
		(*cb)(oldCount, newCount)
	}
}

// NewUint returns an empty Uint trie.
func NewUint[V any]() *Uint[V] {
	return &Uint[V]{}
}

func digits(key uint64) [uintDepth]int {
	var d [uintDepth]int
	for i := 0; i < uintDepth; i++ {
		d[i] = int(key % 10)
		key /= 10
	}
	return d
}

// walk descends from the root along key's digit path, creating
// intermediate nodes as needed when create is true. It returns the leaf
// node, or nil if create is false and a node on the path is missing.
func (t *Uint[V]) walk(key uint64, create bool) *uintNode[V] {
	d := digits(key)
	n := &t.root
	for _, digit := range d {
		child := n.children[digit].Load()
		if child == nil {
			if !create {
				return nil
			}
			fresh := &uintNode[V]{}
			if n.children[digit].CompareAndSwap(nil, fresh) {
				t.nodesAlive.Add(1)
				child = fresh
			} else {
				// Someone else installed it first; use theirs.
				child = n.children[digit].Load()
			}
		}
		n = child
	}
	return n
}

// Get returns the value stored for key, and whether it was present.
func (t *Uint[V]) Get(key uint64) (V, bool) {
	n := t.walk(key, false)
	if n == nil {
		var zero V
		return zero, false
	}
	v := n.value.Load()
	if v == nil {
		var zero V
		return zero, false
	}
	return *v, true
}

// GetOrAdd returns the existing value for key if present, or installs
// and returns compute() if not. compute is called at most once per
// successful install but may be called more than once total if a
// concurrent writer wins the race to install first; the losing computed
// value is discarded.
func (t *Uint[V]) GetOrAdd(key uint64, compute func() V) (value V, loaded bool) {
	n := t.walk(key, true)
	for {
		existing := n.value.Load()
		if existing != nil {
			return *existing, true
		}
		fresh := compute()
		if n.value.CompareAndSwap(nil, &fresh) {
			t.inserts.Add(1)
			newCount := int(t.size.Add(1))
			t.triggerOnChange(newCount-1, newCount)
			return fresh, false
		}
		t.races.Add(1)
		// Lost the race; loop to read what the winner installed.
	}
}

// Insert stores value for key only if no value is already present. It
// returns [Inserted] if key was empty, or [AlreadyExists] if a value
// was already present (value is left untouched). Use [Uint.Replace] to
// overwrite an existing value.
func (t *Uint[V]) Insert(key uint64, value V) Result {
	n := t.walk(key, true)
	for {
		if n.value.Load() != nil {
			return AlreadyExists
		}
		v := value
		if n.value.CompareAndSwap(nil, &v) {
			t.inserts.Add(1)
			newCount := int(t.size.Add(1))
			t.triggerOnChange(newCount-1, newCount)
			return Inserted
		}
		t.races.Add(1)
	}
}

// Replace stores value for key unconditionally, overwriting any value
// already present. It returns Inserted if the slot was empty, Replaced
// if it held a value already.
func (t *Uint[V]) Replace(key uint64, value V) Result {
	n := t.walk(key, true)
	for {
		existing := n.value.Load()
		v := value
		if existing == nil {
			if n.value.CompareAndSwap(nil, &v) {
				t.inserts.Add(1)
				newCount := int(t.size.Add(1))
				t.triggerOnChange(newCount-1, newCount)
				return Inserted
			}
			t.races.Add(1)
			continue
		}
		if n.value.CompareAndSwap(existing, &v) {
			t.replaces.Add(1)
			return Replaced
		}
		t.races.Add(1)
	}
}

// Remove clears the value for key, if any.
func (t *Uint[V]) Remove(key uint64) Result {
	n := t.walk(key, false)
	if n == nil {
		return AlreadyEmpty
	}
	for {
		existing := n.value.Load()
		if existing == nil {
			return AlreadyEmpty
		}
		if n.value.CompareAndSwap(existing, nil) {
			t.removes.Add(1)
			newCount := int(t.size.Add(-1))
			t.triggerOnChange(newCount+1, newCount)
			return Removed
		}
		t.races.Add(1)
	}
}

// ForEach calls fn for every key/value currently in the trie, in
// unspecified order. It is best-effort under concurrent mutation: a key
// inserted or removed during the walk may or may not be observed, but
// every call to fn sees a value that was genuinely present at some
// instant during the walk.
func (t *Uint[V]) ForEach(fn func(key uint64, value V)) {
	t.root.walkAll(0, 1, fn)
}

func (n *uintNode[V]) walkAll(key uint64, place uint64, fn func(uint64, V)) {
	if v := n.value.Load(); v != nil {
		fn(key, *v)
	}
	for digit := 0; digit < uintFanOut; digit++ {
		child := n.children[digit].Load()
		if child == nil {
			continue
		}
		child.walkAll(key+uint64(digit)*place, place*10, fn)
	}
}

// Count returns the number of keys currently holding a value. O(1).
func (t *Uint[V]) Count() int {
	return int(t.size.Load())
}

// Stats returns a snapshot of this trie's instrumentation counters.
func (t *Uint[V]) Stats() Stats {
	return Stats{
		Inserts:    t.inserts.Load(),
		Replaces:   t.replaces.Load(),
		Removes:    t.removes.Load(),
		Races:      t.races.Load(),
		NodesAlive: t.nodesAlive.Load(),
	}
}
