// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trie

import (
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestPathInsertGet(t *testing.T) {
	tr := NewPath[int]()

	if result := tr.Insert("/usr/bin/gcc", 1); result != Inserted {
		t.Fatalf("Insert(first) = %v, want Inserted", result)
	}
	if got, ok := tr.Get("/usr/bin/gcc"); !ok || got != 1 {
		t.Fatalf("Get() = (%v, %v), want (1, true)", got, ok)
	}
	if result := tr.Insert("/usr/bin/gcc", 2); result != AlreadyExists {
		t.Fatalf("Insert(second) = %v, want AlreadyExists", result)
	}
	if got, ok := tr.Get("/usr/bin/gcc"); !ok || got != 1 {
		t.Fatalf("Get() after insert-only = (%v, %v), want (1, true): AlreadyExists must not overwrite", got, ok)
	}
}

func TestPathReplaceOverwrites(t *testing.T) {
	tr := NewPath[int]()

	if result := tr.Replace("/usr/bin/gcc", 1); result != Inserted {
		t.Fatalf("Replace(first) = %v, want Inserted", result)
	}
	if result := tr.Replace("/usr/bin/gcc", 2); result != Replaced {
		t.Fatalf("Replace(second) = %v, want Replaced", result)
	}
	if got, ok := tr.Get("/usr/bin/gcc"); !ok || got != 2 {
		t.Fatalf("Get() after replace = (%v, %v), want (2, true)", got, ok)
	}
}

func TestPathOnChangeFiresOnCountTransitions(t *testing.T) {
	tr := NewPath[int]()
	type transition struct{ old, new int }
	var got []transition
	tr.OnChange(func(oldCount, newCount int) {
		got = append(got, transition{oldCount, newCount})
	})

	tr.Insert("/a", 1)
	tr.Replace("/a", 2) // count unchanged, no callback
	tr.Insert("/b", 3)
	tr.Remove("/a")
	tr.Remove("/a") // already empty, no callback

	want := []transition{{0, 1}, {1, 2}, {2, 1}}
	if len(got) != len(want) {
		t.Fatalf("OnChange fired %d times, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPathGetMissing(t *testing.T) {
	tr := NewPath[int]()
	if got, ok := tr.Get("/nope"); ok {
		t.Fatalf("Get(missing) = (%v, %v), want ok=false", got, ok)
	}

	tr.Insert("/usr/bin", 1)
	if got, ok := tr.Get("/usr"); ok {
		t.Fatalf("Get(prefix of stored key) = (%v, %v), want ok=false", got, ok)
	}
	if got, ok := tr.Get("/usr/bin/extra"); ok {
		t.Fatalf("Get(key extending stored key) = (%v, %v), want ok=false", got, ok)
	}
}

func TestPathCaseInsensitive(t *testing.T) {
	tr := NewPath[int]()
	tr.Insert("/Usr/Bin/GCC", 7)

	for _, key := range []string{"/usr/bin/gcc", "/USR/BIN/GCC", "/uSr/biN/gCc"} {
		if got, ok := tr.Get(key); !ok || got != 7 {
			t.Errorf("Get(%q) = (%v, %v), want (7, true)", key, got, ok)
		}
	}
}

func TestPathOutOfRangeByte(t *testing.T) {
	tr := NewPath[int]()

	key := "/usr/bin/\x01gcc" // \x01 is below pathLo.
	if result := tr.Insert(key, 1); result != Failure {
		t.Fatalf("Insert(out-of-range) = %v, want Failure", result)
	}
	if got, ok := tr.Get(key); ok {
		t.Fatalf("Get(out-of-range) = (%v, %v), want ok=false", got, ok)
	}

	value, loaded, ok := tr.GetOrAdd(key, func() int { return 9 })
	if ok {
		t.Fatalf("GetOrAdd(out-of-range) = (%v, %v, %v), want ok=false", value, loaded, ok)
	}
}

func TestPathGetOrAdd(t *testing.T) {
	tr := NewPath[int]()
	calls := 0
	compute := func() int {
		calls++
		return 42
	}

	value, loaded, ok := tr.GetOrAdd("/a/b", compute)
	if !ok || loaded || value != 42 {
		t.Fatalf("GetOrAdd(first) = (%v, %v, %v), want (42, false, true)", value, loaded, ok)
	}
	if calls != 1 {
		t.Fatalf("compute called %d times, want 1", calls)
	}

	value, loaded, ok = tr.GetOrAdd("/a/b", compute)
	if !ok || !loaded || value != 42 {
		t.Fatalf("GetOrAdd(second) = (%v, %v, %v), want (42, true, true)", value, loaded, ok)
	}
	if calls != 1 {
		t.Fatalf("compute called %d times after second GetOrAdd, want still 1", calls)
	}
}

func TestPathRemove(t *testing.T) {
	tr := NewPath[int]()

	if result := tr.Remove("/missing"); result != AlreadyEmpty {
		t.Fatalf("Remove(never-inserted) = %v, want AlreadyEmpty", result)
	}

	tr.Insert("/a", 1)
	if result := tr.Remove("/a"); result != Removed {
		t.Fatalf("Remove(present) = %v, want Removed", result)
	}
	if _, ok := tr.Get("/a"); ok {
		t.Fatalf("Get() after remove still found a value")
	}
	if result := tr.Remove("/a"); result != AlreadyEmpty {
		t.Fatalf("Remove(already removed) = %v, want AlreadyEmpty", result)
	}
}

func TestPathRemoveMatching(t *testing.T) {
	tr := NewPath[string]()
	tr.Insert("/pip/1/out.txt", "owned-by-1")
	tr.Insert("/pip/1/err.txt", "owned-by-1")
	tr.Insert("/pip/2/out.txt", "owned-by-2")

	removed := tr.RemoveMatching(func(key string, value string) bool {
		return value == "owned-by-1"
	})
	if removed != 2 {
		t.Fatalf("RemoveMatching() removed %d, want 2", removed)
	}
	if tr.Count() != 1 {
		t.Fatalf("Count() after RemoveMatching = %d, want 1", tr.Count())
	}
	if _, ok := tr.Get("/pip/2/out.txt"); !ok {
		t.Fatalf("RemoveMatching() removed an unrelated key")
	}
}

func TestPathForEachAndCount(t *testing.T) {
	tr := NewPath[int]()
	want := map[string]int{
		"/a":     1,
		"/a/b":   2,
		"/a/b/c": 3,
		"/x/y":   4,
	}
	for k, v := range want {
		tr.Insert(k, v)
	}

	if got := tr.Count(); got != len(want) {
		t.Fatalf("Count() = %d, want %d", got, len(want))
	}

	got := make(map[string]int)
	tr.ForEach(func(key string, value int) {
		got[key] = value
	})

	// ForEach lowercases-folds keys to uppercase internally, so compare
	// against the uppercased form of what was inserted.
	for k, v := range want {
		upper := toUpperASCII(k)
		if gotV, ok := got[upper]; !ok || gotV != v {
			t.Errorf("ForEach missing or wrong value for %q: got %v, ok=%v, want %v", upper, gotV, ok, v)
		}
	}
	if len(got) != len(want) {
		t.Fatalf("ForEach visited %d keys, want %d", len(got), len(want))
	}
}

func toUpperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func TestPathStats(t *testing.T) {
	tr := NewPath[int]()

	tr.Insert("/a", 1)
	tr.Replace("/a", 2) // Replace.
	tr.Insert("/b", 3)
	tr.Remove("/a")
	tr.Remove("/a") // Already empty, doesn't count as a remove.

	stats := tr.Stats()
	if stats.Inserts != 2 {
		t.Errorf("Stats().Inserts = %d, want 2", stats.Inserts)
	}
	if stats.Replaces != 1 {
		t.Errorf("Stats().Replaces = %d, want 1", stats.Replaces)
	}
	if stats.Removes != 1 {
		t.Errorf("Stats().Removes = %d, want 1", stats.Removes)
	}
	if stats.NodesAlive == 0 {
		t.Errorf("Stats().NodesAlive = 0, want > 0")
	}
}

func TestPathConcurrentInsertGetOrAdd(t *testing.T) {
	tr := NewPath[int]()
	const goroutines = 32
	const keys = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < keys; i++ {
				key := fmt.Sprintf("/pip/%d/file", i)
				tr.GetOrAdd(key, func() int { return id })
			}
		}(g)
	}
	wg.Wait()

	if got := tr.Count(); got != keys {
		t.Fatalf("Count() after concurrent GetOrAdd = %d, want %d", got, keys)
	}

	var names []string
	tr.ForEach(func(key string, value int) {
		names = append(names, key)
	})
	sort.Strings(names)
	if len(names) != keys {
		t.Fatalf("ForEach visited %d keys, want %d", len(names), keys)
	}
}
