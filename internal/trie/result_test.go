// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package trie

import "testing"

func TestResultString(t *testing.T) {
	cases := []struct {
		result Result
		want   string
	}{
		{Inserted, "inserted"},
		{Replaced, "replaced"},
		{Removed, "removed"},
		{AlreadyEmpty, "already_empty"},
		{AlreadyExists, "already_exists"},
		{Race, "race"},
		{Failure, "failure"},
		{Result(99), "unknown"},
	}

	for _, c := range cases {
		if got := c.result.String(); got != c.want {
			t.Errorf("Result(%d).String() = %q, want %q", c.result, got, c.want)
		}
	}
}
