// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fam

import (
	"testing"
)

func TestHeaderSizeConstant(t *testing.T) {
	if err := validateHeaderSize(); err != nil {
		t.Fatal(err)
	}
}

func sampleManifest() *Manifest {
	usr := &ScopeNode{
		Name:       "usr",
		PolicyMask: AllowRead | AllowEnumerate,
		ConePolicy: AllowRead,
	}
	bin := &ScopeNode{
		Name:       "bin",
		PolicyMask: AllowRead | AllowExec,
		ConePolicy: AllowRead | AllowExec,
	}
	usr.Children = []*ScopeNode{bin}

	tmp := &ScopeNode{
		Name:       "tmp",
		PolicyMask: AllowRead | AllowWrite | AllowEnumerate | ReportAccess,
		ConePolicy: AllowRead | AllowWrite | ReportAccess,
	}

	root := &ScopeNode{
		PolicyMask: Deny,
		ConePolicy: Deny,
		Children:   []*ScopeNode{usr, tmp},
	}

	return &Manifest{
		PipID:                              42,
		Flags:                              FailUnexpected | ReportAll | MonitorChildren,
		Salt:                               7,
		RootPath:                           "/usr/bin/make",
		ScopeTree:                          root,
		QueueSizeMiB:                       16,
		NestedProcessTerminationTimeoutMS:  30000,
		ReportQueueStarvationTimeoutMS:     5000,
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	want := sampleManifest()
	buf := Serialize(want)

	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	assertManifestEqual(t, want, got)
}

func TestRoundTripEmptyScopeTree(t *testing.T) {
	t.Parallel()

	want := &Manifest{PipID: 1, RootPath: "/bin/true"}
	buf := Serialize(want)

	got, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.PipID != want.PipID || got.RootPath != want.RootPath {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if got.ScopeTree == nil {
		t.Fatal("expected synthesized empty root, got nil")
	}
	if len(got.ScopeTree.Children) != 0 {
		t.Fatalf("expected no children, got %d", len(got.ScopeTree.Children))
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	t.Parallel()

	buf := Serialize(sampleManifest())
	buf[0] ^= 0xFF

	if _, err := Parse(buf); err != ErrBadMagic {
		t.Fatalf("got %v, want ErrBadMagic", err)
	}
}

func TestParseRejectsTruncated(t *testing.T) {
	t.Parallel()

	buf := Serialize(sampleManifest())
	for cut := 0; cut < headerSize; cut++ {
		if _, err := Parse(buf[:cut]); err != ErrTruncated {
			t.Fatalf("len %d: got %v, want ErrTruncated", cut, err)
		}
	}
	if _, err := Parse(buf[:len(buf)-1]); err != ErrTruncated {
		t.Fatalf("truncated tail: got %v, want ErrTruncated", err)
	}
}

func TestParseRejectsVersionMismatch(t *testing.T) {
	t.Parallel()

	buf := Serialize(sampleManifest())
	buf[4] = 0xFF
	buf[5] = 0xFF

	if _, err := Parse(buf); err != ErrVersionMismatch {
		t.Fatalf("got %v, want ErrVersionMismatch", err)
	}
}

func TestDebugStringIncludesAllNodes(t *testing.T) {
	t.Parallel()

	s := sampleManifest().DebugString()
	for _, want := range []string{"usr", "bin", "tmp", "pip_id=42"} {
		if !contains(s, want) {
			t.Errorf("DebugString missing %q:\n%s", want, s)
		}
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func assertManifestEqual(t *testing.T, want, got *Manifest) {
	t.Helper()
	if got.PipID != want.PipID {
		t.Errorf("PipID: got %d, want %d", got.PipID, want.PipID)
	}
	if got.Flags != want.Flags {
		t.Errorf("Flags: got %#x, want %#x", got.Flags, want.Flags)
	}
	if got.Salt != want.Salt {
		t.Errorf("Salt: got %d, want %d", got.Salt, want.Salt)
	}
	if got.RootPath != want.RootPath {
		t.Errorf("RootPath: got %q, want %q", got.RootPath, want.RootPath)
	}
	if got.QueueSizeMiB != want.QueueSizeMiB {
		t.Errorf("QueueSizeMiB: got %d, want %d", got.QueueSizeMiB, want.QueueSizeMiB)
	}
	assertScopeTreeEqual(t, want.ScopeTree, got.ScopeTree)
}

func assertScopeTreeEqual(t *testing.T, want, got *ScopeNode) {
	t.Helper()
	if want == nil || got == nil {
		if want != got {
			t.Fatalf("nil mismatch: want %v, got %v", want, got)
		}
		return
	}
	if want.Name != got.Name {
		t.Errorf("Name: got %q, want %q", got.Name, want.Name)
	}
	if want.PolicyMask != got.PolicyMask {
		t.Errorf("%s: PolicyMask got %s, want %s", want.Name, got.PolicyMask, want.PolicyMask)
	}
	if want.ConePolicy != got.ConePolicy {
		t.Errorf("%s: ConePolicy got %s, want %s", want.Name, got.ConePolicy, want.ConePolicy)
	}
	if len(want.Children) != len(got.Children) {
		t.Fatalf("%s: got %d children, want %d", want.Name, len(got.Children), len(want.Children))
	}
	for i := range want.Children {
		assertScopeTreeEqual(t, want.Children[i], got.Children[i])
	}
}
