// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fam

import "fmt"

// Mask is a bit set of policy flags. The same type is used both for a
// scope's own policy and for its cone policy (the part inherited by
// descendants).
type Mask uint32

// Policy bits. Values are stable across the wire format — do not reorder.
const (
	AllowRead Mask = 1 << iota
	AllowWrite
	AllowProbe
	AllowEnumerate
	AllowExec
	ReportAccess
	ReportExplicitExpected
	Deny
)

// String renders the set bits for diagnostics.
func (m Mask) String() string {
	names := []struct {
		bit  Mask
		name string
	}{
		{AllowRead, "allow_read"},
		{AllowWrite, "allow_write"},
		{AllowProbe, "allow_probe"},
		{AllowEnumerate, "allow_enumerate"},
		{AllowExec, "allow_exec"},
		{ReportAccess, "report_access"},
		{ReportExplicitExpected, "report_explicit_expected"},
		{Deny, "deny"},
	}
	out := ""
	for _, n := range names {
		if m&n.bit != 0 {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "none"
	}
	return out
}

// Flags are pip-wide behavioral toggles carried in the manifest header.
type Flags uint16

const (
	// FailUnexpected kills the pip the first time an unexpected
	// (denied or otherwise policy-violating) access occurs.
	FailUnexpected Flags = 1 << iota
	// ReportAll forces every access to be reported, regardless of the
	// matching scope's report bits.
	ReportAll
	// MonitorChildren makes the tracker attribute forked descendants to
	// the same pip as their parent.
	MonitorChildren
	// LogProcessData enables per-process counters and introspection
	// detail beyond the minimum the core otherwise keeps.
	LogProcessData
	// FailOnQueueOverflow makes a report-queue enqueue failure on a
	// reportable event fatal for the pip (the tree is marked for
	// termination) instead of merely dropping the report and counting it.
	FailOnQueueOverflow
)

// Has reports whether all bits in want are set.
func (f Flags) Has(want Flags) bool { return f&want == want }

// ScopeNode is one node of the directory-rooted policy tree. A node's
// PolicyMask is the policy that applies to the node's own path; ConePolicy
// is the policy inherited by everything beneath it unless a descendant
// node overrides a bit itself.
type ScopeNode struct {
	// Name is this node's path component (empty only for the root node,
	// which represents "/").
	Name string

	PolicyMask Mask
	ConePolicy Mask

	Children []*ScopeNode
}

// ChildNamed returns the direct child with the given case-folded name, or
// nil. Case-folding matches the data model's "case-insensitive" path
// comparison rule.
//
// A well-formed scope tree never declares two children whose names
// case-fold to the same value, but Parse does not reject one (spec.md
// §9 Open Question 1 leaves the tie-break unspecified). If more than one
// child matches, ChildNamed deterministically returns the one whose
// original (non-folded) name is lexicographically smallest, so repeated
// evaluations of the same manifest always agree.
func (n *ScopeNode) ChildNamed(name string) *ScopeNode {
	var best *ScopeNode
	for _, c := range n.Children {
		if !foldEqual(c.Name, name) {
			continue
		}
		if best == nil || c.Name < best.Name {
			best = c
		}
	}
	return best
}

// Manifest is the parsed, immutable File Access Manifest owned by exactly
// one SandboxedPip.
type Manifest struct {
	PipID   uint64
	Flags   Flags
	Salt    uint16 // salting bytes used to version the serialized format
	RootPath string

	// ScopeTree is the pre-order-decoded scope tree. After Parse it is
	// always non-nil, even for a manifest with no explicit scopes (an
	// implicit root scope with an empty policy applies in that case,
	// matching the "if none matches, the root scope applies" invariant).
	ScopeTree *ScopeNode

	// QueueSizeMiB is carried through Parse and Serialize unchanged. The
	// core does not read it: report-queue size comes from
	// set_report_queue_size.
	QueueSizeMiB uint32

	NestedProcessTerminationTimeoutMS uint32
	ReportQueueStarvationTimeoutMS    uint32
}

// DebugString renders the manifest's scope tree as indented text, for
// operator diagnostics. Grounded on the original
// parser's PrintManifestTree debugging helper.
func (m *Manifest) DebugString() string {
	out := fmt.Sprintf("pip_id=%d flags=%#x root=%q\n", m.PipID, m.Flags, m.RootPath)
	out += debugNode(m.ScopeTree, 0)
	return out
}

func debugNode(n *ScopeNode, indent int) string {
	if n == nil {
		return ""
	}
	pad := ""
	for i := 0; i < indent; i++ {
		pad += "  "
	}
	name := n.Name
	if name == "" {
		name = "/"
	}
	out := fmt.Sprintf("%s%s policy=%s cone=%s\n", pad, name, n.PolicyMask, n.ConePolicy)
	for _, c := range n.Children {
		out += debugNode(c, indent+1)
	}
	return out
}

func foldEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		if toUpperByte(a[i]) != toUpperByte(b[i]) {
			return false
		}
	}
	return true
}

func toUpperByte(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}
