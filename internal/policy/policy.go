// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"strings"

	"github.com/kittinap/kunnjae/internal/fam"
)

// Operation identifies the kind of filesystem access being evaluated.
type Operation int

const (
	Probe Operation = iota
	Read
	Write
	Enumerate
	Exec
	Readlink
	Create
)

func (o Operation) String() string {
	switch o {
	case Probe:
		return "probe"
	case Read:
		return "read"
	case Write:
		return "write"
	case Enumerate:
		return "enumerate"
	case Exec:
		return "exec"
	case Readlink:
		return "readlink"
	case Create:
		return "create"
	default:
		return "unknown"
	}
}

// requiredMask maps an operation to the policy bit that must be set
// (directly or via cone inheritance) for the access to be allowed.
// readlink and create have no dedicated mask bit in the wire format
// (spec.md §3's ScopeNode policy_mask enumerates only
// {allow_read, allow_write, allow_probe, allow_enumerate, report_access,
// report_explicit_expected, deny}, plus allow_exec carried alongside);
// this package treats readlink as a read variant and create as a write
// variant, an implementer decision recorded in DESIGN.md.
// RequiredMask returns the policy bit op needs, for callers (the event
// dispatcher) that need to record the requested-access bits on an
// AccessReport alongside Evaluate's allow/deny verdict.
func RequiredMask(op Operation) fam.Mask { return requiredMask(op) }

func requiredMask(op Operation) fam.Mask {
	switch op {
	case Probe:
		return fam.AllowProbe
	case Read, Readlink:
		return fam.AllowRead
	case Write, Create:
		return fam.AllowWrite
	case Enumerate:
		return fam.AllowEnumerate
	case Exec:
		return fam.AllowExec
	default:
		return 0
	}
}

// ReasonCode classifies why Evaluate produced its Result, for
// diagnostics and introspection.
type ReasonCode int

const (
	ReasonRootDefault ReasonCode = iota
	ReasonScopeMatch
	ReasonConeInherited
	ReasonExplicitDeny
	ReasonNoMatchingAllowBit
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonRootDefault:
		return "root_default"
	case ReasonScopeMatch:
		return "scope_match"
	case ReasonConeInherited:
		return "cone_inherited"
	case ReasonExplicitDeny:
		return "explicit_deny"
	case ReasonNoMatchingAllowBit:
		return "no_matching_allow_bit"
	default:
		return "unknown"
	}
}

// Result is the outcome of evaluating one (path, operation) pair against
// a scope tree.
type Result struct {
	Allowed bool
	Report  bool
	// Expected records whether the access matched a scope that declared
	// ReportExplicitExpected -- an access the manifest author anticipated,
	// as opposed to one report_all surfaced incidentally.
	Expected bool
	Reason   ReasonCode
}

// Evaluate walks root along path's components and returns the effective
// policy for performing op against path.
//
// path is normalized before the walk: compared case-insensitively,
// consecutive separators are collapsed, and ".." is resolved lexically
// (never by stat -- spec.md §4.C is explicit that resolution must not
// re-enter the filesystem). The most specific matching node's own
// PolicyMask overrides; ConePolicy bits accumulate from the root down
// and are visible to every descendant that does not itself override the
// bit. Deny always wins over any accumulated allow bit for the same
// node. reportAll (the FAM's report_all flag) forces Report regardless of
// the matching node's report bits.
func Evaluate(root *fam.ScopeNode, path string, op Operation, reportAll bool) Result {
	components := normalize(path)

	node := root
	cone := root.ConePolicy
	reason := ReasonRootDefault

	for _, comp := range components {
		child := node.ChildNamed(comp)
		if child == nil {
			break
		}
		node = child
		cone = applyOverride(cone, node.ConePolicy)
		reason = ReasonConeInherited
	}

	// The most specific node's own mask overrides the accumulated cone
	// bit-by-bit; this always includes the root (root_default) when no
	// component matched at all.
	effective := applyOverride(cone, node.PolicyMask)
	if node != root {
		reason = ReasonScopeMatch
	}

	denied := effective&fam.Deny != 0
	want := requiredMask(op)
	allowed := !denied && (want == 0 || effective&want != 0)
	if denied {
		reason = ReasonExplicitDeny
	} else if !allowed {
		reason = ReasonNoMatchingAllowBit
	}

	report := reportAll || effective&fam.ReportAccess != 0 || !allowed
	expected := effective&fam.ReportExplicitExpected != 0

	return Result{
		Allowed:  allowed,
		Report:   report,
		Expected: expected,
		Reason:   reason,
	}
}

// applyOverride layers own on top of the inherited cone. Since a mask
// has no "unset" representation distinct from 0, an inherited allow bit
// is never cleared -- a descendant scope narrows access by using Deny.
// An own mask that sets an allow bit without Deny lifts an inherited
// Deny, so the more specific scope wins in both directions.
func applyOverride(cone, own fam.Mask) fam.Mask {
	const allowBits = fam.AllowRead | fam.AllowWrite | fam.AllowProbe | fam.AllowEnumerate | fam.AllowExec
	if own&allowBits != 0 && own&fam.Deny == 0 {
		cone &^= fam.Deny
	}
	return cone | own
}

// normalize splits path into path components, collapsing duplicate
// separators and lexically resolving "..". Components keep their case;
// fam.ScopeNode.ChildNamed compares them case-insensitively. It never
// touches the filesystem.
func normalize(path string) []string {
	raw := strings.Split(path, "/")
	var stack []string
	for _, part := range raw {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}
	return stack
}
