// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fam

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

const (
	magicNumber  uint32 = 0x46414D31 // "FAM1"
	formatVersion uint16 = 1

	maxPathLen     = 4096
	maxNameLen     = 255
	maxScopeNodes  = 1 << 20
	headerSize     = 38
)

// Parse decodes buf into a Manifest. The returned Manifest's RootPath and
// every ScopeNode.Name are sub-slices of buf; the caller must not mutate
// or release buf while the Manifest is in use.
func Parse(buf []byte) (*Manifest, error) {
	if len(buf) < headerSize {
		return nil, ErrTruncated
	}

	r := &reader{buf: buf}

	magic := r.u32()
	if magic != magicNumber {
		return nil, ErrBadMagic
	}
	version := r.u16()
	if version != formatVersion {
		return nil, ErrVersionMismatch
	}

	m := &Manifest{}
	m.Flags = Flags(r.u16())
	m.Salt = r.u16()
	r.u16() // reserved, for header alignment

	m.PipID = r.u64()
	m.QueueSizeMiB = r.u32()
	m.NestedProcessTerminationTimeoutMS = r.u32()
	m.ReportQueueStarvationTimeoutMS = r.u32()

	rootPathLen := r.u16()
	scopeNodeCount := r.u32()
	if r.err != nil {
		return nil, r.err
	}

	if int(rootPathLen) > maxPathLen {
		return nil, ErrOversizeRecord
	}
	if scopeNodeCount > maxScopeNodes {
		return nil, ErrTooManyScopes
	}

	rootPath := r.bytes(int(rootPathLen))
	if r.err != nil {
		return nil, r.err
	}
	m.RootPath = unsafe.String(unsafe.SliceData(rootPath), len(rootPath))

	root, err := parseScopeTree(r, int(scopeNodeCount))
	if err != nil {
		return nil, err
	}
	m.ScopeTree = root

	return m, nil
}

// parseScopeTree decodes a pre-order stream of n scope nodes into a tree
// rooted at the first node. A manifest with n == 0 gets a synthetic empty
// root, matching the "root scope applies when nothing else matches"
// invariant.
func parseScopeTree(r *reader, n int) (*ScopeNode, error) {
	if n == 0 {
		return &ScopeNode{}, nil
	}

	nodes := make([]*ScopeNode, 0, n)
	childrenLeft := make([]int, 0, n)

	for i := 0; i < n; i++ {
		nameLen := r.u16()
		policy := r.u32()
		cone := r.u32()
		childCount := r.u32()
		if r.err != nil {
			return nil, r.err
		}
		if int(nameLen) > maxNameLen {
			return nil, ErrOversizeRecord
		}
		name := r.bytes(int(nameLen))
		if r.err != nil {
			return nil, r.err
		}

		node := &ScopeNode{
			Name:       unsafe.String(unsafe.SliceData(name), len(name)),
			PolicyMask: Mask(policy),
			ConePolicy: Mask(cone),
		}
		nodes = append(nodes, node)
		childrenLeft = append(childrenLeft, int(childCount))

		// Attach this node under the nearest open parent: walk back
		// through the stack of nodes still expecting children,
		// consuming one slot from whichever is nearest.
		for j := len(nodes) - 2; j >= 0; j-- {
			if childrenLeft[j] > 0 {
				nodes[j].Children = append(nodes[j].Children, node)
				childrenLeft[j]--
				break
			}
		}
	}

	return nodes[0], nil
}

type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = ErrTruncated
		return false
	}
	return true
}

func (r *reader) u16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) u64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// validateHeaderSize exists only so headerSize stays honest if the header
// layout changes; it is exercised by the package test.
func validateHeaderSize() error {
	const computed = 4 + 2 + 2 + 2 + 2 + 8 + 4 + 4 + 4 + 2 + 4
	if computed != headerSize {
		return fmt.Errorf("fam: headerSize constant (%d) does not match layout (%d)", headerSize, computed)
	}
	return nil
}
