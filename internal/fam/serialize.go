// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fam

import "encoding/binary"

// Serialize encodes m into the wire format Parse decodes. Serialize never
// fails on a Manifest built through this package's own types; it panics
// only if a field was hand-constructed to violate a length limit enforced
// by Parse (an oversize RootPath or ScopeNode.Name), since such a
// Manifest could never have come from a successful Parse in the first
// place.
func Serialize(m *Manifest) []byte {
	if len(m.RootPath) > maxPathLen {
		panic("fam: RootPath exceeds maxPathLen")
	}

	root := m.ScopeTree
	if root == nil {
		root = &ScopeNode{}
	}

	nodeCount := countNodes(root)
	if nodeCount > maxScopeNodes {
		panic("fam: scope tree exceeds maxScopeNodes")
	}

	buf := make([]byte, headerSize+len(m.RootPath))
	binary.LittleEndian.PutUint32(buf[0:], magicNumber)
	binary.LittleEndian.PutUint16(buf[4:], formatVersion)
	binary.LittleEndian.PutUint16(buf[6:], uint16(m.Flags))
	binary.LittleEndian.PutUint16(buf[8:], m.Salt)
	// buf[10:12] reserved, left zero.
	binary.LittleEndian.PutUint64(buf[12:], m.PipID)
	binary.LittleEndian.PutUint32(buf[20:], m.QueueSizeMiB)
	binary.LittleEndian.PutUint32(buf[24:], m.NestedProcessTerminationTimeoutMS)
	binary.LittleEndian.PutUint32(buf[28:], m.ReportQueueStarvationTimeoutMS)
	binary.LittleEndian.PutUint16(buf[32:], uint16(len(m.RootPath)))
	binary.LittleEndian.PutUint32(buf[34:], uint32(nodeCount))
	copy(buf[headerSize:], m.RootPath)

	buf = appendScopeTree(buf, root)
	return buf
}

func countNodes(n *ScopeNode) int {
	count := 1
	for _, c := range n.Children {
		count += countNodes(c)
	}
	return count
}

// appendScopeTree appends the pre-order encoding of the subtree rooted at
// n to buf and returns the extended slice.
func appendScopeTree(buf []byte, n *ScopeNode) []byte {
	if len(n.Name) > maxNameLen {
		panic("fam: ScopeNode.Name exceeds maxNameLen")
	}

	var hdr [14]byte
	binary.LittleEndian.PutUint16(hdr[0:], uint16(len(n.Name)))
	binary.LittleEndian.PutUint32(hdr[2:], uint32(n.PolicyMask))
	binary.LittleEndian.PutUint32(hdr[6:], uint32(n.ConePolicy))
	binary.LittleEndian.PutUint32(hdr[10:], uint32(len(n.Children)))

	buf = append(buf, hdr[:]...)
	buf = append(buf, n.Name...)

	for _, c := range n.Children {
		buf = appendScopeTree(buf, c)
	}
	return buf
}
