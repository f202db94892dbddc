// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fam decodes and encodes the File Access Manifest: the binary
// policy blob a client hands to the sandbox core at pip start.
//
// A manifest is a length-prefixed, tagged record stream: a 32-bit magic, a
// 16-bit version, a 16-bit flags field, a variable-length root process
// path, then a pre-order serialization of scope nodes. [Parse] decodes a
// buffer supplied by the caller into a [Manifest] without copying the scope
// tree's string data — names and the root path are sub-slices of the
// caller's buffer, which must outlive the resulting Manifest (mirroring the
// "pointer fix-ups into the caller-owned buffer" discipline of the
// original kernel-side parser). [Serialize] produces the inverse encoding,
// and Parse(Serialize(m)) reproduces m exactly for any well-formed
// manifest.
package fam
