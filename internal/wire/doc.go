// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the two serialization contracts the sandbox core
// exposes to a client: the fixed-size binary [AccessReport] record
// (spec.md §6, little-endian, explicit byte offsets so Go's lack of
// C-style struct packing guarantees never leaks into the wire format),
// and the CBOR-framed control-plane request/response envelope used by
// the out-of-process RPC surface (grounded on the teacher's lib/ipc
// Request/Response shape).
package wire
