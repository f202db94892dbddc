// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides this module's standard CBOR encoding
// configuration.
//
// sandboxcore's control plane is CBOR end to end: the client↔daemon RPC
// envelope in internal/wire, and any on-disk state this module persists,
// both go through the same encoder/decoder pair so that a given value
// always produces identical bytes. The AccessReport and FAM wire formats
// are deliberately NOT CBOR — they're fixed-size binary records decoded
// on a ptrace hot path where CBOR's self-describing overhead isn't
// affordable — see internal/wire for that boundary.
//
// This package exists so every CBOR call site shares one Core
// Deterministic Encoding (RFC 8949 §4.2) configuration rather than each
// constructing its own: sorted map keys, smallest integer encoding, no
// indefinite-length items.
//
// For buffer-oriented operations (files, tokens):
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (sockets, IPC):
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
package codec
