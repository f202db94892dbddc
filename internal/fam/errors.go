// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fam

import "errors"

var (
	// ErrTruncated is returned when the buffer ends before a record that
	// the header or a preceding record declared was coming.
	ErrTruncated = errors.New("fam: truncated manifest")

	// ErrBadMagic is returned when the leading 32 bits do not match
	// magicNumber.
	ErrBadMagic = errors.New("fam: bad magic number")

	// ErrVersionMismatch is returned when the manifest's version field
	// is not one this package knows how to decode.
	ErrVersionMismatch = errors.New("fam: unsupported manifest version")

	// ErrOversizeRecord is returned when a length-prefixed field (the
	// root path or a scope node name) declares a length this package
	// refuses to trust, guarding against a corrupt or hostile length
	// field driving an enormous allocation.
	ErrOversizeRecord = errors.New("fam: record length exceeds limit")

	// ErrTooManyScopes caps the number of scope nodes a single manifest
	// may declare, for the same reason as ErrOversizeRecord.
	ErrTooManyScopes = errors.New("fam: scope tree exceeds node limit")
)
