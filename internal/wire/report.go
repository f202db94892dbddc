// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"fmt"
)

// Status is an AccessReport's allow/deny disposition.
type Status uint32

const (
	Allowed Status = 0
	Denied  Status = 1
)

func (s Status) String() string {
	if s == Denied {
		return "denied"
	}
	return "allowed"
}

// maxPathBytes is the capacity of AccessReport's path field, including
// its 2-byte length prefix (spec.md §6 leaves the NUL-vs-length-prefixed
// choice to the implementer; this repository uses length-prefixed --
// see DESIGN.md Open Question decision 4).
const maxPathBytes = 1024

// ReportSize is the fixed, wire-exact size of one AccessReport record.
const ReportSize = 4*4 + 8 + 4*4 + 8*2 + maxPathBytes

// Stats carries the two optional timing fields spec.md §3 defines on
// AccessReport. spec.md §9 Open Question 3 declares CPU-time measurement
// optional and platform-dependent; this repository measures enqueue and
// dequeue time (both always available from internal/clock) and carries
// no CPU-time field at all, since the fixed wire layout in spec.md §6
// has none.
type Stats struct {
	EnqueueNS uint64
	DequeueNS uint64
}

// AccessReport is the fixed-size record spec.md §6 defines, describing
// one observed filesystem operation and its disposition.
type AccessReport struct {
	Operation        uint32
	RequestedAccess  uint32
	StatusField      Status
	PipID            uint64
	ClientPID        int32
	RootPID          int32
	PID              int32
	Stats            Stats
	Path             string
}

// MarshalBinary encodes the report into spec.md §6's fixed 1080-byte
// little-endian layout. An error is returned only if Path exceeds the
// field's capacity (maxPathBytes - 2); non-ASCII paths are carried
// verbatim as raw bytes -- reporting never requires the cache's ASCII
// restriction.
func (r AccessReport) MarshalBinary() ([]byte, error) {
	pathBytes := []byte(r.Path)
	if len(pathBytes) > maxPathBytes-2 {
		return nil, fmt.Errorf("wire: path %q exceeds %d bytes", r.Path, maxPathBytes-2)
	}

	buf := make([]byte, ReportSize)
	off := 0
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(buf[off:], v)
		off += 4
	}
	putU64 := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[off:], v)
		off += 8
	}
	putI32 := func(v int32) { putU32(uint32(v)) }

	putU32(r.Operation)
	putU32(r.RequestedAccess)
	putU32(uint32(r.StatusField))
	putU32(0) // reserved
	putU64(r.PipID)
	putI32(r.ClientPID)
	putI32(r.RootPID)
	putI32(r.PID)
	putI32(0) // reserved2
	putU64(r.Stats.EnqueueNS)
	putU64(r.Stats.DequeueNS)

	pathOff := off
	binary.LittleEndian.PutUint16(buf[pathOff:], uint16(len(pathBytes)))
	copy(buf[pathOff+2:], pathBytes)

	return buf, nil
}

// UnmarshalBinary decodes a wire-exact AccessReport record. It returns
// an error if data is not exactly ReportSize bytes.
func (r *AccessReport) UnmarshalBinary(data []byte) error {
	if len(data) != ReportSize {
		return fmt.Errorf("wire: AccessReport record must be %d bytes, got %d", ReportSize, len(data))
	}

	off := 0
	getU32 := func() uint32 {
		v := binary.LittleEndian.Uint32(data[off:])
		off += 4
		return v
	}
	getU64 := func() uint64 {
		v := binary.LittleEndian.Uint64(data[off:])
		off += 8
		return v
	}
	getI32 := func() int32 { return int32(getU32()) }

	r.Operation = getU32()
	r.RequestedAccess = getU32()
	r.StatusField = Status(getU32())
	getU32() // reserved
	r.PipID = getU64()
	r.ClientPID = getI32()
	r.RootPID = getI32()
	r.PID = getI32()
	getI32() // reserved2
	r.Stats.EnqueueNS = getU64()
	r.Stats.DequeueNS = getU64()

	pathLen := binary.LittleEndian.Uint16(data[off:])
	off += 2
	if int(pathLen) > maxPathBytes-2 {
		return fmt.Errorf("wire: path length %d exceeds field capacity", pathLen)
	}
	r.Path = string(data[off : off+int(pathLen)])

	return nil
}
