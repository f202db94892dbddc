// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package shm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Segment is an anonymous memfd sized to hold some number of
// fixed-size records, mapped into this process's address space so a
// forwarder goroutine can write into it directly. The same fd, handed
// to a client over SCM_RIGHTS, lets that client mmap the identical
// pages read-only.
type Segment struct {
	fd   int
	data []byte
}

// New creates a memfd of sizeBytes, truncates it to that size, and
// maps it read-write into this process. name appears in
// /proc/<pid>/fd/<n> for the segment's lifetime, which is purely a
// debugging aid.
func New(name string, sizeBytes int) (*Segment, error) {
	fd, err := unix.MemfdCreate(name, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: memfd_create: %w", err)
	}

	if err := unix.Ftruncate(fd, int64(sizeBytes)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: ftruncate: %w", err)
	}

	data, err := unix.Mmap(fd, 0, sizeBytes, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shm: mmap: %w", err)
	}

	return &Segment{fd: fd, data: data}, nil
}

// Fd returns the memfd, valid for exactly one SCM_RIGHTS transfer: the
// kernel dup()s it into the receiving process's fd table, so closing
// this process's copy afterward (which Close eventually does) does not
// invalidate the client's mapping.
func (s *Segment) Fd() int { return s.fd }

// Bytes returns the segment's mapped pages for the writer to copy
// records into.
func (s *Segment) Bytes() []byte { return s.data }

// Close unmaps and closes the segment. Safe to call once the client
// has already received the fd over SCM_RIGHTS — the client's mapping,
// backed by its own dup'd fd, is unaffected.
func (s *Segment) Close() error {
	if err := unix.Munmap(s.data); err != nil {
		unix.Close(s.fd)
		return fmt.Errorf("shm: munmap: %w", err)
	}
	return unix.Close(s.fd)
}
