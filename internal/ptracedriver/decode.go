// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package ptracedriver

import "syscall"

// maxPathRead bounds how many bytes peekString will read before giving
// up on finding a NUL terminator, guarding against a corrupt or
// adversarial tracee pointing a syscall argument at unmapped memory.
const maxPathRead = 4096

// peekString reads a NUL-terminated string from pid's address space at
// addr, word at a time, via PTRACE_PEEKDATA. Grounded on
// runlevel5-datadog-agent's ptracer.Tracer.PeekString: this repository
// uses PtracePeekData directly rather than process_vm_readv, trading a
// few more syscalls for one fewer platform-specific helper.
func peekString(pid int, addr uintptr) (string, error) {
	var result []byte
	word := make([]byte, 8)

	for uint64(len(result)) < maxPathRead {
		n, err := syscall.PtracePeekData(pid, addr+uintptr(len(result)), word)
		if err != nil {
			return "", err
		}
		if n == 0 {
			break
		}
		for _, b := range word[:n] {
			if b == 0 {
				return string(result), nil
			}
			result = append(result, b)
		}
	}
	return string(result), nil
}
