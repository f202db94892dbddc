// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ptracedriver

import "syscall"

// syscallNr returns the syscall number a syscall-entry stop delivered
// regs for.
func syscallNr(regs syscall.PtraceRegs) int { return int(regs.Orig_rax) }

// syscallRet returns the return value a syscall-exit stop delivered
// regs for, as a signed value (negative means -errno).
func syscallRet(regs syscall.PtraceRegs) int64 { return int64(regs.Rax) }

// syscallArg returns the raw value of the Linux x86-64 syscall calling
// convention's arg'th argument register: rdi, rsi, rdx, r10, r8, r9.
func syscallArg(regs syscall.PtraceRegs, arg int) uint64 {
	switch arg {
	case 0:
		return regs.Rdi
	case 1:
		return regs.Rsi
	case 2:
		return regs.Rdx
	case 3:
		return regs.R10
	case 4:
		return regs.R8
	case 5:
		return regs.R9
	default:
		return 0
	}
}

// denySyscall rewrites regs so the syscall about to execute fails with
// ENOSYS instead of running, and writes the change back to pid. This is
// the mechanism every Deny disposition from internal/dispatch uses:
// there is no ptrace request to "cancel" a pending syscall, only to
// substitute a different (harmless, well-defined) one. -1 is not a
// valid syscall number on any Linux architecture.
func denySyscall(pid int, regs syscall.PtraceRegs) error {
	regs.Orig_rax = ^uint64(0)
	return syscall.PtraceSetRegs(pid, &regs)
}
