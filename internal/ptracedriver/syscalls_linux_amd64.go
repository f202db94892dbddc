// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ptracedriver

// Linux x86-64 syscall numbers for the operations spec.md §1 names.
// https://github.com/torvalds/linux/blob/master/arch/x86/entry/syscalls/syscall_64.tbl
const (
	sysRead       = 0
	sysOpen       = 2
	sysClose      = 3
	sysStat       = 4
	sysRename     = 82
	sysMkdir      = 83
	sysCreat      = 85
	sysLink       = 86
	sysUnlink     = 87
	sysSymlink    = 88
	sysAccess     = 21
	sysClone      = 56
	sysFork       = 57
	sysVfork      = 58
	sysExecve     = 59
	sysExit       = 60
	sysReadlink   = 89
	sysMknod      = 133
	sysExitGroup  = 231
	sysOpenat     = 257
	sysMkdirat    = 258
	sysMknodat    = 259
	sysUnlinkat   = 263
	sysRenameat   = 264
	sysLinkat     = 265
	sysSymlinkat  = 266
	sysReadlinkAt = 267
	sysExecveat   = 322
	sysRenameat2  = 316
)

// hookFor classifies a syscall number into the dispatcher hook it
// drives, if any. Syscalls outside this table pass through untraced
// (PtraceSyscall still lets them run; this driver simply takes no
// action on their entry or exit).
type hook int

const (
	hookNone hook = iota
	hookLookup
	hookReadlink
	hookExec
	hookCreate
	hookFork
	hookExit
)

func hookFor(nr int) hook {
	switch nr {
	case sysOpen, sysOpenat, sysAccess, sysStat:
		return hookLookup
	case sysReadlink, sysReadlinkAt:
		return hookReadlink
	case sysExecve, sysExecveat:
		return hookExec
	case sysMkdir, sysMkdirat, sysCreat, sysLink, sysLinkat, sysUnlink,
		sysUnlinkat, sysSymlink, sysSymlinkat, sysRename, sysRenameat,
		sysRenameat2, sysMknod, sysMknodat:
		return hookCreate
	case sysFork, sysVfork, sysClone:
		return hookFork
	case sysExit, sysExitGroup:
		return hookExit
	default:
		return hookNone
	}
}

// pathArgIndex returns the PtraceRegs argument slot (0-indexed) holding
// the path argument for nr, for the syscalls hookFor classifies as
// hookLookup or hookReadlink. openat/readlinkat take the path as their
// second argument (the first is the directory fd); every other traced
// path-taking syscall takes it first.
func pathArgIndex(nr int) int {
	switch nr {
	case sysOpenat, sysReadlinkAt:
		return 1
	default:
		return 0
	}
}
