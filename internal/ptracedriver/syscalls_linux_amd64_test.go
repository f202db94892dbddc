// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ptracedriver

import "testing"

func TestHookForClassifiesEveryTracedSyscall(t *testing.T) {
	cases := []struct {
		name string
		nr   int
		want hook
	}{
		{"open", sysOpen, hookLookup},
		{"openat", sysOpenat, hookLookup},
		{"access", sysAccess, hookLookup},
		{"stat", sysStat, hookLookup},
		{"readlink", sysReadlink, hookReadlink},
		{"readlinkat", sysReadlinkAt, hookReadlink},
		{"execve", sysExecve, hookExec},
		{"execveat", sysExecveat, hookExec},
		{"mkdir", sysMkdir, hookCreate},
		{"mkdirat", sysMkdirat, hookCreate},
		{"creat", sysCreat, hookCreate},
		{"link", sysLink, hookCreate},
		{"linkat", sysLinkat, hookCreate},
		{"unlink", sysUnlink, hookCreate},
		{"unlinkat", sysUnlinkat, hookCreate},
		{"symlink", sysSymlink, hookCreate},
		{"symlinkat", sysSymlinkat, hookCreate},
		{"rename", sysRename, hookCreate},
		{"renameat", sysRenameat, hookCreate},
		{"renameat2", sysRenameat2, hookCreate},
		{"mknod", sysMknod, hookCreate},
		{"mknodat", sysMknodat, hookCreate},
		{"fork", sysFork, hookFork},
		{"vfork", sysVfork, hookFork},
		{"clone", sysClone, hookFork},
		{"exit", sysExit, hookExit},
		{"exit_group", sysExitGroup, hookExit},
		{"read (untraced)", sysRead, hookNone},
		{"close (untraced)", sysClose, hookNone},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := hookFor(c.nr); got != c.want {
				t.Errorf("hookFor(%d) = %v, want %v", c.nr, got, c.want)
			}
		})
	}
}

func TestPathArgIndexAccountsForDirfd(t *testing.T) {
	cases := []struct {
		name string
		nr   int
		want int
	}{
		{"open", sysOpen, 0},
		{"access", sysAccess, 0},
		{"readlink", sysReadlink, 0},
		{"openat", sysOpenat, 1},
		{"readlinkat", sysReadlinkAt, 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := pathArgIndex(c.nr); got != c.want {
				t.Errorf("pathArgIndex(%d) = %d, want %d", c.nr, got, c.want)
			}
		})
	}
}
