// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ptracedriver is the Linux transport for the process-sandbox
// core's kernel hooks: it spawns a pip's root process under
// PTRACE_SYSCALL, decodes the syscalls spec.md §1 names
// (openat/open/access/execve/readlink/fork/clone/vfork/exit), and calls
// the matching internal/dispatch.Dispatcher method for each one.
//
// This stands in for the platform-specific kernel extension (a macOS
// EndpointSecurity client, a Linux LSM/eBPF program) a production
// sandbox core would use: PTRACE_SYSCALL is slower and racier than
// either, but it needs no kernel module and no special capability beyond
// CAP_SYS_PTRACE, which keeps this repository buildable and testable
// without installing anything.
package ptracedriver
