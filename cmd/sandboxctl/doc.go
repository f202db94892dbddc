// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sandboxctl is the operator CLI for sandboxcore: it tracks new root
// processes, introspects the daemon's live pip table, drains a
// client's report queue to the terminal, and frees a client's queues.
//
// Usage:
//
//	sandboxctl track --client-pid=N --root-pid=N --fam-file=path
//	sandboxctl introspect
//	sandboxctl drain --client-pid=N
//	sandboxctl free --client-pid=N
package main
