// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sandboxcore is the process-sandbox daemon: it accepts track_root
// calls over a Unix control-plane socket, ptrace-attaches to each
// root process, and evaluates every traced filesystem access against
// that pip's FAM manifest.
package main
