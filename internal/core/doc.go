// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package core wires the sandbox process-sandbox core's engine packages
// (fam, policy, pip, tracker, reportqueue, dispatch, wire) into the
// control-plane surface spec.md §6 defines: the seven synchronous RPCs
// a client issues over the daemon's Unix socket, plus the
// already-dispatched hot-path hooks the traced process tree drives
// through [Core.Dispatcher].
package core
