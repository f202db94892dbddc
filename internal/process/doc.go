// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for this module's
// cmd/ binaries. It centralizes the one legitimate raw I/O pattern that
// exists outside the structured logger: reporting a fatal error from
// main() and exiting, for the case where run()'s error predates or
// bypasses slog setup.
package process
