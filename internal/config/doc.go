// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for sandboxcore.
//
// Configuration is loaded from a single file specified by either the
// SANDBOXCORE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// [Config] carries the daemon-level settings (socket path, log level)
// and a set of per-pip tunables (Config.Defaults): queue size, the two
// watchdog timeouts, and the FAM flags (fail_unexpected, report_all,
// monitor_children, log_process_data, fail_on_queue_overflow). The core
// does not read these tunables; a track_root call takes its own from
// its FAM manifest.
//
// Key exports:
//
//   - [Config] -- master struct with Daemon and Defaults
//   - [Default] -- returns a Config with development-friendly defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// The only other sandboxcore package this one depends on is
// internal/fam, for the fam.Flags type.
package config
