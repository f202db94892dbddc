// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package isolation provides optional Linux-namespace isolation for a pip's
// root process before sandboxcore ptrace-attaches to it, built on bubblewrap
// (bwrap).
//
// The central type is [Isolator], which assembles a bwrap command from a
// [Profile] and executes it. Profiles are YAML-driven configurations that
// declare filesystem mounts, namespace isolation flags, environment variables,
// resource limits, and directories to create. Profiles support single
// inheritance via the Inherit field, and all string values undergo variable
// expansion ([Variables].ExpandProfile) before use.
//
// Filesystem isolation is the primary security boundary. Every mount is
// declared explicitly in the profile; there is no implicit host filesystem
// visibility. Mount types are bind (read-only or read-write), tmpfs, proc,
// dev, and dev-bind (for GPU passthrough).
//
// Resource limits are enforced via systemd transient scopes ([SystemdScope]),
// setting cgroup v2 properties for task count, memory, CPU quota, and CPU
// weight. The scope wraps the bwrap command, so limits apply to the entire
// isolated process tree.
//
// [BwrapBuilder] translates a Profile into bwrap command-line arguments.
// [Validator] performs pre-flight checks (bwrap availability, user namespace
// support, worktree existence, control socket reachability, mount source
// validity) and is run by cmd/sandboxctl launch before a pip's root process
// is started. [Capabilities] probes the host for available features.
//
// This package intentionally does not manage the process running inside it.
// It creates the namespace and mounts, then exec's the command; sandboxcore's
// ptracedriver attaches to the resulting root process afterward to evaluate
// its filesystem accesses against the pip's FAM manifest.
package isolation
