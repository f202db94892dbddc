// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kittinap/kunnjae/internal/buildinfo"
	"github.com/kittinap/kunnjae/internal/process"
)

const defaultSocketPath = "/run/sandboxcore/core.sock"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "launch":
		err = launchCmd(args)
	case "track":
		err = trackCmd(args)
	case "introspect":
		err = introspectCmd(args)
	case "drain":
		err = drainCmd(args)
	case "free":
		err = freeCmd(args)
	case "version", "--version", "-v":
		fmt.Printf("sandboxctl %s\n", buildinfo.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		process.Fatal(err)
	}
}

func printUsage() {
	fmt.Print(`sandboxctl - operator CLI for sandboxcore

USAGE
    sandboxctl <command> [flags]

COMMANDS
    launch      Isolate, start, and register a pip's root process in one step
    track       Register an already-running root process and its FAM manifest
    introspect  List every pip the daemon is currently tracking
    drain       Drain and print one client's report queue
    free        Free a client's allocated report queues
    version     Show version

EXAMPLES
    sandboxctl launch --profile=developer --worktree=/work \
        --fam-file=/tmp/manifest.fam -- bash

ENVIRONMENT
    SANDBOXCORE_SOCKET  Path to the sandboxcore control socket
                        (default: /run/sandboxcore/core.sock)
`)
}

func socketFlag(fs *flag.FlagSet) *string {
	defaultPath := defaultSocketPath
	if env := os.Getenv("SANDBOXCORE_SOCKET"); env != "" {
		defaultPath = env
	}
	return fs.String("socket", defaultPath, "path to the sandboxcore control socket")
}
