// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kittinap/kunnjae/internal/wire"
)

func trackCmd(args []string) error {
	fs := flag.NewFlagSet("track", flag.ExitOnError)
	socket := socketFlag(fs)
	clientPID := fs.Int("client-pid", 0, "pid of the owning client process")
	rootPID := fs.Int("root-pid", 0, "pid of the root process to trace")
	famFile := fs.String("fam-file", "", "path to a serialized FileAccessManifest")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *clientPID <= 0 || *rootPID <= 0 {
		return fmt.Errorf("track: --client-pid and --root-pid are required")
	}
	if *famFile == "" {
		return fmt.Errorf("track: --fam-file is required")
	}

	famBytes, err := os.ReadFile(*famFile)
	if err != nil {
		return fmt.Errorf("track: reading %s: %w", *famFile, err)
	}

	var resp wire.TrackRootResponse
	err = call(*socket, wire.VerbTrackRoot, wire.TrackRootRequest{
		ClientPID: *clientPID,
		RootPID:   *rootPID,
		FAMBytes:  famBytes,
	}, &resp)
	if err != nil {
		return fmt.Errorf("track: %w", err)
	}

	fmt.Printf("pip %d tracking root pid %d for client %d\n", resp.PipID, *rootPID, *clientPID)
	return nil
}
