// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"

	"github.com/kittinap/kunnjae/internal/wire"
)

func freeCmd(args []string) error {
	fs := flag.NewFlagSet("free", flag.ExitOnError)
	socket := socketFlag(fs)
	clientPID := fs.Int("client-pid", 0, "pid of the client whose report queues should be freed")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *clientPID <= 0 {
		return fmt.Errorf("free: --client-pid is required")
	}

	err := call(*socket, wire.VerbFreeReportQueues, wire.FreeReportQueuesRequest{ClientPID: *clientPID}, nil)
	if err != nil {
		return fmt.Errorf("free: %w", err)
	}

	fmt.Printf("freed report queues for client %d\n", *clientPID)
	return nil
}
