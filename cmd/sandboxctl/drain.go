// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"

	"github.com/kittinap/kunnjae/internal/wire"
)

// ringHeaderBytes mirrors internal/ipcserver's forwardRing layout: an
// 8-byte little-endian total-written counter, followed by CapacityItems
// fixed-size AccessReport slots used as a ring.
const ringHeaderBytes = 8

func drainCmd(args []string) error {
	fs := flag.NewFlagSet("drain", flag.ExitOnError)
	socket := socketFlag(fs)
	clientPID := fs.Int("client-pid", 0, "pid of the client whose report queue should be drained")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *clientPID <= 0 {
		return fmt.Errorf("drain: --client-pid is required")
	}

	conn, err := dial(*socket)
	if err != nil {
		return fmt.Errorf("drain: %w", err)
	}
	defer conn.Close()

	notifyFD, err := unix.Eventfd(0, unix.EFD_NONBLOCK)
	if err != nil {
		return fmt.Errorf("drain: creating eventfd: %w", err)
	}
	defer unix.Close(notifyFD)

	portResp, _, err := callWithFD(conn, wire.VerbSetReportQueueNotificationPort,
		wire.SetReportQueueNotificationPortRequest{ClientPID: *clientPID, Port: "eventfd"}, notifyFD)
	if err != nil {
		return fmt.Errorf("drain: registering notification port: %w", err)
	}
	if portResp.Code != wire.Success {
		return fmt.Errorf("drain: registering notification port: %s (%s)", portResp.Error, portResp.Code)
	}

	descResp, memFD, err := callWithFD(conn, wire.VerbGetReportQueueMemoryDescriptor,
		wire.GetReportQueueMemoryDescriptorRequest{ClientPID: *clientPID}, 0)
	if err != nil {
		return fmt.Errorf("drain: fetching memory descriptor: %w", err)
	}
	if descResp.Code != wire.Success {
		return fmt.Errorf("drain: fetching memory descriptor: %s (%s)", descResp.Error, descResp.Code)
	}
	if memFD == 0 {
		return fmt.Errorf("drain: server did not send a memory descriptor fd")
	}
	defer unix.Close(memFD)

	var desc wire.GetReportQueueMemoryDescriptorResponse
	if err := descResp.DecodePayload(&desc); err != nil {
		return fmt.Errorf("drain: decoding memory descriptor: %w", err)
	}

	data, err := unix.Mmap(memFD, 0, int(desc.SizeBytes), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("drain: mmap: %w", err)
	}
	defer unix.Munmap(data)

	interactive := term.IsTerminal(int(os.Stdout.Fd()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return tailRing(ctx, data, desc.CapacityItems, notifyFD, interactive)
}

func tailRing(ctx context.Context, data []byte, capacity int, notifyFD int, interactive bool) error {
	var read uint64
	eventBuf := make([]byte, 8)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		written := littleEndianUint64(data[:ringHeaderBytes])
		for read < written {
			slot := ringHeaderBytes + int(read%uint64(capacity))*wire.ReportSize
			var report wire.AccessReport
			if err := report.UnmarshalBinary(data[slot : slot+wire.ReportSize]); err == nil {
				printReport(report, interactive)
			}
			read++
		}

		if _, err := unix.Read(notifyFD, eventBuf); err != nil && err != unix.EAGAIN {
			time.Sleep(50 * time.Millisecond)
		}
	}
}

func littleEndianUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func printReport(r wire.AccessReport, interactive bool) {
	if interactive {
		fmt.Printf("\033[36mpip %d\033[0m pid=%d %s %s\n", r.PipID, r.PID, r.StatusField, r.Path)
		return
	}
	fmt.Printf("pip=%d pid=%d status=%s path=%s\n", r.PipID, r.PID, r.StatusField, r.Path)
}
