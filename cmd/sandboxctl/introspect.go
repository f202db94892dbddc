// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/kittinap/kunnjae/internal/wire"
)

func introspectCmd(args []string) error {
	fs := flag.NewFlagSet("introspect", flag.ExitOnError)
	socket := socketFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var resp wire.IntrospectResponse
	if err := call(*socket, wire.VerbIntrospect, nil, &resp); err != nil {
		return fmt.Errorf("introspect: %w", err)
	}

	if len(resp.Pips) == 0 {
		fmt.Println("no pips tracked")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "PIP\tCLIENT\tROOT\tSTATE\tPROCS\tALLOWED\tDENIED\tEMITTED\tSUPPRESSED\tHITS\tMISSES\tDROPPED")
	for _, p := range resp.Pips {
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			p.PipID, p.ClientPID, p.RootPID, p.State, p.ProcessTreeCount,
			p.AccessesAllowed, p.AccessesDenied, p.ReportsEmitted, p.ReportsSuppressed,
			p.CacheHits, p.CacheMisses, p.QueueEnqueueFailed)
	}
	return w.Flush()
}
