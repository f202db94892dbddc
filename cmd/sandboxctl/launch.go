// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kittinap/kunnjae/internal/isolation"
	"github.com/kittinap/kunnjae/internal/wire"
)

// launchCmd isolates a command inside a bubblewrap sandbox, registers the
// resulting root process with sandboxcore via track_root, and waits for it
// to exit. It is the one place in this module that wires internal/isolation
// into a live pip: cmd/sandboxctl track assumes the root process is already
// running and traced by something else, launch does both steps itself.
func launchCmd(args []string) error {
	fs := flag.NewFlagSet("launch", flag.ExitOnError)
	socket := socketFlag(fs)
	clientPID := fs.Int("client-pid", os.Getpid(), "pid reported to sandboxcore as the owning client")
	profileName := fs.String("profile", "developer", "isolation profile name")
	worktree := fs.String("worktree", "", "path to the pip's root working directory (required)")
	famFile := fs.String("fam-file", "", "path to a serialized FileAccessManifest (required)")
	scopeName := fs.String("name", "", "systemd scope name for resource tracking")
	gpu := fs.Bool("gpu", false, "enable GPU passthrough")
	sharedCache := fs.String("shared-cache", "", "shared read-only build-tool cache directory")
	dryRun := fs.Bool("dry-run", false, "print the bwrap command without running it")
	skipValidate := fs.Bool("skip-validate", false, "skip pre-flight bwrap/systemd/profile validation")

	var extraBinds stringList
	fs.Var(&extraBinds, "bind", "extra bind mount (source:dest[:mode]), repeatable")

	if err := fs.Parse(args); err != nil {
		return err
	}

	command := fs.Args()
	if len(command) == 0 {
		return fmt.Errorf("launch: command is required after --")
	}
	if *worktree == "" {
		return fmt.Errorf("launch: --worktree is required")
	}
	if *famFile == "" {
		return fmt.Errorf("launch: --fam-file is required")
	}
	famBytes, err := os.ReadFile(*famFile)
	if err != nil {
		return fmt.Errorf("launch: reading %s: %w", *famFile, err)
	}

	loader, err := isolation.LoadFromSearchPaths()
	if err != nil {
		return fmt.Errorf("launch: loading profiles: %w", err)
	}
	profile, err := loader.Resolve(*profileName)
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}

	isolator, err := isolation.New(isolation.Config{
		Profile:       profile,
		Worktree:      *worktree,
		ControlSocket: *socket,
		ScopeName:     *scopeName,
		GPU:           *gpu,
		SharedCache:   *sharedCache,
		ExtraBinds:    extraBinds,
		Logger:        slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}

	if *dryRun {
		fullCmd, err := isolator.DryRun(command)
		if err != nil {
			return fmt.Errorf("launch: %w", err)
		}
		fmt.Println(strings.Join(fullCmd, " \\\n  "))
		return nil
	}

	if !*skipValidate {
		if err := isolator.Validate(os.Stdout); err != nil {
			return fmt.Errorf("launch: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cmd, err := isolator.Command(ctx, command)
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch: starting isolated root process: %w", err)
	}
	rootPID := cmd.Process.Pid

	var resp wire.TrackRootResponse
	if err := call(*socket, wire.VerbTrackRoot, wire.TrackRootRequest{
		ClientPID: *clientPID,
		RootPID:   rootPID,
		FAMBytes:  famBytes,
	}, &resp); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("launch: registering root pid %d: %w", rootPID, err)
	}
	fmt.Printf("pip %d tracking root pid %d (profile %s)\n", resp.PipID, rootPID, *profileName)

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return fmt.Errorf("launch: %w", err)
	}
	return nil
}

// stringList implements flag.Value for repeatable string flags.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ", ") }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}
