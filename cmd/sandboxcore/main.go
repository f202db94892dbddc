// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kittinap/kunnjae/internal/buildinfo"
	"github.com/kittinap/kunnjae/internal/config"
	"github.com/kittinap/kunnjae/internal/core"
	"github.com/kittinap/kunnjae/internal/ipcserver"
	"github.com/kittinap/kunnjae/internal/process"
	"github.com/kittinap/kunnjae/internal/ptracedriver"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to sandboxcore.yaml (overrides SANDBOXCORE_CONFIG)")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sandboxcore %s\n", buildinfo.Info())
		return nil
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	c := core.New()
	defer c.Close()

	srv := ipcserver.New(c, cfg.Daemon.SocketPath, logger)
	srv.OnTrackRoot(func(clientPID, rootPID int, pipID uint64) {
		go traceRoot(c, clientPID, rootPID, pipID, logger)
	})
	defer srv.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sandboxcore starting", "version", buildinfo.Short(), "socket", cfg.Daemon.SocketPath)
	return srv.Serve(ctx)
}

// loadConfig resolves configuration from --config if given, otherwise
// from SANDBOXCORE_CONFIG, matching bureau-launcher's flag-overrides-
// environment-variable precedent.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Daemon.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if os.Getenv("SANDBOXCORE_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// traceRoot ptrace-attaches to a newly tracked pip's root process and
// drives it until its tree exits. Run blocking here, in its own
// goroutine per pip, mirrors track_root's one-pip-per-root-process
// contract (spec.md §6): each pip gets its own tracer and its own
// PTRACE_SYSCALL collection loop.
func traceRoot(c *core.Core, clientPID, rootPID int, pipID uint64, logger *slog.Logger) {
	tracer, err := ptracedriver.Attach(c.Dispatcher(), rootPID)
	if err != nil {
		logger.Error("ptrace attach failed", "client_pid", clientPID, "root_pid", rootPID, "pip_id", pipID, "error", err)
		return
	}

	logger.Info("tracing root process", "client_pid", clientPID, "root_pid", rootPID, "pip_id", pipID)
	if err := tracer.Run(); err != nil {
		logger.Error("tracer exited with error", "root_pid", rootPID, "pip_id", pipID, "error", err)
	}
}
