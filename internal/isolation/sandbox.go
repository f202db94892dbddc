// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package isolation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// Isolator manages isolated execution of a pip's root process.
type Isolator struct {
	profile       *Profile
	worktree      string
	controlSocket string
	scopeName     string
	gpu           bool
	sharedCache   string
	extraBinds    []string
	extraEnv      map[string]string
	logger        *slog.Logger
}

// Config holds configuration for creating a new Isolator.
type Config struct {
	// Profile is the resolved profile to use.
	Profile *Profile

	// Worktree is the path to the pip's root working directory.
	Worktree string

	// ControlSocket is the path to the sandboxcore control socket.
	ControlSocket string

	// ScopeName is the systemd scope name for resource tracking.
	ScopeName string

	// GPU enables GPU passthrough.
	GPU bool

	// SharedCache is the path to a shared build cache directory, bound
	// read-write at /var/cache/sandboxcore.
	SharedCache string

	// ExtraBinds are additional bind mounts (source:dest[:mode]).
	ExtraBinds []string

	// ExtraEnv are additional environment variables.
	ExtraEnv map[string]string

	// Logger for isolation operations.
	Logger *slog.Logger
}

// New creates a new Isolator.
func New(config Config) (*Isolator, error) {
	if config.Profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if config.Worktree == "" {
		return nil, fmt.Errorf("worktree is required")
	}

	// Resolve worktree to absolute path.
	worktree, err := filepath.Abs(config.Worktree)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve worktree path: %w", err)
	}

	controlSocket := config.ControlSocket
	if controlSocket == "" {
		controlSocket = "/run/sandboxcore/core.sock"
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Isolator{
		profile:       config.Profile,
		worktree:      worktree,
		controlSocket: controlSocket,
		scopeName:     config.ScopeName,
		gpu:           config.GPU,
		sharedCache:   config.SharedCache,
		extraBinds:    config.ExtraBinds,
		extraEnv:      config.ExtraEnv,
		logger:        logger,
	}, nil
}

// Run executes a command under the isolated root process.
func (s *Isolator) Run(ctx context.Context, command []string) error {
	cmd, err := s.Command(ctx, command)
	if err != nil {
		return err
	}

	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	s.logger.Info("running isolated root process",
		"profile", s.profile.Name,
		"worktree", s.worktree,
		"command", command,
	)

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("isolated command failed: %w", err)
	}

	return nil
}

// Command creates an exec.Cmd for running the isolated root process.
// Useful for custom I/O handling or testing.
func (s *Isolator) Command(ctx context.Context, command []string) (*exec.Cmd, error) {
	// Expand profile variables.
	vars := Variables{
		"WORKTREE":       s.worktree,
		"CONTROL_SOCKET": s.controlSocket,
		"TERM":           os.Getenv("TERM"),
	}
	if s.sharedCache != "" {
		vars["SHARED_CACHE"] = s.sharedCache
	}
	profile := vars.ExpandProfile(s.profile)

	// Build bwrap command.
	builder := NewBwrapBuilder()
	bwrapArgs, err := builder.Build(&BwrapOptions{
		Profile:     profile,
		Worktree:    s.worktree,
		ExtraBinds:  s.extraBinds,
		ExtraEnv:    s.extraEnv,
		SharedCache:  s.sharedCache,
		GPU:         s.gpu,
		Command:     command,
		ClearEnv:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build bwrap command: %w", err)
	}

	// Get bwrap path.
	bwrapPath, err := BwrapPath()
	if err != nil {
		return nil, err
	}

	// Full command: bwrap [args...]
	fullCmd := append([]string{bwrapPath}, bwrapArgs...)

	// Wrap with systemd scope if resource limits are configured.
	if profile.Resources.HasLimits() {
		scope := NewSystemdScope(s.scopeName, profile.Resources)
		if scope.Available() {
			fullCmd = scope.WrapCommand(fullCmd)
		} else {
			s.logger.Warn("systemd-run not available, resource limits will not be enforced")
		}
	}

	cmd := exec.CommandContext(ctx, fullCmd[0], fullCmd[1:]...)

	// If cmd.Env is nil, Go inherits the parent's full environment. Even
	// though bwrap uses --clearenv internally, the bwrap process itself
	// would carry the parent's env in /proc/<pid>/environ, letting the
	// isolated process read /proc/1/environ to extract secrets. Only PATH
	// and TERM are needed here; everything else goes through --setenv.
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"TERM=" + os.Getenv("TERM"),
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	return cmd, nil
}

// DryRun returns the command that would be executed without running it.
func (s *Isolator) DryRun(command []string) ([]string, error) {
	vars := Variables{
		"WORKTREE":       s.worktree,
		"CONTROL_SOCKET": s.controlSocket,
		"TERM":           os.Getenv("TERM"),
	}
	if s.sharedCache != "" {
		vars["SHARED_CACHE"] = s.sharedCache
	}
	profile := vars.ExpandProfile(s.profile)

	builder := NewBwrapBuilder()
	bwrapArgs, err := builder.Build(&BwrapOptions{
		Profile:    profile,
		Worktree:   s.worktree,
		ExtraBinds: s.extraBinds,
		ExtraEnv:   s.extraEnv,
		SharedCache: s.sharedCache,
		GPU:        s.gpu,
		Command:    command,
		ClearEnv:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build bwrap command: %w", err)
	}

	bwrapPath, err := BwrapPath()
	if err != nil {
		return nil, err
	}

	fullCmd := append([]string{bwrapPath}, bwrapArgs...)

	if profile.Resources.HasLimits() {
		scope := NewSystemdScope(s.scopeName, profile.Resources)
		fullCmd = scope.WrapCommand(fullCmd)
	}

	return fullCmd, nil
}

// Validate runs pre-flight validation checks.
func (s *Isolator) Validate(w io.Writer) error {
	validator := NewValidator()
	validator.ValidateAll(s.profile, s.worktree, s.controlSocket)

	if s.gpu {
		validator.ValidateGPU()
	}

	validator.PrintResults(w)

	if validator.HasErrors() {
		return fmt.Errorf("validation failed")
	}
	return nil
}

// Profile returns the isolator's profile.
func (s *Isolator) Profile() *Profile {
	return s.profile
}

// Worktree returns the isolator's root working directory.
func (s *Isolator) Worktree() string {
	return s.worktree
}

// ExitError represents a non-zero exit from the isolated command.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	if exitErr, ok := err.(*ExitError); ok {
		return exitErr.Code, true
	}
	return 0, false
}
