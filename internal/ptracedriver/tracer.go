// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux && amd64

package ptracedriver

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/kittinap/kunnjae/internal/dispatch"
	"github.com/kittinap/kunnjae/internal/pip"
)

// ptraceOptions mirrors slimtoolkit-slim's App.trace(): trace every way a
// tracee can spawn a descendant, kill the whole tree if the tracer dies,
// and tag syscall-stop signals with the high bit PTRACE_O_TRACESYSGOOD
// sets so they're never confused with a genuine SIGTRAP delivery.
// PTRACE_O_EXITKILL has no stdlib syscall constant, same as in that
// grounding file, so it comes from golang.org/x/sys/unix alone.
const ptraceOptions = syscall.PTRACE_O_TRACECLONE |
	syscall.PTRACE_O_TRACEFORK |
	syscall.PTRACE_O_TRACEVFORK |
	syscall.PTRACE_O_TRACEEXEC |
	syscall.PTRACE_O_TRACEEXIT |
	syscall.PTRACE_O_TRACESYSGOOD |
	unix.PTRACE_O_EXITKILL

// traceSysGoodStatusBit is ORed into a syscall-stop's stop signal by
// PTRACE_O_TRACESYSGOOD, distinguishing it from every other stop reason.
// Grounded on slimtoolkit-slim's App.collect().
const traceSysGoodStatusBit = 0x80

// Tracer drives a pip's root process tree under PTRACE_SYSCALL, decoding
// the syscalls spec.md §1 names and routing each one through a
// dispatch.Dispatcher. One Tracer owns exactly one process tree.
type Tracer struct {
	dispatcher *dispatch.Dispatcher
	rootPID    int

	// inSyscall tracks, per traced pid, whether the next PTRACE_SYSCALL
	// stop seen for it is a syscall-exit (true) or syscall-entry
	// (absent/false). PTRACE_SYSCALL always alternates entry and exit
	// stops for a given pid, so this is the only state needed to tell
	// them apart; every hook decision this driver makes happens at
	// entry, where denial can still be turned into ENOSYS.
	inSyscall map[int]bool
}

// Attach stops and traces an already-running root process by PID, per
// spec.md §6's track_root flow: the client has already created the root
// process (typically held at its first instruction, awaiting the
// sandbox core's go-ahead) and calls track_root with its PID before
// this driver ever sees it. PtraceAttach delivers the attach as a
// SIGSTOP the caller must reap with Wait4 before PtraceSetOptions will
// take effect.
func Attach(d *dispatch.Dispatcher, rootPID int) (*Tracer, error) {
	runtime.LockOSThread()

	if err := syscall.PtraceAttach(rootPID); err != nil {
		return nil, fmt.Errorf("ptracedriver: attach %d: %w", rootPID, err)
	}

	var ws syscall.WaitStatus
	if _, err := syscall.Wait4(rootPID, &ws, 0, nil); err != nil {
		return nil, fmt.Errorf("ptracedriver: attach %d: wait: %w", rootPID, err)
	}

	if err := syscall.PtraceSetOptions(rootPID, ptraceOptions); err != nil {
		return nil, fmt.Errorf("ptracedriver: attach %d: set options: %w", rootPID, err)
	}

	return &Tracer{
		dispatcher: d,
		rootPID:    rootPID,
		inSyscall:  make(map[int]bool),
	}, nil
}

// Start launches argv[0] under ptrace and blocks until it reaches its
// post-execve trap (the same cmd.Wait() idiom slimtoolkit-slim's
// App.start() uses: Process.Wait on Linux is a single wait4 call, and a
// traced child's first stop after TRACEME+exec satisfies it same as an
// exit would). It exists for standalone use and tests where no external
// client has already created the root process; production call sites
// use Attach, since track_root hands this driver a PID that already
// exists.
//
// The caller must not call cmd.Wait on the returned *exec.Cmd itself:
// Run reaps the whole tree via its own Wait4 loop.
func Start(d *dispatch.Dispatcher, argv []string, dir string, env []string) (*Tracer, *exec.Cmd, error) {
	runtime.LockOSThread()

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("ptracedriver: start: %w", err)
	}

	// Process.Wait performs exactly one wait4 on Linux; for a
	// PTRACE_TRACEME child this collects the stop ptrace delivers right
	// after the execve that replaced the forked copy of this process,
	// not an actual exit.
	if err := cmd.Wait(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			return nil, nil, fmt.Errorf("ptracedriver: initial trap: %w", err)
		}
	}

	pid := cmd.Process.Pid
	if err := syscall.PtraceSetOptions(pid, ptraceOptions); err != nil {
		return nil, nil, fmt.Errorf("ptracedriver: set options: %w", err)
	}

	t := &Tracer{
		dispatcher: d,
		rootPID:    pid,
		inSyscall:  make(map[int]bool),
	}
	return t, cmd, nil
}

// Run is the PTRACE_SYSCALL collection loop: it alternates
// PtraceSyscall/Wait4 across the whole traced tree (wait4(-1, ...))
// until the root process's exit is observed, decoding and dispatching
// every syscall entry/exit stop and every fork/clone/vfork event along
// the way. Grounded on slimtoolkit-slim's App.collect(): a single
// "next pid to resume, signal to deliver" cursor threaded through each
// iteration, rather than one goroutine per tracee.
func (t *Tracer) Run() error {
	callPID := t.rootPID
	callSig := 0

	for {
		if callPID != 0 {
			if err := syscall.PtraceSyscall(callPID, callSig); err != nil && err != syscall.ESRCH {
				return fmt.Errorf("ptracedriver: ptrace_syscall(%d): %w", callPID, err)
			}
		}
		callSig = 0

		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, 0, nil)
		if err == syscall.ECHILD {
			return nil
		}
		if err != nil {
			return fmt.Errorf("ptracedriver: wait4: %w", err)
		}

		switch {
		case ws.Exited(), ws.Signaled():
			delete(t.inSyscall, pid)
			t.dispatcher.Exit(pid)
			if pid == t.rootPID {
				return nil
			}
			callPID = 0
			continue

		case ws.Stopped():
			stopSig := ws.StopSignal()
			switch {
			case int(stopSig) == (int(syscall.SIGTRAP) | traceSysGoodStatusBit):
				t.handleSyscallStop(pid)
				callPID, callSig = pid, 0

			case stopSig == syscall.SIGTRAP && isPtraceEventStop(ws):
				t.handleEventStop(pid, ws)
				callPID, callSig = pid, 0

			default:
				// A genuine signal destined for the tracee (not a
				// ptrace artifact): forward it unchanged rather than
				// swallowing it, per PTRACE_SYSCALL's documented
				// contract.
				callPID, callSig = pid, int(stopSig)
			}

		default:
			callPID = 0
		}
	}
}

// isPtraceEventStop reports whether ws is a PTRACE_EVENT_* stop (fork,
// vfork, clone, exec, exit) rather than a plain SIGTRAP delivery, per
// ptrace(2)'s "(SIGTRAP | PTRACE_EVENT_foo << 8)" encoding: TrapCause is
// -1 for a non-SIGTRAP stop and 0 for a SIGTRAP carrying no event.
func isPtraceEventStop(ws syscall.WaitStatus) bool {
	return ws.TrapCause() > 0
}

func (t *Tracer) handleEventStop(pid int, ws syscall.WaitStatus) {
	switch ws.TrapCause() {
	case syscall.PTRACE_EVENT_CLONE, syscall.PTRACE_EVENT_FORK, syscall.PTRACE_EVENT_VFORK:
		childPID, err := syscall.PtraceGetEventMsg(pid)
		if err != nil {
			slog.Warn("ptracedriver: get event msg failed", "pid", pid, "err", err)
			return
		}
		t.dispatcher.Fork(pid, int(childPID))

	case syscall.PTRACE_EVENT_EXEC, syscall.PTRACE_EVENT_EXIT:
		// No dispatcher action: exec's own syscall-exit stop and the
		// process's eventual Wait4(Exited) cover these respectively.
	}
}

// handleSyscallStop decodes one syscall-entry or syscall-exit stop for
// pid and, for entry stops on a hooked syscall, calls the matching
// dispatcher method. Denied lookups/execs/creates are turned into
// ENOSYS at entry, since that's the only point PTRACE_SYSCALL lets a
// tracer veto a syscall at all.
func (t *Tracer) handleSyscallStop(pid int) {
	if t.inSyscall[pid] {
		delete(t.inSyscall, pid)
		return
	}
	t.inSyscall[pid] = true

	var regs syscall.PtraceRegs
	if err := syscall.PtraceGetRegs(pid, &regs); err != nil {
		slog.Warn("ptracedriver: get regs failed", "pid", pid, "err", err)
		return
	}
	t.handleEntry(pid, regs)
}

func (t *Tracer) handleEntry(pid int, regs syscall.PtraceRegs) {
	nr := syscallNr(regs)
	h := hookFor(nr)
	if h == hookNone {
		return
	}

	threadSlot := pid % pip.MaxThreadSlots

	switch h {
	case hookLookup:
		path, err := peekString(pid, uintptr(syscallArg(regs, pathArgIndex(nr))))
		if err != nil {
			return
		}
		if t.dispatcher.Lookup(pid, threadSlot, path) == dispatch.Deny {
			_ = denySyscall(pid, regs)
		}

	case hookReadlink:
		path, err := peekString(pid, uintptr(syscallArg(regs, pathArgIndex(nr))))
		if err != nil {
			return
		}
		if t.dispatcher.Readlink(pid, path) == dispatch.Deny {
			_ = denySyscall(pid, regs)
		}

	case hookExec:
		if t.dispatcher.Exec(pid, threadSlot) == dispatch.Deny {
			_ = denySyscall(pid, regs)
		}

	case hookCreate:
		if t.dispatcher.Create(pid, threadSlot) == dispatch.Deny {
			_ = denySyscall(pid, regs)
		}

	case hookFork:
		// Handled by the PTRACE_EVENT_CLONE/FORK/VFORK stop instead:
		// that event, unlike this syscall-entry stop, already carries
		// the child pid via PtraceGetEventMsg.

	case hookExit:
		t.dispatcher.Exit(pid)
	}
}
