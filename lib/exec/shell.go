// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package exec

import (
	"bytes"
	"context"
	"errors"
	"os"
	osexec "os/exec"
	"syscall"
	"time"
)

// CommandRunner is the command-execution backend the executor
// dispatches to. It accepts a resolved command string plus an
// environment-variable mapping, runs it to completion or to context
// cancellation, and returns the exit code and captured output.
//
// Production code uses ShellRunner; tests substitute fakes with
// scripted outcomes.
type CommandRunner interface {
	// Run executes the command. Returns the exit code and the
	// combined stdout+stderr output. A non-nil error means the
	// command could not be run to completion (failed to start,
	// killed by the context, signaled); the exit code is then -1.
	Run(ctx context.Context, command string, env map[string]string, gracePeriod time.Duration) (exitCode int, output string, err error)
}

// ShellRunner executes commands via sh -c with captured output.
type ShellRunner struct{}

// Run executes a command via sh -c, capturing combined stdout and
// stderr. Additional environment variables from the env map are set
// on the command on top of the process environment.
//
// The shell is resolved via PATH, not hardcoded to /bin/sh, so the
// runner behaves correctly inside minimal containers and on hosts
// where /bin/sh is not the environment's shell.
//
// The command runs in its own process group so that context
// cancellation (timeout) kills the shell and all its children.
// Without Setpgid, only the shell receives the signal — child
// processes survive and keep running after the step is reported as
// timed out.
//
// When gracePeriod is zero, SIGKILL is sent immediately on
// cancellation. This is the right default for test steps: they are
// ephemeral and should not hold the run hostage.
//
// When gracePeriod is positive, SIGTERM is sent first to give the
// process a chance to clean up (flush buffers, close connections).
// If the process has not exited after gracePeriod, SIGKILL is sent
// to force termination. Use for steps that perform irreversible work.
func (ShellRunner) Run(ctx context.Context, command string, env map[string]string, gracePeriod time.Duration) (int, string, error) {
	cmd := osexec.CommandContext(ctx, "sh", "-c", command)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	// Put the command in its own process group so that signals reach
	// the shell and all its children (negative PID = all processes
	// in the group).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if gracePeriod > 0 {
		// Graceful: SIGTERM the process group first. A background
		// goroutine escalates to SIGKILL after the grace period if
		// the process has not exited.
		cmd.Cancel = func() error {
			processGroupID := -cmd.Process.Pid
			if err := syscall.Kill(processGroupID, syscall.SIGTERM); err != nil {
				// SIGTERM failed (process group already gone), escalate.
				return syscall.Kill(processGroupID, syscall.SIGKILL)
			}
			go func() {
				time.Sleep(gracePeriod)
				// Best-effort: the process group may have already
				// exited. ESRCH from a dead group is harmless.
				_ = syscall.Kill(processGroupID, syscall.SIGKILL)
			}()
			return nil
		}
	} else {
		// Immediate: SIGKILL the entire process group.
		cmd.Cancel = func() error {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
	}

	if len(env) > 0 {
		cmd.Env = os.Environ()
		for name, value := range env {
			cmd.Env = append(cmd.Env, name+"="+value)
		}
	}

	err := cmd.Run()
	if err == nil {
		return 0, output.String(), nil
	}

	var exitError *osexec.ExitError
	if errors.As(err, &exitError) {
		// A command killed by Cancel surfaces as an ExitError too:
		// Wait prefers the wait error over the watch goroutine's ctx
		// error. ExitCode() is -1 for a signaled process, so a live
		// ctx error plus -1 means our own kill, not the command's
		// exit — report the cancellation so callers can classify a
		// timeout as a timeout.
		if ctx.Err() != nil && exitError.ExitCode() == -1 {
			return -1, output.String(), ctx.Err()
		}
		return exitError.ExitCode(), output.String(), nil
	}

	// Non-exit errors: context cancellation (timeout), signal,
	// failure to start.
	return -1, output.String(), err
}
