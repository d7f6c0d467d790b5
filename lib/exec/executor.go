// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package exec runs job steps against a command-execution backend
// with bounded retry. Each attempt is fenced by a per-attempt timeout;
// the result records every attempt's outcome class so that "timed out"
// is never downgraded to a generic failure.
package exec

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tessera-project/tessera/lib/clock"
	"github.com/tessera-project/tessera/lib/schema"
)

// DefaultStepTimeout is used when a step does not specify its own
// timeout.
const DefaultStepTimeout = 5 * time.Minute

// OutcomeClass categorizes how one attempt of a step ended.
type OutcomeClass string

const (
	// OutcomeOK: the command (and its check, if any) exited zero.
	OutcomeOK OutcomeClass = "ok"

	// OutcomeExit: the command ran to completion and exited non-zero,
	// or its check command did.
	OutcomeExit OutcomeClass = "exit"

	// OutcomeTimeout: the attempt exceeded the step timeout and was
	// forcibly terminated.
	OutcomeTimeout OutcomeClass = "timeout"

	// OutcomeError: the command could not be executed (backend
	// failure, run cancellation). Never retried.
	OutcomeError OutcomeClass = "error"
)

// StepStatus is the final status of a step after all attempts.
type StepStatus string

const (
	StepOK      StepStatus = "ok"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// Attempt records one execution attempt of a step.
type Attempt struct {
	// Class is how the attempt ended.
	Class OutcomeClass `json:"class"`

	// ExitCode is the command's exit code for OutcomeOK and
	// OutcomeExit; -1 otherwise.
	ExitCode int `json:"exit_code"`

	// Output is the combined stdout+stderr captured for the attempt.
	Output string `json:"output,omitempty"`

	// Error describes the failure for OutcomeTimeout and OutcomeError.
	Error string `json:"error,omitempty"`

	// Duration is how long the attempt ran.
	Duration time.Duration `json:"duration"`
}

// StepResult is the outcome of executing a single step, with enough
// attempt and timing detail to reproduce the failing command.
type StepResult struct {
	// Name is the step name.
	Name string `json:"name"`

	// Status is the final status after all attempts.
	Status StepStatus `json:"status"`

	// Attempts records every attempt in order. len(Attempts) is the
	// number of attempts used. Empty for skipped steps.
	Attempts []Attempt `json:"attempts,omitempty"`

	// Duration is the total wall time across attempts (including
	// retry backoff).
	Duration time.Duration `json:"duration"`
}

// AttemptsUsed returns the number of attempts executed.
func (r StepResult) AttemptsUsed() int { return len(r.Attempts) }

// FailureClass returns the last attempt's outcome class, or OutcomeOK
// when the step did not fail. A timed-out step reports OutcomeTimeout
// here even though the preceding attempts may have been plain exits.
func (r StepResult) FailureClass() OutcomeClass {
	if r.Status != StepFailed || len(r.Attempts) == 0 {
		return OutcomeOK
	}
	return r.Attempts[len(r.Attempts)-1].Class
}

// Executor runs steps with bounded retry against a CommandRunner.
type Executor struct {
	// Runner is the command-execution backend. Defaults to
	// ShellRunner when nil.
	Runner CommandRunner

	// Clock provides retry backoff waiting. Defaults to clock.Real()
	// when nil.
	Clock clock.Clock

	// Logger receives step progress. Defaults to slog.Default() when
	// nil.
	Logger *slog.Logger
}

func (e *Executor) runner() CommandRunner {
	if e.Runner == nil {
		return ShellRunner{}
	}
	return e.Runner
}

func (e *Executor) clock() clock.Clock {
	if e.Clock == nil {
		return clock.Real()
	}
	return e.Clock
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// RunStep executes one step whose string fields are already expanded.
// The step's When guard is evaluated first: a non-zero guard exit
// skips the step (not a failure). The Run command (and Check, when
// present) then executes up to the retry policy's attempt limit, each
// attempt fenced by the step timeout. Retry happens only when the
// attempt's outcome class is in the policy's retryable set (default:
// exit and timeout); backoff between attempts goes through the
// injected clock.
//
// The returned result always distinguishes a timed-out attempt from a
// non-zero exit. Cancellation of ctx ends the step with OutcomeError
// and no further attempts.
func (e *Executor) RunStep(ctx context.Context, step schema.Step) StepResult {
	start := e.clock().Now()
	logger := e.logger().With("step", step.Name)

	timeout := DefaultStepTimeout
	if step.Timeout != "" {
		parsed, err := time.ParseDuration(step.Timeout)
		if err != nil {
			// Validate should have caught this, but fail loud if not.
			return StepResult{
				Name:   step.Name,
				Status: StepFailed,
				Attempts: []Attempt{{
					Class:    OutcomeError,
					ExitCode: -1,
					Error:    fmt.Sprintf("invalid timeout %q: %v", step.Timeout, err),
				}},
				Duration: e.clock().Now().Sub(start),
			}
		}
		timeout = parsed
	}

	var gracePeriod time.Duration
	if step.GracePeriod != "" {
		parsed, err := time.ParseDuration(step.GracePeriod)
		if err != nil {
			return StepResult{
				Name:   step.Name,
				Status: StepFailed,
				Attempts: []Attempt{{
					Class:    OutcomeError,
					ExitCode: -1,
					Error:    fmt.Sprintf("invalid grace_period %q: %v", step.GracePeriod, err),
				}},
				Duration: e.clock().Now().Sub(start),
			}
		}
		gracePeriod = parsed
	}

	// Evaluate the When guard. Guards are quick verification commands
	// and get a single attempt with immediate SIGKILL on timeout.
	if step.When != "" {
		guardCtx, cancel := context.WithTimeout(ctx, timeout)
		exitCode, output, err := e.runner().Run(guardCtx, step.When, step.Env, 0)
		cancel()
		if err != nil {
			return StepResult{
				Name:   step.Name,
				Status: StepFailed,
				Attempts: []Attempt{{
					Class:    OutcomeError,
					ExitCode: -1,
					Output:   output,
					Error:    fmt.Sprintf("when guard: %v", err),
				}},
				Duration: e.clock().Now().Sub(start),
			}
		}
		if exitCode != 0 {
			logger.Info("step skipped (guard condition not met)")
			return StepResult{
				Name:     step.Name,
				Status:   StepSkipped,
				Duration: e.clock().Now().Sub(start),
			}
		}
	}

	maxAttempts := 1
	var backoff time.Duration
	retryable := map[OutcomeClass]bool{OutcomeExit: true, OutcomeTimeout: true}
	if step.Retry != nil {
		maxAttempts = step.Retry.MaxAttempts
		if step.Retry.Backoff != "" {
			// Validated at load time; a parse failure here means the
			// document bypassed validation, so treat it as zero.
			backoff, _ = time.ParseDuration(step.Retry.Backoff)
		}
		if len(step.Retry.RetryOn) > 0 {
			retryable = make(map[OutcomeClass]bool, len(step.Retry.RetryOn))
			for _, class := range step.Retry.RetryOn {
				retryable[OutcomeClass(class)] = true
			}
		}
	}

	var attempts []Attempt
	for attemptNumber := 1; ; attemptNumber++ {
		attempt := e.runAttempt(ctx, step, timeout, gracePeriod)
		attempts = append(attempts, attempt)

		if attempt.Class == OutcomeOK {
			logger.Info("step ok", "attempts", attemptNumber, "duration", attempt.Duration)
			return StepResult{
				Name:     step.Name,
				Status:   StepOK,
				Attempts: attempts,
				Duration: e.clock().Now().Sub(start),
			}
		}

		if attemptNumber >= maxAttempts || !retryable[attempt.Class] || ctx.Err() != nil {
			logger.Warn("step failed",
				"attempts", attemptNumber,
				"class", string(attempt.Class),
				"error", attempt.Error,
			)
			return StepResult{
				Name:     step.Name,
				Status:   StepFailed,
				Attempts: attempts,
				Duration: e.clock().Now().Sub(start),
			}
		}

		logger.Warn("step attempt failed, retrying",
			"attempt", attemptNumber,
			"max_attempts", maxAttempts,
			"class", string(attempt.Class),
		)
		if backoff > 0 {
			select {
			case <-e.clock().After(backoff):
			case <-ctx.Done():
				// Cancellation during backoff: record it and stop.
				attempts = append(attempts, Attempt{
					Class:    OutcomeError,
					ExitCode: -1,
					Error:    fmt.Sprintf("cancelled during retry backoff: %v", ctx.Err()),
				})
				return StepResult{
					Name:     step.Name,
					Status:   StepFailed,
					Attempts: attempts,
					Duration: e.clock().Now().Sub(start),
				}
			}
		}
	}
}

// runAttempt executes one attempt: the Run command, then the Check
// command when Run succeeds. The attempt context carries the step
// timeout; when it fires the attempt is classified as OutcomeTimeout,
// while cancellation of the parent context is OutcomeError (the run
// is shutting down, not the step misbehaving).
func (e *Executor) runAttempt(ctx context.Context, step schema.Step, timeout, gracePeriod time.Duration) Attempt {
	start := e.clock().Now()
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exitCode, output, err := e.runner().Run(attemptCtx, step.Run, step.Env, gracePeriod)
	if err != nil {
		return e.classifyRunError(ctx, attemptCtx, err, output, timeout, start)
	}
	if exitCode != 0 {
		return Attempt{
			Class:    OutcomeExit,
			ExitCode: exitCode,
			Output:   output,
			Error:    fmt.Sprintf("run: exit code %d", exitCode),
			Duration: e.clock().Now().Sub(start),
		}
	}

	// Check runs inside the same attempt window. A failed check marks
	// the attempt as a non-zero exit, so the retry policy applies to
	// the run+check pair as a unit.
	if step.Check != "" {
		checkExitCode, checkOutput, checkErr := e.runner().Run(attemptCtx, step.Check, step.Env, 0)
		if checkErr != nil {
			return e.classifyRunError(ctx, attemptCtx, fmt.Errorf("check: %w", checkErr), checkOutput, timeout, start)
		}
		if checkExitCode != 0 {
			return Attempt{
				Class:    OutcomeExit,
				ExitCode: checkExitCode,
				Output:   checkOutput,
				Error:    fmt.Sprintf("check: exit code %d", checkExitCode),
				Duration: e.clock().Now().Sub(start),
			}
		}
	}

	return Attempt{
		Class:    OutcomeOK,
		ExitCode: 0,
		Output:   output,
		Duration: e.clock().Now().Sub(start),
	}
}

// classifyRunError distinguishes "the attempt's timeout fired" from
// "the whole run was cancelled" and from backend failures.
func (e *Executor) classifyRunError(parentCtx, attemptCtx context.Context, err error, output string, timeout time.Duration, start time.Time) Attempt {
	duration := e.clock().Now().Sub(start)

	if attemptCtx.Err() == context.DeadlineExceeded && parentCtx.Err() == nil {
		return Attempt{
			Class:    OutcomeTimeout,
			ExitCode: -1,
			Output:   output,
			Error:    fmt.Sprintf("attempt exceeded timeout %s", timeout),
			Duration: duration,
		}
	}

	return Attempt{
		Class:    OutcomeError,
		ExitCode: -1,
		Output:   output,
		Error:    err.Error(),
		Duration: duration,
	}
}
