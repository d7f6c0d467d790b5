// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tessera-project/tessera/lib/clock"
	"github.com/tessera-project/tessera/lib/condition"
	"github.com/tessera-project/tessera/lib/environment"
	"github.com/tessera-project/tessera/lib/exec"
	"github.com/tessera-project/tessera/lib/jobdef"
	"github.com/tessera-project/tessera/lib/matrix"
	"github.com/tessera-project/tessera/lib/schema"
)

// Conclusion is the aggregate outcome of a job run.
type Conclusion string

const (
	// ConclusionSuccess: every entry completed with all required steps ok.
	ConclusionSuccess Conclusion = "success"

	// ConclusionFailure: at least one entry failed and the run was not
	// cut short.
	ConclusionFailure Conclusion = "failure"

	// ConclusionSkipped: the trigger condition gated the run off. No
	// entries were expanded or executed.
	ConclusionSkipped Conclusion = "skipped"

	// ConclusionAborted: fail-fast tripped and at least one entry was
	// cancelled before it started.
	ConclusionAborted Conclusion = "aborted"
)

// EntryStatus is the outcome of a single matrix entry.
type EntryStatus string

const (
	EntryOK        EntryStatus = "ok"
	EntryFailed    EntryStatus = "failed"
	EntryCancelled EntryStatus = "cancelled"
)

// EntryResult records the outcome of one matrix entry: the resolved
// axis values, per-step results in declaration order, and any fatal
// entry-level error (environment setup, readiness, expansion).
type EntryResult struct {
	ID       string            `json:"id"`
	Values   map[string]string `json:"values,omitempty"`
	Status   EntryStatus       `json:"status"`
	Error    string            `json:"error,omitempty"`
	Steps    []exec.StepResult `json:"steps,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// RunResult is the aggregate outcome of a job run.
type RunResult struct {
	RunID      string        `json:"run_id"`
	Job        string        `json:"job"`
	Conclusion Conclusion    `json:"conclusion"`
	Entries    []EntryResult `json:"entries,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Options tunes a single Run call.
type Options struct {
	// Parallelism bounds how many matrix entries execute
	// concurrently. Zero or negative means serial.
	Parallelism int

	// FailFast, when non-nil, overrides the job's fail_fast setting.
	FailFast *bool

	// DedupeIncludes drops include entries whose resolved values
	// duplicate a cross-product entry.
	DedupeIncludes bool

	// ResultLog, when non-nil, receives a JSONL progress line per
	// step, entry, and run.
	ResultLog *ResultLog
}

// errFailFast trips errgroup cancellation when a fail-fast run sees an
// entry failure. It never escapes Run.
var errFailFast = errors.New("fail-fast: entry failed")

// Runner executes a job end to end: condition gate, matrix expansion,
// per-entry step execution with optional environment scope, and result
// aggregation.
type Runner struct {
	// Executor runs individual steps. Defaults to a zero-value
	// exec.Executor (shell runner, real clock) when nil.
	Executor *exec.Executor

	// Provisioner backs ephemeral environments. Required only when a
	// job declares one.
	Provisioner environment.Provisioner

	// Clock provides run timing and environment waits. Defaults to
	// clock.Real() when nil.
	Clock clock.Clock

	// Logger receives run progress. Defaults to slog.Default() when
	// nil.
	Logger *slog.Logger
}

func (r *Runner) executor() *exec.Executor {
	if r.Executor == nil {
		return &exec.Executor{Clock: r.Clock, Logger: r.Logger}
	}
	return r.Executor
}

func (r *Runner) clock() clock.Clock {
	if r.Clock == nil {
		return clock.Real()
	}
	return r.Clock
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}

// Run executes job against event. The matrix is expanded and the job
// validated up front, so a malformed document fails loud before
// anything executes; matrix-shape problems surface as the typed
// *matrix.InvalidMatrixError. The trigger condition is then evaluated
// and a gated-off job returns a skipped result without executing
// anything. Matrix entries execute with bounded parallelism; under
// fail-fast an entry failure cancels entries that have not started
// (reported cancelled) and the run concludes aborted. Without
// fail-fast every entry runs to completion and the run concludes
// failure if any entry failed.
//
// A non-nil error means the run could not start (invalid job document
// or matrix); partial execution is always reported through RunResult.
func (r *Runner) Run(ctx context.Context, job *schema.JobSpec, event condition.EventContext, opts Options) (*RunResult, error) {
	// Expand before Validate: both reject a malformed matrix, but
	// expansion carries the typed error callers match on.
	entries, err := matrix.Expand(job.Matrix, matrix.Options{DedupeIncludes: opts.DedupeIncludes})
	if err != nil {
		return nil, fmt.Errorf("expanding matrix for job %q: %w", job.Name, err)
	}
	if issues := jobdef.Validate(job); len(issues) > 0 {
		return nil, fmt.Errorf("invalid job %q: %s", job.Name, strings.Join(issues, "; "))
	}

	runID := uuid.NewString()
	logger := r.logger().With("run_id", runID, "job", job.Name)
	start := r.clock().Now()

	result := &RunResult{RunID: runID, Job: job.Name}

	if !condition.Evaluate(job.Trigger, event) {
		logger.Info("trigger condition not met, skipping run",
			"event", event.Event, "action", event.Action)
		result.Conclusion = ConclusionSkipped
		result.Duration = r.clock().Now().Sub(start)
		opts.ResultLog.writeFinal(runID, result.Conclusion, result.Duration)
		return result, nil
	}

	failFast := job.FailFast
	if opts.FailFast != nil {
		failFast = *opts.FailFast
	}

	logger.Info("starting run",
		"entries", len(entries),
		"fail_fast", failFast,
		"parallelism", opts.Parallelism)
	opts.ResultLog.writeStart(runID, job.Name, len(entries))

	results := make([]EntryResult, len(entries))
	group, groupCtx := errgroup.WithContext(ctx)
	limit := opts.Parallelism
	if limit <= 0 {
		limit = 1
	}
	group.SetLimit(limit)

	for i, entry := range entries {
		group.Go(func() error {
			// Entries cancelled before starting (fail-fast sibling
			// failure, or the caller's context) report cancelled
			// rather than failed.
			if groupCtx.Err() != nil {
				results[i] = EntryResult{
					ID:     entry.ID,
					Values: entry.Values,
					Status: EntryCancelled,
					Error:  "cancelled before start",
				}
				opts.ResultLog.writeEntry(runID, results[i])
				return nil
			}

			results[i] = r.runEntry(groupCtx, job, entry, logger, opts.ResultLog, runID)
			opts.ResultLog.writeEntry(runID, results[i])

			if failFast && results[i].Status == EntryFailed {
				return errFailFast
			}
			return nil
		})
	}

	// The only error a goroutine returns is the fail-fast sentinel;
	// its effect — cancelled entries — is already in results.
	if err := group.Wait(); err != nil && !errors.Is(err, errFailFast) {
		return nil, err
	}

	result.Entries = results
	result.Conclusion = conclude(results)
	result.Duration = r.clock().Now().Sub(start)

	logger.Info("run finished",
		"conclusion", result.Conclusion,
		"duration", result.Duration)
	opts.ResultLog.writeFinal(runID, result.Conclusion, result.Duration)
	return result, nil
}

// conclude derives the aggregate conclusion from per-entry outcomes.
func conclude(entries []EntryResult) Conclusion {
	cancelled := false
	failed := false
	for _, entry := range entries {
		switch entry.Status {
		case EntryCancelled:
			cancelled = true
		case EntryFailed:
			failed = true
		}
	}
	switch {
	case cancelled:
		return ConclusionAborted
	case failed:
		return ConclusionFailure
	default:
		return ConclusionSuccess
	}
}

// runEntry executes one matrix entry: expands step templates against
// the entry's axis values, wraps the steps in the job's environment
// scope when one is declared, and runs steps in order. After a
// required step fails, remaining steps are skipped except those marked
// always-run.
func (r *Runner) runEntry(ctx context.Context, job *schema.JobSpec, entry matrix.Entry, logger *slog.Logger, resultLog *ResultLog, runID string) EntryResult {
	start := r.clock().Now()
	entryLogger := logger.With("entry", entry.ID)
	result := EntryResult{ID: entry.ID, Values: entry.Values}

	variables, err := entryVariables(job, entry)
	if err != nil {
		result.Status = EntryFailed
		result.Error = err.Error()
		result.Duration = r.clock().Now().Sub(start)
		return result
	}

	runSteps := func(ctx context.Context) error {
		result.Steps = r.runSteps(ctx, job, entry, variables, entryLogger, resultLog, runID)
		return nil
	}

	if job.Environment != nil {
		err = r.withEnvironment(ctx, *job.Environment, variables, entryLogger, runSteps)
	} else {
		err = runSteps(ctx)
	}

	result.Duration = r.clock().Now().Sub(start)
	switch {
	case err != nil:
		// Environment setup, readiness, or teardown failure. The
		// steps that did run (if any) are already recorded.
		result.Status = EntryFailed
		result.Error = err.Error()
	case stepsFailed(result.Steps, job.Steps):
		result.Status = EntryFailed
	default:
		result.Status = EntryOK
	}
	return result
}

// withEnvironment wraps body in the job's environment scope.
func (r *Runner) withEnvironment(ctx context.Context, spec schema.EnvironmentSpec, variables map[string]string, logger *slog.Logger, body func(context.Context) error) error {
	if r.Provisioner == nil {
		return fmt.Errorf("job declares environment %q but no provisioner is configured", spec.Name)
	}
	expanded, err := jobdef.ExpandEnvironment(spec, variables)
	if err != nil {
		return fmt.Errorf("expanding environment: %w", err)
	}
	controller := &environment.Controller{
		Provisioner: r.Provisioner,
		Runner:      r.executor().Runner,
		Clock:       r.Clock,
		Logger:      logger,
	}
	return controller.WithEnvironment(ctx, expanded, body)
}

// runSteps executes the job's steps in order for one entry.
func (r *Runner) runSteps(ctx context.Context, job *schema.JobSpec, entry matrix.Entry, variables map[string]string, logger *slog.Logger, resultLog *ResultLog, runID string) []exec.StepResult {
	executor := r.executor()
	results := make([]exec.StepResult, 0, len(job.Steps))
	failed := false

	for _, step := range job.Steps {
		if failed && !step.AlwaysRun {
			results = append(results, exec.StepResult{
				Name:   step.Name,
				Status: exec.StepSkipped,
			})
			resultLog.writeStep(runID, entry.ID, results[len(results)-1])
			continue
		}

		expanded, err := jobdef.ExpandStep(step, variables)
		if err != nil {
			logger.Error("step template expansion failed",
				"step", step.Name, "error", err)
			results = append(results, exec.StepResult{
				Name:   step.Name,
				Status: exec.StepFailed,
				Attempts: []exec.Attempt{{
					Class:    exec.OutcomeError,
					ExitCode: -1,
					Error:    err.Error(),
				}},
			})
		} else {
			expanded.Env = withMatrixEnv(expanded.Env, entry.Values)
			results = append(results, executor.RunStep(ctx, expanded))
		}

		last := results[len(results)-1]
		resultLog.writeStep(runID, entry.ID, last)
		if last.Status == exec.StepFailed && !step.Optional {
			failed = true
		}
	}
	return results
}

// stepsFailed reports whether any required step failed. Optional steps
// are matched back to their declarations by position.
func stepsFailed(results []exec.StepResult, steps []schema.Step) bool {
	for i, result := range results {
		if result.Status == exec.StepFailed && i < len(steps) && !steps[i].Optional {
			return true
		}
	}
	return false
}

// entryVariables builds the template variable set for one entry: the
// entry's axis values plus the job's env block, whose values may
// themselves reference axis variables.
func entryVariables(job *schema.JobSpec, entry matrix.Entry) (map[string]string, error) {
	variables := make(map[string]string, len(entry.Values)+len(job.Env))
	for axis, value := range entry.Values {
		variables[axis] = value
	}
	for name, template := range job.Env {
		expanded, err := jobdef.Expand(template, entry.Values)
		if err != nil {
			return nil, fmt.Errorf("job env %s: %w", name, err)
		}
		variables[name] = expanded
	}
	return variables, nil
}

// withMatrixEnv merges MATRIX_<AXIS> process variables into a step's
// environment so commands can read axis values without templating.
// Explicit step env wins on collision.
func withMatrixEnv(stepEnv, values map[string]string) map[string]string {
	if len(values) == 0 {
		return stepEnv
	}
	merged := make(map[string]string, len(stepEnv)+len(values))
	for axis, value := range values {
		merged["MATRIX_"+strings.ToUpper(axis)] = value
	}
	for name, value := range stepEnv {
		merged[name] = value
	}
	return merged
}
