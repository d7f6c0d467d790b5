// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package jobdef

import (
	"fmt"
	"regexp"
	"time"

	"github.com/tessera-project/tessera/lib/condition"
	"github.com/tessera-project/tessera/lib/schema"
)

// axisNamePattern matches valid matrix axis names. Axis values become
// ${name} template variables, so the character set is the identifier
// set: start with a letter or underscore, followed by letters, digits,
// or underscores. Anchored to the full string.
var axisNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks a JobSpec for structural issues. Returns a list of
// human-readable issue descriptions. An empty list means the job is
// valid.
//
// Structural checks include:
//   - Name is required
//   - At least one step is required
//   - Each step must have a non-empty Name and a Run command
//   - Step names must be unique across the job
//   - Timeout, GracePeriod, and retry Backoff must be parseable by
//     time.ParseDuration
//   - Retry MaxAttempts must be >= 1 and RetryOn classes recognized
//   - Matrix axis names must be identifiers with at least one value;
//     include entries may only reference declared axes
//   - The trigger tree must set exactly one field per node
//   - An environment declaration must have a Name and parseable
//     durations
func Validate(job *schema.JobSpec) []string {
	var issues []string

	if job.Name == "" {
		issues = append(issues, "job name is required")
	}

	if len(job.Steps) == 0 {
		issues = append(issues, "job has no steps (at least one step is required)")
	}

	// Step names must be unique: results are keyed by step name, and
	// duplicates would make per-step attempt detail ambiguous.
	stepNames := make(map[string]int, len(job.Steps))
	for index, step := range job.Steps {
		if step.Name != "" {
			if firstIndex, exists := stepNames[step.Name]; exists {
				issues = append(issues, fmt.Sprintf(
					"steps[%d] %q: duplicate step name (first used at steps[%d])",
					index, step.Name, firstIndex,
				))
			} else {
				stepNames[step.Name] = index
			}
		}
	}

	for index, step := range job.Steps {
		prefix := fmt.Sprintf("steps[%d]", index)
		issues = append(issues, validateStep(step, prefix)...)
	}

	if err := condition.Validate(job.Trigger); err != nil {
		issues = append(issues, err.Error())
	}

	if job.Matrix != nil {
		issues = append(issues, validateMatrix(job.Matrix)...)
	}

	if job.Environment != nil {
		issues = append(issues, validateEnvironment(job.Environment)...)
	}

	return issues
}

// validateStep checks a single step for structural issues. The prefix
// identifies the step's position (e.g., "steps[0]") for messages.
func validateStep(step schema.Step, prefix string) []string {
	var issues []string

	if step.Name == "" {
		issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
	} else {
		prefix = fmt.Sprintf("%s %q", prefix, step.Name)
	}

	if step.Run == "" {
		issues = append(issues, fmt.Sprintf("%s: run is required", prefix))
	}

	issues = append(issues, validateDuration(step.Timeout, prefix, "timeout")...)
	issues = append(issues, validateDuration(step.GracePeriod, prefix, "grace_period")...)

	if step.Retry != nil {
		if step.Retry.MaxAttempts < 1 {
			issues = append(issues, fmt.Sprintf("%s: retry.max_attempts must be >= 1, got %d", prefix, step.Retry.MaxAttempts))
		}
		issues = append(issues, validateDuration(step.Retry.Backoff, prefix, "retry.backoff")...)
		for _, class := range step.Retry.RetryOn {
			switch class {
			case schema.RetryOnExit, schema.RetryOnTimeout:
				// Valid.
			default:
				issues = append(issues, fmt.Sprintf(
					"%s: retry.retry_on contains unknown class %q (want %q or %q)",
					prefix, class, schema.RetryOnExit, schema.RetryOnTimeout,
				))
			}
		}
	}

	return issues
}

// validateMatrix checks axis declarations and include references.
// Full expansion errors (defaults, duplicates) surface through
// matrix.Expand; this catches the document-shape problems that make
// expansion impossible or confusing.
func validateMatrix(spec *schema.MatrixSpec) []string {
	var issues []string

	declared := make(map[string]bool, len(spec.Axes))
	for index, axis := range spec.Axes {
		prefix := fmt.Sprintf("matrix.axes[%d]", index)
		if axis.Name == "" {
			issues = append(issues, fmt.Sprintf("%s: name is required", prefix))
			continue
		}
		if !axisNamePattern.MatchString(axis.Name) {
			issues = append(issues, fmt.Sprintf(
				"%s %q: axis name must be a valid identifier ([A-Za-z_][A-Za-z0-9_]*)",
				prefix, axis.Name,
			))
		}
		if declared[axis.Name] {
			issues = append(issues, fmt.Sprintf("%s %q: axis declared twice", prefix, axis.Name))
		}
		declared[axis.Name] = true
		if len(axis.Values) == 0 {
			issues = append(issues, fmt.Sprintf("%s %q: at least one value is required", prefix, axis.Name))
		}
	}

	for index, include := range spec.Include {
		for name := range include {
			if !declared[name] {
				issues = append(issues, fmt.Sprintf(
					"matrix.include[%d]: references undeclared axis %q", index, name,
				))
			}
		}
	}

	return issues
}

// validateEnvironment checks an environment declaration.
func validateEnvironment(spec *schema.EnvironmentSpec) []string {
	var issues []string

	if spec.Name == "" {
		issues = append(issues, "environment.name is required")
	}
	issues = append(issues, validateDuration(spec.ProbeInterval, "environment", "probe_interval")...)
	issues = append(issues, validateDuration(spec.ReadyTimeout, "environment", "ready_timeout")...)
	issues = append(issues, validateDuration(spec.SettleDelay, "environment", "settle_delay")...)
	issues = append(issues, validateDuration(spec.TeardownTimeout, "environment", "teardown_timeout")...)

	return issues
}

// validateDuration checks that a duration-valued field parses when
// present.
func validateDuration(value, prefix, field string) []string {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return []string{fmt.Sprintf("%s: invalid %s %q: %v", prefix, field, value, err)}
	}
	return nil
}
