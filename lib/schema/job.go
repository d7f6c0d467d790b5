// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// JobSpec is the root of a Tessera job document. It defines a gated,
// matrixed sequence of steps: a trigger condition deciding whether the
// job runs at all for a given event, a matrix declaration expanded
// into independent entries, and the steps executed for each entry.
//
// Variable substitution (${NAME}) is applied to step string fields
// before execution. Variables are resolved from job-level env, matrix
// entry values, and step-level env.
type JobSpec struct {
	// Name identifies the job in logs and results (e.g.,
	// "stub-conformance", "storage-integration"). Required.
	Name string `json:"name" yaml:"name"`

	// Description is a human-readable summary of what this job does.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Trigger gates the job on event metadata. A nil or empty trigger
	// means the job is unconditional and runs for every event. A
	// non-empty trigger that does not match yields a skipped run.
	Trigger *TriggerSpec `json:"trigger,omitempty" yaml:"trigger,omitempty"`

	// Matrix declares the axes expanded into independent entries. A
	// job without a matrix runs exactly once with an empty entry.
	Matrix *MatrixSpec `json:"matrix,omitempty" yaml:"matrix,omitempty"`

	// FailFast controls sibling behavior when one matrix entry fails.
	// True: the first entry failure cancels all not-yet-started
	// entries and the run concludes as aborted. False (default): all
	// entries run to completion and the run concludes as failure if
	// any entry failed.
	FailFast bool `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`

	// Env is the job-level variable map, available to every step of
	// every entry. Matrix entry values override job env on collision.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Environment, when set, wraps each entry's steps in an ephemeral
	// environment lifecycle: provision, wait for readiness, run steps,
	// tear down unconditionally.
	Environment *EnvironmentSpec `json:"environment,omitempty" yaml:"environment,omitempty"`

	// Steps is the ordered list of steps executed for each matrix
	// entry. At least one step is required. Steps run sequentially;
	// after a non-optional step fails, remaining steps are skipped
	// except those marked AlwaysRun.
	Steps []Step `json:"steps" yaml:"steps"`
}

// Step is a single step in a job. Run is the only action: a shell
// command executed via sh -c with variable substitution applied.
type Step struct {
	// Name is a human-readable identifier for this step, used in log
	// output and results (e.g., "install-deps", "run-stub-check").
	// Required, unique within the job.
	Name string `json:"name" yaml:"name"`

	// Run is a shell command executed via sh -c. Multi-line strings
	// are supported. Variable substitution (${NAME}) is applied
	// before execution. Required.
	Run string `json:"run" yaml:"run"`

	// When is a guard condition command. Runs before Run; if it exits
	// non-zero, the step is skipped (not failed). Use for conditional
	// steps: when: "test -n '${REPORT_DIR}'" skips the step when the
	// variable is empty.
	When string `json:"when,omitempty" yaml:"when,omitempty"`

	// Check is a post-step verification command. Runs after Run
	// succeeds within the same attempt; if Check exits non-zero, the
	// attempt is treated as failed (and retried under the step's
	// retry policy). Catches cases where a command "succeeds" but
	// doesn't produce the expected result.
	Check string `json:"check,omitempty" yaml:"check,omitempty"`

	// Env is the step-level variable map. Values are expanded against
	// job and matrix variables, then exported into the command's
	// process environment and available as ${NAME} in Run/When/Check.
	Env map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// Timeout bounds each attempt of this step. Duration string
	// ("90s", "10m"). When empty, DefaultStepTimeout applies. An
	// attempt exceeding the timeout is forcibly terminated and
	// recorded as timed out — never downgraded to a generic failure.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// GracePeriod enables graceful termination on timeout: SIGTERM
	// first, then SIGKILL after the grace period elapses. When empty
	// or zero, the process group is SIGKILLed immediately. Use for
	// steps that perform irreversible work and need to flush state.
	GracePeriod string `json:"grace_period,omitempty" yaml:"grace_period,omitempty"`

	// Optional means a failure of this step is recorded but does not
	// fail the entry; subsequent steps still run.
	Optional bool `json:"optional,omitempty" yaml:"optional,omitempty"`

	// AlwaysRun means this step executes even after an earlier step
	// in the entry has failed. Use for teardown-style steps (deleting
	// a test cluster, removing scratch buckets) that must run on
	// every exit path.
	AlwaysRun bool `json:"always_run,omitempty" yaml:"always_run,omitempty"`

	// Retry, when set, re-runs failed attempts of this step up to
	// MaxAttempts. A step without a retry policy gets exactly one
	// attempt.
	Retry *RetryPolicy `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// Outcome classes a retry policy can match. A step attempt ends in
// exactly one class; the policy's RetryOn list decides which classes
// are retryable.
const (
	// RetryOnExit matches attempts that ran to completion and exited
	// non-zero (including failed Check commands).
	RetryOnExit = "exit"

	// RetryOnTimeout matches attempts terminated for exceeding the
	// step timeout.
	RetryOnTimeout = "timeout"
)

// RetryPolicy bounds re-execution of a failing step. The default
// policy (nil) is a single attempt. When a policy is present, the
// default retryable classes are exit and timeout — any non-zero exit
// or exceeded timeout triggers another attempt until MaxAttempts.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the
	// first. Must be >= 1.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// Backoff is an optional fixed delay between attempts. Duration
	// string. Empty or zero means immediate retry.
	Backoff string `json:"backoff,omitempty" yaml:"backoff,omitempty"`

	// RetryOn lists the outcome classes that trigger a retry
	// (RetryOnExit, RetryOnTimeout). Empty means both.
	RetryOn []string `json:"retry_on,omitempty" yaml:"retry_on,omitempty"`
}

// MatrixSpec declares the job's expansion axes. The cross product of
// all axes, in declaration order (first axis outermost), produces one
// entry per combination; include entries are appended afterwards as
// standalone combinations, never deduplicated against the cross
// product.
type MatrixSpec struct {
	// Axes is the ordered list of expansion axes.
	Axes []Axis `json:"axes,omitempty" yaml:"axes,omitempty"`

	// Include is a list of additional entries appended after the
	// cross product. Each maps axis names to values. A partial entry
	// (missing some axes) is completed from axis defaults; a missing
	// default or a reference to an undeclared axis is an
	// InvalidMatrixError.
	Include []map[string]string `json:"include,omitempty" yaml:"include,omitempty"`
}

// Axis is one matrix dimension: an identifier name and the ordered
// candidate values it takes in the cross product.
type Axis struct {
	// Name is the axis identifier ([A-Za-z_][A-Za-z0-9_]*). Entry
	// values are exposed to steps as ${name} template variables and
	// MATRIX_<NAME> process environment variables.
	Name string `json:"name" yaml:"name"`

	// Values is the ordered list of candidate values. At least one
	// is required.
	Values []string `json:"values" yaml:"values"`

	// Default fills this axis in partial include entries. Optional;
	// an include entry omitting an axis without a default is an
	// InvalidMatrixError.
	Default string `json:"default,omitempty" yaml:"default,omitempty"`
}

// EnvironmentSpec declares an ephemeral environment provisioned per
// matrix entry: the provisioner brings it up, the controller waits for
// readiness, the steps run, and teardown is guaranteed on every exit
// path including failure and cancellation.
type EnvironmentSpec struct {
	// Name is the environment identifier handed to the provisioner.
	// Variable substitution applies, so matrix values can namespace
	// environments per entry (e.g., "it-${version}-${os}"). Required
	// when an environment is declared.
	Name string `json:"name" yaml:"name"`

	// Probe is an optional readiness command run via sh -c. The
	// environment is ready when the probe exits zero. When empty, the
	// controller falls back to sleeping SettleDelay.
	Probe string `json:"probe,omitempty" yaml:"probe,omitempty"`

	// ProbeInterval is the delay between readiness probe attempts.
	// Duration string; defaults to 5s.
	ProbeInterval string `json:"probe_interval,omitempty" yaml:"probe_interval,omitempty"`

	// ReadyTimeout bounds the whole readiness wait. Duration string;
	// defaults to 2m. Exceeding it fails the entry with
	// EnvironmentNotReadyError (teardown still runs).
	ReadyTimeout string `json:"ready_timeout,omitempty" yaml:"ready_timeout,omitempty"`

	// SettleDelay is the fixed wait used when no Probe is declared.
	// Duration string; defaults to zero (no wait). Prefer a Probe —
	// fixed delays are flaky under environment-startup variance.
	SettleDelay string `json:"settle_delay,omitempty" yaml:"settle_delay,omitempty"`

	// TeardownTimeout bounds the teardown call. Duration string;
	// defaults to 1m. Teardown runs on a context detached from the
	// run so cancellation cannot leak environments.
	TeardownTimeout string `json:"teardown_timeout,omitempty" yaml:"teardown_timeout,omitempty"`
}
