// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package environment manages the ephemeral environment lifecycle
// around a matrix entry's steps: provision, wait for readiness, run
// the body, and tear down on every exit path. Setup is paired with
// guaranteed release — once Up has been invoked, Down runs exactly
// once regardless of how the scope exits (body failure, body panic,
// readiness timeout, run cancellation).
package environment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tessera-project/tessera/lib/clock"
	"github.com/tessera-project/tessera/lib/exec"
	"github.com/tessera-project/tessera/lib/schema"
)

// Defaults for EnvironmentSpec duration fields.
const (
	DefaultProbeInterval   = 5 * time.Second
	DefaultReadyTimeout    = 2 * time.Minute
	DefaultTeardownTimeout = time.Minute
)

// Provisioner is the external environment backend. It understands two
// lifecycle verbs keyed by an opaque environment name. Down must be
// idempotent: tearing down an environment that does not exist (or was
// only partially provisioned) is not an error.
type Provisioner interface {
	Up(ctx context.Context, name string) error
	Down(ctx context.Context, name string) error
}

// SetupError wraps a provisioner Up failure. Fatal for the owning
// matrix entry; the body is skipped but teardown still runs.
type SetupError struct {
	Name string
	Err  error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("environment %q setup: %v", e.Name, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// NotReadyError reports that the readiness probe did not succeed
// within the configured timeout. Fatal for the owning matrix entry;
// teardown still runs.
type NotReadyError struct {
	Name    string
	Timeout time.Duration
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("environment %q not ready after %s", e.Name, e.Timeout)
}

// Controller runs bodies inside a provisioned environment scope.
type Controller struct {
	// Provisioner is the environment backend. Required.
	Provisioner Provisioner

	// Runner executes readiness probe commands. Defaults to
	// exec.ShellRunner when nil.
	Runner exec.CommandRunner

	// Clock provides probe-interval and settle-delay waiting.
	// Defaults to clock.Real() when nil.
	Clock clock.Clock

	// Logger receives lifecycle progress. Defaults to slog.Default()
	// when nil.
	Logger *slog.Logger
}

func (c *Controller) runner() exec.CommandRunner {
	if c.Runner == nil {
		return exec.ShellRunner{}
	}
	return c.Runner
}

func (c *Controller) clock() clock.Clock {
	if c.Clock == nil {
		return clock.Real()
	}
	return c.Clock
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// WithEnvironment provisions the environment described by spec (whose
// string fields are already expanded), waits for readiness, invokes
// body, and tears the environment down. Teardown runs on every exit
// path after Up has been invoked — including Up returning an error,
// since a failed Up may have left a partial environment behind and
// Down is idempotent by contract. Teardown uses a context detached
// from ctx, bounded by the configured teardown timeout, so run
// cancellation cannot leak environments.
//
// The returned error is the body's error, or a *SetupError /
// *NotReadyError when the scope never reached the body. A teardown
// failure is logged and returned only when nothing else went wrong.
func (c *Controller) WithEnvironment(ctx context.Context, spec schema.EnvironmentSpec, body func(context.Context) error) (err error) {
	logger := c.logger().With("environment", spec.Name)

	teardownTimeout := parseDurationDefault(spec.TeardownTimeout, DefaultTeardownTimeout)

	// From here on the provisioner is invoked, so teardown must run
	// no matter how this function exits — body panics included.
	defer func() {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
		defer cancel()

		logger.Info("tearing down environment")
		if downErr := c.Provisioner.Down(downCtx, spec.Name); downErr != nil {
			logger.Error("environment teardown failed", "error", downErr)
			if err == nil {
				err = fmt.Errorf("environment %q teardown: %w", spec.Name, downErr)
			}
		}
	}()

	logger.Info("provisioning environment")
	if upErr := c.Provisioner.Up(ctx, spec.Name); upErr != nil {
		return &SetupError{Name: spec.Name, Err: upErr}
	}

	if waitErr := c.waitReady(ctx, spec, logger); waitErr != nil {
		return waitErr
	}

	return body(ctx)
}

// waitReady blocks until the environment is ready. With a probe
// declared, it polls the probe command at the configured interval
// until it exits zero or the ready timeout elapses. Without a probe
// it falls back to sleeping the fixed settle delay — the weaker
// behavior, kept for backends that expose no readiness signal.
func (c *Controller) waitReady(ctx context.Context, spec schema.EnvironmentSpec, logger *slog.Logger) error {
	if spec.Probe == "" {
		settle := parseDurationDefault(spec.SettleDelay, 0)
		if settle > 0 {
			logger.Info("no readiness probe, sleeping settle delay", "delay", settle)
			c.clock().Sleep(settle)
		}
		return nil
	}

	interval := parseDurationDefault(spec.ProbeInterval, DefaultProbeInterval)
	timeout := parseDurationDefault(spec.ReadyTimeout, DefaultReadyTimeout)
	deadline := c.clock().Now().Add(timeout)

	for attempt := 1; ; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		exitCode, _, probeErr := c.runner().Run(probeCtx, spec.Probe, nil, 0)
		cancel()

		if probeErr == nil && exitCode == 0 {
			logger.Info("environment ready", "probe_attempts", attempt)
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("readiness wait cancelled: %w", ctx.Err())
		}
		if !c.clock().Now().Add(interval).Before(deadline) {
			return &NotReadyError{Name: spec.Name, Timeout: timeout}
		}

		select {
		case <-c.clock().After(interval):
		case <-ctx.Done():
			return fmt.Errorf("readiness wait cancelled: %w", ctx.Err())
		}
	}
}

// parseDurationDefault parses a duration-valued document field,
// falling back to the default when the field is empty. Parse failures
// also fall back — lib/jobdef validation rejects them before a run
// gets here.
func parseDurationDefault(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
