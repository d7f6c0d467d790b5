// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package environment

import (
	"context"
	"fmt"
	"time"

	"github.com/tessera-project/tessera/lib/exec"
)

// ShellProvisioner backs the environment lifecycle with operator-supplied
// shell commands. The environment name is exposed to both commands as
// TESSERA_ENVIRONMENT, so a single up/down pair can serve every matrix
// entry.
//
// Down's idempotency is the down command's responsibility: it must
// tolerate the environment not existing (a failed Up still triggers
// teardown).
type ShellProvisioner struct {
	// UpCommand provisions the environment. A non-zero exit is a setup
	// failure.
	UpCommand string

	// DownCommand destroys the environment. A non-zero exit is a
	// teardown failure.
	DownCommand string

	// GracePeriod is the SIGTERM-to-SIGKILL window applied when a
	// lifecycle command outlives its context.
	GracePeriod time.Duration

	// Runner executes the lifecycle commands. Defaults to
	// exec.ShellRunner when nil.
	Runner exec.CommandRunner
}

func (p *ShellProvisioner) runner() exec.CommandRunner {
	if p.Runner == nil {
		return exec.ShellRunner{}
	}
	return p.Runner
}

func (p *ShellProvisioner) Up(ctx context.Context, name string) error {
	return p.run(ctx, p.UpCommand, "up", name)
}

func (p *ShellProvisioner) Down(ctx context.Context, name string) error {
	return p.run(ctx, p.DownCommand, "down", name)
}

func (p *ShellProvisioner) run(ctx context.Context, command, verb, name string) error {
	if command == "" {
		return fmt.Errorf("no %s command configured", verb)
	}
	env := map[string]string{"TESSERA_ENVIRONMENT": name}
	exitCode, output, err := p.runner().Run(ctx, command, env, p.GracePeriod)
	if err != nil {
		return fmt.Errorf("%s command: %w", verb, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%s command exited %d: %s", verb, exitCode, output)
	}
	return nil
}
