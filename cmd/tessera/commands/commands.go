// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the complete tessera CLI command tree.
package commands

import (
	"fmt"

	"github.com/tessera-project/tessera/cmd/tessera/cli"
	"github.com/tessera-project/tessera/lib/version"
)

// Root builds and returns the complete tessera CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "tessera",
		Description: `Tessera: gated, matrixed, retryable job runner.

Evaluate a trigger condition against an event, expand a test matrix
into entries, and execute each entry's steps with per-step retry,
timeouts, and optional ephemeral environments.`,
		Subcommands: []*cli.Command{
			validateCommand(),
			expandCommand(),
			runCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(args []string) error {
					fmt.Printf("tessera %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Check a job document for problems",
				Command:     "tessera validate jobs/stub-conformance.yaml",
			},
			{
				Description: "Preview the matrix entries a job would run",
				Command:     "tessera expand jobs/stub-conformance.yaml",
			},
			{
				Description: "Run a job for a labeled pull request event",
				Command:     "tessera run jobs/integration.jsonc --event pull_request --action labeled --label approved-for-integration-test",
			},
		},
	}
}
