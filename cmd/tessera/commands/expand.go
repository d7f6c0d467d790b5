// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/tessera-project/tessera/cmd/tessera/cli"
	"github.com/tessera-project/tessera/lib/jobdef"
	"github.com/tessera-project/tessera/lib/matrix"
)

func expandCommand() *cli.Command {
	var (
		dedupeIncludes bool
		asJSON         bool
	)
	return &cli.Command{
		Name:    "expand",
		Summary: "Preview the matrix entries a job would run",
		Usage:   "tessera expand <job-file> [flags]",
		Description: `Expand a job's matrix into the entries a run would execute, in
execution order, without running anything.`,
		Examples: []cli.Example{
			{Command: "tessera expand jobs/stub-conformance.yaml --json"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("expand", pflag.ContinueOnError)
			flagSet.BoolVar(&dedupeIncludes, "dedupe-includes", false,
				"drop include entries that duplicate a cross-product entry")
			flagSet.BoolVar(&asJSON, "json", false, "emit entries as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("exactly one job file required")
			}
			job, err := jobdef.ReadFile(args[0])
			if err != nil {
				return err
			}

			entries, err := matrix.Expand(job.Matrix, matrix.Options{DedupeIncludes: dedupeIncludes})
			if err != nil {
				return err
			}

			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(entries)
			}
			for _, entry := range entries {
				id := entry.ID
				if id == "" {
					id = "(single entry, no matrix)"
				}
				fmt.Println(id)
			}
			return nil
		},
	}
}
