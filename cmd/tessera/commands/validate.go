// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/tessera-project/tessera/cmd/tessera/cli"
	"github.com/tessera-project/tessera/lib/jobdef"
)

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Check job documents for problems",
		Usage:   "tessera validate <job-file>...",
		Description: `Parse and validate one or more job documents (JSONC or YAML).

Prints every problem found. Exits non-zero when any document is
invalid.`,
		Examples: []cli.Example{
			{Command: "tessera validate jobs/*.yaml"},
		},
		Run: func(args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("at least one job file required")
			}

			invalid := 0
			for _, path := range args {
				job, err := jobdef.ReadFile(path)
				if err != nil {
					fmt.Printf("%s: %v\n", path, err)
					invalid++
					continue
				}
				if job.Name == "" {
					job.Name = jobdef.NameFromPath(path)
				}
				issues := jobdef.Validate(job)
				if len(issues) == 0 {
					fmt.Printf("%s: ok\n", path)
					continue
				}
				invalid++
				fmt.Printf("%s: %d problem(s)\n", path, len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s\n", issue)
				}
			}

			if invalid > 0 {
				return &cli.ExitError{Code: 1}
			}
			return nil
		},
	}
}
