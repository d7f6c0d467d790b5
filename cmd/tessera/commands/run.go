// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tessera-project/tessera/cmd/tessera/cli"
	"github.com/tessera-project/tessera/lib/condition"
	"github.com/tessera-project/tessera/lib/environment"
	"github.com/tessera-project/tessera/lib/jobdef"
	"github.com/tessera-project/tessera/lib/matrix"
	"github.com/tessera-project/tessera/lib/runner"
	"github.com/tessera-project/tessera/lib/schema"
)

func runCommand() *cli.Command {
	var (
		eventFile      string
		eventType      string
		eventAction    string
		eventLabels    []string
		eventBranch    string
		parallelism    int
		failFast       bool
		dedupeIncludes bool
		resultLogPath  string
		envUp          string
		envDown        string
		envGrace       time.Duration
		dryRun         bool
		asJSON         bool
		flagSet        *pflag.FlagSet
	)
	return &cli.Command{
		Name:    "run",
		Summary: "Execute a job against an event",
		Usage:   "tessera run <job-file> [flags]",
		Description: `Run a job document: evaluate its trigger condition against the
event described by the flags, expand the matrix, and execute the
entries. Exits 0 for success or skipped, 1 for failure or aborted.

SIGINT and SIGTERM cancel the run; environments that were set up are
still torn down.`,
		Examples: []cli.Example{
			{
				Description: "Run with event fields from flags",
				Command:     "tessera run jobs/integration.jsonc --event pull_request --action labeled --label approved-for-integration-test",
			},
			{
				Description: "Run with a JSON event file and shell-provisioned environments",
				Command:     "tessera run jobs/integration.jsonc --event-file event.json --env-up './stage up' --env-down './stage down'",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet = pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.StringVar(&eventFile, "event-file", "", "JSON file with the event context")
			flagSet.StringVar(&eventType, "event", "", "event type (e.g. pull_request, push)")
			flagSet.StringVar(&eventAction, "action", "", "event action (e.g. opened, labeled)")
			flagSet.StringArrayVar(&eventLabels, "label", nil, "event label (repeatable)")
			flagSet.StringVar(&eventBranch, "branch", "", "event target branch")
			flagSet.IntVar(&parallelism, "parallelism", 1, "concurrent matrix entries")
			flagSet.BoolVar(&failFast, "fail-fast", false, "override the job's fail_fast setting")
			flagSet.BoolVar(&dedupeIncludes, "dedupe-includes", false,
				"drop include entries that duplicate a cross-product entry")
			flagSet.StringVar(&resultLogPath, "result-log", "", "write JSONL progress to this file")
			flagSet.StringVar(&envUp, "env-up", "", "shell command that provisions an environment")
			flagSet.StringVar(&envDown, "env-down", "", "shell command that tears an environment down")
			flagSet.DurationVar(&envGrace, "env-grace-period", 10*time.Second,
				"SIGTERM-to-SIGKILL window for lifecycle commands")
			flagSet.BoolVar(&dryRun, "dry-run", false,
				"evaluate the trigger and expand the matrix without executing anything")
			flagSet.BoolVar(&asJSON, "json", false, "emit the run result as JSON")
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
			if job.Name == "" {
				job.Name = jobdef.NameFromPath(args[0])
			}

			event, err := loadEvent(eventFile, eventType, eventAction, eventLabels, eventBranch)
			if err != nil {
				return err
			}

			logger := cli.NewCommandLogger().With("command", "run")

			if dryRun {
				return printDryRun(job, event, dedupeIncludes)
			}

			opts := runner.Options{
				Parallelism:    parallelism,
				DedupeIncludes: dedupeIncludes,
			}
			if flagSet.Changed("fail-fast") {
				opts.FailFast = &failFast
			}
			if resultLogPath != "" {
				resultLog, err := runner.NewResultLog(resultLogPath, logger)
				if err != nil {
					return err
				}
				defer resultLog.Close()
				opts.ResultLog = resultLog
			}

			jobRunner := &runner.Runner{Logger: logger}
			if envUp != "" || envDown != "" {
				jobRunner.Provisioner = &environment.ShellProvisioner{
					UpCommand:   envUp,
					DownCommand: envDown,
					GracePeriod: envGrace,
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			result, err := jobRunner.Run(ctx, job, event, opts)
			if err != nil {
				return err
			}

			if asJSON {
				encoder := json.NewEncoder(os.Stdout)
				encoder.SetIndent("", "  ")
				if err := encoder.Encode(result); err != nil {
					return err
				}
			} else {
				printRunSummary(result)
			}

			switch result.Conclusion {
			case runner.ConclusionSuccess, runner.ConclusionSkipped:
				return nil
			default:
				return &cli.ExitError{Code: 1}
			}
		},
	}
}

// printDryRun reports what a run would do: whether the trigger gates
// the job off, and the entries the matrix expands to.
func printDryRun(job *schema.JobSpec, event condition.EventContext, dedupeIncludes bool) error {
	if issues := jobdef.Validate(job); len(issues) > 0 {
		return fmt.Errorf("invalid job %q: %s", job.Name, strings.Join(issues, "; "))
	}
	if !condition.Evaluate(job.Trigger, event) {
		fmt.Printf("job %s: trigger condition not met, run would be skipped\n", job.Name)
		return nil
	}
	entries, err := matrix.Expand(job.Matrix, matrix.Options{DedupeIncludes: dedupeIncludes})
	if err != nil {
		return err
	}
	fmt.Printf("job %s: would run %d entries, %d steps each\n", job.Name, len(entries), len(job.Steps))
	for _, entry := range entries {
		if entry.ID != "" {
			fmt.Printf("  %s\n", entry.ID)
		}
	}
	return nil
}

// loadEvent builds the event context from --event-file (when given)
// with individual flags overriding its fields.
func loadEvent(path, eventType, action string, labels []string, branch string) (condition.EventContext, error) {
	var event condition.EventContext
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return event, fmt.Errorf("reading event file: %w", err)
		}
		if err := json.Unmarshal(data, &event); err != nil {
			return event, fmt.Errorf("parsing event file %s: %w", path, err)
		}
	}
	if eventType != "" {
		event.Event = eventType
	}
	if action != "" {
		event.Action = action
	}
	if len(labels) > 0 {
		event.Labels = labels
	}
	if branch != "" {
		event.Branch = branch
	}
	return event, nil
}

func printRunSummary(result *runner.RunResult) {
	fmt.Printf("run %s: %s\n", result.RunID, result.Conclusion)
	for _, entry := range result.Entries {
		id := entry.ID
		if id == "" {
			id = "(single entry)"
		}
		fmt.Printf("  %s: %s", id, entry.Status)
		if entry.Error != "" {
			fmt.Printf(" (%s)", entry.Error)
		}
		fmt.Println()
		for _, step := range entry.Steps {
			fmt.Printf("    %s: %s", step.Name, step.Status)
			if n := step.AttemptsUsed(); n > 1 {
				fmt.Printf(" (%d attempts)", n)
			}
			fmt.Println()
		}
	}
}
