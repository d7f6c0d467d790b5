// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string

	root := &Command{
		Name: "tessera",
		Subcommands: []*Command{
			{
				Name: "validate",
				Run: func(args []string) error {
					called = "validate"
					return nil
				},
			},
			{
				Name: "run",
				Run: func(args []string) error {
					called = "run"
					return nil
				},
			},
		},
	}

	if err := root.Execute([]string{"run"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "run" {
		t.Errorf("dispatched to %q, want %q", called, "run")
	}
}

func TestCommand_Execute_PositionalArgsAfterFlags(t *testing.T) {
	var parallelism int
	var receivedArgs []string

	command := &Command{
		Name: "run",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.IntVar(&parallelism, "parallelism", 1, "concurrent entries")
			return flagSet
		},
		Run: func(args []string) error {
			receivedArgs = args
			return nil
		},
	}

	if err := command.Execute([]string{"--parallelism", "4", "job.yaml"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if parallelism != 4 {
		t.Errorf("parallelism = %d, want 4", parallelism)
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "job.yaml" {
		t.Errorf("args = %v, want [job.yaml]", receivedArgs)
	}
}

func TestCommand_Execute_UnknownSubcommandSuggests(t *testing.T) {
	root := &Command{
		Name: "tessera",
		Subcommands: []*Command{
			{Name: "validate", Run: func(args []string) error { return nil }},
			{Name: "expand", Run: func(args []string) error { return nil }},
		},
	}

	err := root.Execute([]string{"valdiate"})
	if err == nil {
		t.Fatal("Execute() accepted an unknown subcommand")
	}
	if !strings.Contains(err.Error(), `did you mean "validate"`) {
		t.Errorf("error %q lacks suggestion", err)
	}
}

func TestCommand_Execute_UnknownFlagSuggests(t *testing.T) {
	command := &Command{
		Name: "run",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flagSet.Bool("fail-fast", false, "stop on first entry failure")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}

	err := command.Execute([]string{"--fail-fats"})
	if err == nil {
		t.Fatal("Execute() accepted an unknown flag")
	}
	if !strings.Contains(err.Error(), "--fail-fast") {
		t.Errorf("error %q lacks flag suggestion", err)
	}
}

func TestCommand_PrintHelp_ListsSubcommands(t *testing.T) {
	root := &Command{
		Name:    "tessera",
		Summary: "Gated, matrixed job runner",
		Subcommands: []*Command{
			{Name: "validate", Summary: "Check job documents"},
			{Name: "run", Summary: "Execute a job"},
		},
	}

	var buf bytes.Buffer
	root.PrintHelp(&buf)
	help := buf.String()

	for _, want := range []string{"validate", "run", "Check job documents", "tessera <command>"} {
		if !strings.Contains(help, want) {
			t.Errorf("help output lacks %q:\n%s", want, help)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"run", "", 3},
		{"run", "run", 0},
		{"valdiate", "validate", 2},
		{"expnd", "expand", 1},
		{"run", "expand", 5},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
