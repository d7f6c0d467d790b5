// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package jobdef

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tessera-project/tessera/lib/schema"
)

func TestExpand(t *testing.T) {
	t.Parallel()

	variables := map[string]string{
		"version": "3.9",
		"os":      "ubuntu",
		"_under":  "ok",
	}

	tests := []struct {
		name      string
		input     string
		want      string
		wantError string
	}{
		{
			name:  "single reference",
			input: "stubcheck --python ${version}",
			want:  "stubcheck --python 3.9",
		},
		{
			name:  "multiple references",
			input: "test-${version}-${os}",
			want:  "test-3.9-ubuntu",
		},
		{
			name:  "underscore name",
			input: "${_under}",
			want:  "ok",
		},
		{
			name:  "bare dollar left for the shell",
			input: "echo $HOME ${version}",
			want:  "echo $HOME 3.9",
		},
		{
			name:  "no references",
			input: "plain command",
			want:  "plain command",
		},
		{
			name:      "unresolved reference",
			input:     "run ${missing} and ${also_missing}",
			wantError: "missing, also_missing",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()
			got, err := Expand(test.input, variables)
			if test.wantError != "" {
				if err == nil {
					t.Fatalf("Expand() = %q, want error", got)
				}
				if !strings.Contains(err.Error(), test.wantError) {
					t.Errorf("error %q does not contain %q", err, test.wantError)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expand() error: %v", err)
			}
			if got != test.want {
				t.Errorf("Expand() = %q, want %q", got, test.want)
			}
		})
	}
}

func TestExpandStep(t *testing.T) {
	t.Parallel()

	step := schema.Step{
		Name:  "run-tests",
		Run:   "integration-test --against ${CLUSTER}",
		When:  "test -n '${version}'",
		Check: "cluster-healthy ${CLUSTER}",
		Env: map[string]string{
			"CLUSTER": "it-${version}",
		},
	}
	variables := map[string]string{"version": "3.9"}

	expanded, err := ExpandStep(step, variables)
	if err != nil {
		t.Fatalf("ExpandStep() error: %v", err)
	}

	// Step env expands against job/matrix variables, then feeds the
	// command fields.
	if got, want := expanded.Env["CLUSTER"], "it-3.9"; got != want {
		t.Errorf("Env[CLUSTER] = %q, want %q", got, want)
	}
	if got, want := expanded.Run, "integration-test --against it-3.9"; got != want {
		t.Errorf("Run = %q, want %q", got, want)
	}
	if got, want := expanded.When, "test -n '3.9'"; got != want {
		t.Errorf("When = %q, want %q", got, want)
	}
	if got, want := expanded.Check, "cluster-healthy it-3.9"; got != want {
		t.Errorf("Check = %q, want %q", got, want)
	}

	// The original step is not modified.
	if step.Run != "integration-test --against ${CLUSTER}" {
		t.Errorf("original step mutated: Run = %q", step.Run)
	}
}

func TestExpandStepUnresolved(t *testing.T) {
	t.Parallel()

	step := schema.Step{Name: "s", Run: "echo ${nope}"}
	if _, err := ExpandStep(step, nil); err == nil {
		t.Error("ExpandStep() accepted unresolved reference")
	}
}

func TestExpandEnvironment(t *testing.T) {
	t.Parallel()

	spec := schema.EnvironmentSpec{
		Name:          "it-${version}-${os}",
		Probe:         "cluster-status it-${version}-${os}",
		ProbeInterval: "5s",
	}
	variables := map[string]string{"version": "3.9", "os": "ubuntu"}

	expanded, err := ExpandEnvironment(spec, variables)
	if err != nil {
		t.Fatalf("ExpandEnvironment() error: %v", err)
	}

	want := schema.EnvironmentSpec{
		Name:          "it-3.9-ubuntu",
		Probe:         "cluster-status it-3.9-ubuntu",
		ProbeInterval: "5s",
	}
	if diff := cmp.Diff(want, expanded); diff != "" {
		t.Errorf("expanded spec mismatch (-want +got):\n%s", diff)
	}
}
