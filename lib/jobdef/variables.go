// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package jobdef

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tessera-project/tessera/lib/schema"
)

// variablePattern matches ${NAME} references in strings. Only the
// braced form is recognized — bare $NAME is left for shell
// interpretation. Variable names must start with a letter or
// underscore and contain only letters, digits, and underscores.
var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Expand replaces ${NAME} references in input with values from the
// variables map. Only the ${NAME} form is recognized (braces
// required); bare $NAME is left for shell interpretation.
//
// Returns an error listing all referenced variables that have no
// value in the map. This ensures job documents fail fast on
// unresolvable references rather than producing broken commands.
func Expand(input string, variables map[string]string) (string, error) {
	var unresolved []string

	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		// Extract the variable name from ${NAME}.
		name := match[2 : len(match)-1]
		if value, exists := variables[name]; exists {
			return value
		}
		unresolved = append(unresolved, name)
		return match
	})

	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved job variables: %s", strings.Join(unresolved, ", "))
	}

	return result, nil
}

// ExpandStep returns a copy of step with all string fields expanded
// using Expand. Step-level Env values are expanded first (against the
// given variables only), then merged into the variable map for
// expanding the command fields. This means a run command can
// reference step env variables with ${NAME}, and those values will
// already have their own ${REFERENCES} resolved.
//
// The original step and variables map are not modified.
func ExpandStep(step schema.Step, variables map[string]string) (schema.Step, error) {
	// First pass: expand step-level env values against the job and
	// matrix variables only (no cross-referencing between env
	// entries).
	var expandedEnv map[string]string
	if len(step.Env) > 0 {
		expandedEnv = make(map[string]string, len(step.Env))
		for name, value := range step.Env {
			expandedValue, err := Expand(value, variables)
			if err != nil {
				return schema.Step{}, fmt.Errorf("step %q env[%s]: %w", step.Name, name, err)
			}
			expandedEnv[name] = expandedValue
		}
	}

	// Build the merged variable map: job/matrix variables as base,
	// expanded step env on top. Step env takes precedence.
	merged := make(map[string]string, len(variables)+len(expandedEnv))
	for name, value := range variables {
		merged[name] = value
	}
	for name, value := range expandedEnv {
		merged[name] = value
	}

	var err error

	if step.Run, err = Expand(step.Run, merged); err != nil {
		return schema.Step{}, fmt.Errorf("step %q run: %w", step.Name, err)
	}
	if step.When, err = Expand(step.When, merged); err != nil {
		return schema.Step{}, fmt.Errorf("step %q when: %w", step.Name, err)
	}
	if step.Check, err = Expand(step.Check, merged); err != nil {
		return schema.Step{}, fmt.Errorf("step %q check: %w", step.Name, err)
	}

	step.Env = expandedEnv
	return step, nil
}

// ExpandEnvironment returns a copy of spec with its Name expanded, so
// matrix values can namespace the provisioned environment per entry
// (e.g., "it-${version}-${os}").
func ExpandEnvironment(spec schema.EnvironmentSpec, variables map[string]string) (schema.EnvironmentSpec, error) {
	expanded, err := Expand(spec.Name, variables)
	if err != nil {
		return schema.EnvironmentSpec{}, fmt.Errorf("environment name: %w", err)
	}
	spec.Name = expanded

	if spec.Probe != "" {
		if spec.Probe, err = Expand(spec.Probe, variables); err != nil {
			return schema.EnvironmentSpec{}, fmt.Errorf("environment probe: %w", err)
		}
	}

	return spec, nil
}
