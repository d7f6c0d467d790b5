// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package matrix expands job matrix declarations into the ordered list
// of entries a run executes. Expansion is deterministic: the cross
// product follows axis declaration order (first axis outermost, value
// order within each axis), and include entries are appended afterwards
// in declaration order. Identical input always yields an identical
// entry list.
package matrix

import (
	"fmt"
	"strings"

	"github.com/tessera-project/tessera/lib/schema"
)

// Entry is one fully-resolved matrix combination: an immutable mapping
// from axis name to value. Entries parameterize step execution — the
// runner injects them as template variables and environment variables.
type Entry struct {
	// Values maps axis name to the resolved value.
	Values map[string]string

	// ID is a stable human-readable identifier in axis declaration
	// order, e.g. "version=3.9,os=ubuntu". Used in logs and results.
	ID string
}

// InvalidMatrixError describes a malformed matrix declaration: a
// duplicate or invalid axis, an include entry referencing an
// undeclared axis, or a partial include entry with no default for a
// missing axis. Fatal at load time.
type InvalidMatrixError struct {
	Reason string
}

func (e *InvalidMatrixError) Error() string {
	return "invalid matrix: " + e.Reason
}

// Options tunes expansion behavior.
type Options struct {
	// DedupeIncludes drops include entries identical to a combination
	// already produced by the cross product (or an earlier include).
	// Off by default: a duplicated combination runs the job twice.
	DedupeIncludes bool
}

// Expand computes the ordered entry list for a matrix declaration.
//
// A nil matrix or one with no axes and no includes yields a single
// empty entry — the job runs exactly once. Otherwise the result is
// the cross product of all axes followed by the include entries:
// |A1|x...x|An| + |includes| entries (minus duplicates when
// Options.DedupeIncludes is set).
func Expand(spec *schema.MatrixSpec, options Options) ([]Entry, error) {
	if spec == nil || (len(spec.Axes) == 0 && len(spec.Include) == 0) {
		return []Entry{{Values: map[string]string{}, ID: ""}}, nil
	}

	axisIndex := make(map[string]schema.Axis, len(spec.Axes))
	axisOrder := make([]string, 0, len(spec.Axes))
	for _, axis := range spec.Axes {
		if axis.Name == "" {
			return nil, &InvalidMatrixError{Reason: "axis with empty name"}
		}
		if len(axis.Values) == 0 {
			return nil, &InvalidMatrixError{Reason: fmt.Sprintf("axis %q has no values", axis.Name)}
		}
		if _, exists := axisIndex[axis.Name]; exists {
			return nil, &InvalidMatrixError{Reason: fmt.Sprintf("axis %q declared twice", axis.Name)}
		}
		axisIndex[axis.Name] = axis
		axisOrder = append(axisOrder, axis.Name)
	}

	entries := crossProduct(spec.Axes, axisOrder)

	for index, include := range spec.Include {
		entry, err := resolveInclude(include, axisIndex, axisOrder, index)
		if err != nil {
			return nil, err
		}
		if options.DedupeIncludes && containsEntry(entries, entry) {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// crossProduct produces the axes' cross product in declaration order:
// the first axis is the outermost loop, so its values change slowest.
func crossProduct(axes []schema.Axis, axisOrder []string) []Entry {
	total := 1
	for _, axis := range axes {
		total *= len(axis.Values)
	}
	if len(axes) == 0 {
		return nil
	}

	entries := make([]Entry, 0, total)
	indices := make([]int, len(axes))
	for {
		values := make(map[string]string, len(axes))
		for position, axis := range axes {
			values[axis.Name] = axis.Values[indices[position]]
		}
		entries = append(entries, Entry{Values: values, ID: entryID(values, axisOrder)})

		// Odometer increment, last axis fastest.
		position := len(axes) - 1
		for position >= 0 {
			indices[position]++
			if indices[position] < len(axes[position].Values) {
				break
			}
			indices[position] = 0
			position--
		}
		if position < 0 {
			return entries
		}
	}
}

// resolveInclude completes one include entry: every referenced axis
// must be declared, and every declared axis missing from the entry
// must have a default.
func resolveInclude(include map[string]string, axisIndex map[string]schema.Axis, axisOrder []string, position int) (Entry, error) {
	for name := range include {
		if _, declared := axisIndex[name]; !declared {
			return Entry{}, &InvalidMatrixError{
				Reason: fmt.Sprintf("include[%d] references undeclared axis %q", position, name),
			}
		}
	}

	values := make(map[string]string, len(axisOrder))
	for _, name := range axisOrder {
		if value, present := include[name]; present {
			values[name] = value
			continue
		}
		axis := axisIndex[name]
		if axis.Default == "" {
			return Entry{}, &InvalidMatrixError{
				Reason: fmt.Sprintf("include[%d] omits axis %q which has no default", position, name),
			}
		}
		values[name] = axis.Default
	}

	return Entry{Values: values, ID: entryID(values, axisOrder)}, nil
}

// entryID renders an entry's values in axis declaration order.
func entryID(values map[string]string, axisOrder []string) string {
	parts := make([]string, 0, len(axisOrder))
	for _, name := range axisOrder {
		parts = append(parts, name+"="+values[name])
	}
	return strings.Join(parts, ",")
}

func containsEntry(entries []Entry, candidate Entry) bool {
	for _, entry := range entries {
		if entry.ID == candidate.ID {
			return true
		}
	}
	return false
}
