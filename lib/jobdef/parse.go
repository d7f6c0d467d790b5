// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package jobdef provides parsing, validation, and variable expansion
// for Tessera job documents. Jobs are gated, matrixed step sequences
// executed by lib/runner against external command and environment
// backends.
//
// Job documents are authored on disk as JSONC files (JSON extended
// with comments and trailing commas) or as YAML. This is Tessera's
// own document shape — not a parser for any CI vendor's format.
//
// The typical flow:
//
//  1. ReadFile or Parse/ParseYAML: bytes → schema.JobSpec
//  2. Validate: structural checks (step names, durations, matrix axes,
//     trigger tree shape)
//  3. ExpandStep: substitute ${NAME} references in each step before
//     execution
package jobdef

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/tessera-project/tessera/lib/schema"
)

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a JobSpec. The input format is plain
// JSON extended with // line comments, /* block comments */, and
// trailing commas.
func Parse(data []byte) (*schema.JobSpec, error) {
	stripped := jsonc.ToJSON(data)

	var job schema.JobSpec
	if err := json.Unmarshal(stripped, &job); err != nil {
		return nil, fmt.Errorf("parsing job: %w", err)
	}

	return &job, nil
}

// ParseYAML unmarshals a YAML job document into a JobSpec.
func ParseYAML(data []byte) (*schema.JobSpec, error) {
	var job schema.JobSpec
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parsing job: %w", err)
	}

	return &job, nil
}

// ReadFile reads a job document from disk and parses it according to
// the file extension: .yaml/.yml as YAML, everything else as JSONC.
// Returns a descriptive error if the file cannot be read or the
// document is malformed.
func ReadFile(path string) (*schema.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var job *schema.JobSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		job, err = ParseYAML(data)
	default:
		job, err = Parse(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return job, nil
}

// NameFromPath extracts a job name from a file path by stripping the
// directory prefix and the file extension. For example,
// "jobs/storage-integration.jsonc" returns "storage-integration".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	extension := filepath.Ext(base)
	return strings.TrimSuffix(base, extension)
}
