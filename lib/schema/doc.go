// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package schema defines the Tessera job document types: job
// specifications, steps, retry policies, matrix declarations, trigger
// conditions, and ephemeral environment declarations. These are the
// content structs parsed by lib/jobdef and consumed by lib/runner.
//
// All duration-valued fields are stored as strings in the
// time.ParseDuration format ("30s", "5m") so that job documents remain
// plain JSON/YAML. lib/jobdef.Validate checks that they parse; the
// execution layers parse them again at run time.
package schema
