// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package runner drives a job run end to end. Given a job document and
// an event context it evaluates the trigger condition, expands the
// matrix, executes entries with bounded parallelism (each entry
// optionally inside an ephemeral environment scope), and aggregates a
// RunResult with per-entry, per-step attempt detail.
//
// Fail-fast behavior: when the job requests it, the first entry
// failure cancels entries that have not yet started; those report
// status cancelled and the run concludes aborted. Without fail-fast a
// sibling failure never prevents other entries from running to
// completion.
package runner
