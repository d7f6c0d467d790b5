// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

// Package condition evaluates trigger condition trees against event
// metadata. The evaluator is pure (no side effects) and total (never
// fails): malformed or unrecognized nodes evaluate to false rather
// than erroring, so a bad condition can gate a job off but never
// crash a run. Structural problems are caught earlier by Validate,
// which lib/jobdef calls at load time.
package condition
