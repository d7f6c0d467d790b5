// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/tessera-project/tessera/lib/exec"
)

// ResultLog writes structured JSONL to a file during a run. Each line
// is an independent JSON object, making the log:
//
//   - Crash-safe: a SIGKILL mid-run preserves all completed step
//     results. A single JSON file would be truncated and unparseable.
//   - Streamable: a supervisor can tail the file for real-time
//     progress instead of waiting for completion.
//
// A nil *ResultLog disables logging (all methods are nil-safe no-ops).
// Writes are serialized internally; matrix entries running in parallel
// may log concurrently.
type ResultLog struct {
	logger  *slog.Logger
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewResultLog creates a JSONL result log at the given path. The file
// is created (truncating any existing content) immediately. Returns an
// error if the file cannot be created.
func NewResultLog(path string, logger *slog.Logger) (*ResultLog, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating result log %s: %w", path, err)
	}
	return &ResultLog{
		logger:  logger,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Close flushes and closes the result log file.
func (r *ResultLog) Close() error {
	if r == nil {
		return nil
	}
	return r.file.Close()
}

// writeStart records run start after the trigger gate passed.
func (r *ResultLog) writeStart(runID, job string, entryCount int) {
	if r == nil {
		return
	}
	r.write(resultStartLine{
		Type:       "start",
		RunID:      runID,
		Job:        job,
		EntryCount: entryCount,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// writeStep records the outcome of a single step within an entry.
func (r *ResultLog) writeStep(runID, entryID string, step exec.StepResult) {
	if r == nil {
		return
	}
	line := resultStepLine{
		Type:       "step",
		RunID:      runID,
		Entry:      entryID,
		Name:       step.Name,
		Status:     step.Status,
		Attempts:   step.AttemptsUsed(),
		DurationMS: step.Duration.Milliseconds(),
	}
	if step.Status == exec.StepFailed {
		line.Class = step.FailureClass()
		if n := len(step.Attempts); n > 0 {
			last := step.Attempts[n-1]
			line.Error = last.Error
			if last.Error == "" {
				line.Error = last.Output
			}
		}
	}
	r.write(line)
}

// writeEntry records the outcome of a completed matrix entry.
func (r *ResultLog) writeEntry(runID string, entry EntryResult) {
	if r == nil {
		return
	}
	r.write(resultEntryLine{
		Type:       "entry",
		RunID:      runID,
		Entry:      entry.ID,
		Status:     entry.Status,
		Error:      entry.Error,
		DurationMS: entry.Duration.Milliseconds(),
	})
}

// writeFinal records the run's aggregate conclusion. Always the last
// line, including for skipped runs.
func (r *ResultLog) writeFinal(runID string, conclusion Conclusion, duration time.Duration) {
	if r == nil {
		return
	}
	r.write(resultFinalLine{
		Type:       "final",
		RunID:      runID,
		Conclusion: conclusion,
		DurationMS: duration.Milliseconds(),
	})
}

func (r *ResultLog) write(line any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.encoder.Encode(line); err != nil {
		r.logger.Warn("failed to write result log line", "error", err)
		return
	}
	// Sync after each line so partial results survive a crash and are
	// visible to readers tailing for progress immediately.
	if err := r.file.Sync(); err != nil {
		r.logger.Warn("failed to sync result log", "error", err)
	}
}

// JSONL line types. Each struct documents exactly which fields appear
// in that line type. Separate structs (rather than one with omitempty
// everywhere) make the wire format explicit and self-documenting.

// resultStartLine is the first line, written once the trigger gate has
// passed.
type resultStartLine struct {
	Type       string `json:"type"`
	RunID      string `json:"run_id"`
	Job        string `json:"job"`
	EntryCount int    `json:"entry_count"`
	Timestamp  string `json:"timestamp"`
}

// resultStepLine is written after each step completes (or is skipped).
type resultStepLine struct {
	Type       string            `json:"type"`
	RunID      string            `json:"run_id"`
	Entry      string            `json:"entry,omitempty"`
	Name       string            `json:"name"`
	Status     exec.StepStatus   `json:"status"`
	Class      exec.OutcomeClass `json:"class,omitempty"`
	Attempts   int               `json:"attempts"`
	DurationMS int64             `json:"duration_ms"`
	Error      string            `json:"error,omitempty"`
}

// resultEntryLine is written after each matrix entry completes.
type resultEntryLine struct {
	Type       string      `json:"type"`
	RunID      string      `json:"run_id"`
	Entry      string      `json:"entry,omitempty"`
	Status     EntryStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

// resultFinalLine is the last line of every run.
type resultFinalLine struct {
	Type       string     `json:"type"`
	RunID      string     `json:"run_id"`
	Conclusion Conclusion `json:"conclusion"`
	DurationMS int64      `json:"duration_ms"`
}
