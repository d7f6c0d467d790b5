// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/tessera-project/tessera/lib/condition"
	"github.com/tessera-project/tessera/lib/exec"
	"github.com/tessera-project/tessera/lib/matrix"
	"github.com/tessera-project/tessera/lib/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRunner maps expanded command strings to exit codes (unknown
// commands exit zero) and records every invocation.
type fakeRunner struct {
	mu        sync.Mutex
	exitCodes map[string]int
	commands  []string
	envs      []map[string]string
}

func (r *fakeRunner) Run(ctx context.Context, command string, env map[string]string, gracePeriod time.Duration) (int, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	r.envs = append(r.envs, env)
	return r.exitCodes[command], "output of " + command, nil
}

func (r *fakeRunner) ran() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// fakeProvisioner counts lifecycle calls per environment name.
type fakeProvisioner struct {
	mu    sync.Mutex
	upErr error
	ups   map[string]int
	downs map[string]int
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{ups: map[string]int{}, downs: map[string]int{}}
}

func (p *fakeProvisioner) Up(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ups[name]++
	return p.upErr
}

func (p *fakeProvisioner) Down(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downs[name]++
	return nil
}

func quietRunner(commandRunner exec.CommandRunner) *Runner {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &Runner{
		Executor: &exec.Executor{Runner: commandRunner, Logger: logger},
		Logger:   logger,
	}
}

// matchingEvent satisfies the trigger used by testJob.
func matchingEvent() condition.EventContext {
	return condition.EventContext{
		Event:  "pull_request",
		Action: "labeled",
		Labels: []string{"approved-for-integration-test"},
	}
}

func testJob() *schema.JobSpec {
	return &schema.JobSpec{
		Name: "stub-conformance",
		Trigger: &schema.TriggerSpec{
			All: []schema.TriggerSpec{
				{EventEquals: "pull_request"},
				{LabelPresent: "approved-for-integration-test"},
			},
		},
		Matrix: &schema.MatrixSpec{
			Axes: []schema.Axis{
				{Name: "py", Values: []string{"3.8", "3.9", "3.10"}},
			},
		},
		Steps: []schema.Step{
			{Name: "test", Run: "run ${py}"},
		},
	}
}

func TestRunAllEntriesSucceed(t *testing.T) {
	t.Parallel()
	runner := quietRunner(&fakeRunner{})

	result, err := runner.Run(context.Background(), testJob(), matchingEvent(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionSuccess {
		t.Errorf("Conclusion = %q, want success", result.Conclusion)
	}
	if len(result.Entries) != 3 {
		t.Fatalf("len(Entries) = %d, want 3", len(result.Entries))
	}
	wantIDs := []string{"py=3.8", "py=3.9", "py=3.10"}
	for i, entry := range result.Entries {
		if entry.ID != wantIDs[i] {
			t.Errorf("entry %d ID = %q, want %q", i, entry.ID, wantIDs[i])
		}
		if entry.Status != EntryOK {
			t.Errorf("entry %s status = %q, want ok", entry.ID, entry.Status)
		}
	}
	if result.RunID == "" {
		t.Error("RunID is empty")
	}
}

func TestRunGatedOffIsSkipped(t *testing.T) {
	t.Parallel()
	commandRunner := &fakeRunner{}
	runner := quietRunner(commandRunner)

	event := condition.EventContext{Event: "push"}
	result, err := runner.Run(context.Background(), testJob(), event, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionSkipped {
		t.Errorf("Conclusion = %q, want skipped", result.Conclusion)
	}
	if len(result.Entries) != 0 {
		t.Errorf("len(Entries) = %d, want 0 for a gated-off run", len(result.Entries))
	}
	if got := commandRunner.ran(); len(got) != 0 {
		t.Errorf("commands ran on a gated-off run: %v", got)
	}
}

func TestRunSiblingFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()
	commandRunner := &fakeRunner{exitCodes: map[string]int{"run 3.9": 1}}
	runner := quietRunner(commandRunner)

	result, err := runner.Run(context.Background(), testJob(), matchingEvent(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionFailure {
		t.Errorf("Conclusion = %q, want failure", result.Conclusion)
	}
	wantStatuses := map[string]EntryStatus{
		"py=3.8":  EntryOK,
		"py=3.9":  EntryFailed,
		"py=3.10": EntryOK,
	}
	for _, entry := range result.Entries {
		if entry.Status != wantStatuses[entry.ID] {
			t.Errorf("entry %s status = %q, want %q", entry.ID, entry.Status, wantStatuses[entry.ID])
		}
	}
	// All three entries ran their step despite the middle failure.
	want := []string{"run 3.8", "run 3.9", "run 3.10"}
	if diff := cmp.Diff(want, commandRunner.ran()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFailFastCancelsRemainingEntries(t *testing.T) {
	t.Parallel()
	commandRunner := &fakeRunner{exitCodes: map[string]int{"run 3.8": 1}}
	runner := quietRunner(commandRunner)

	job := testJob()
	job.FailFast = true
	result, err := runner.Run(context.Background(), job, matchingEvent(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionAborted {
		t.Errorf("Conclusion = %q, want aborted", result.Conclusion)
	}
	if result.Entries[0].Status != EntryFailed {
		t.Errorf("entry 0 status = %q, want failed", result.Entries[0].Status)
	}
	for _, entry := range result.Entries[1:] {
		if entry.Status != EntryCancelled {
			t.Errorf("entry %s status = %q, want cancelled", entry.ID, entry.Status)
		}
		if len(entry.Steps) != 0 {
			t.Errorf("cancelled entry %s ran %d steps", entry.ID, len(entry.Steps))
		}
	}
	if got := commandRunner.ran(); len(got) != 1 {
		t.Errorf("commands = %v, want only the first entry's step", got)
	}
}

func TestRunFailFastOverride(t *testing.T) {
	t.Parallel()
	commandRunner := &fakeRunner{exitCodes: map[string]int{"run 3.8": 1}}
	runner := quietRunner(commandRunner)

	job := testJob()
	job.FailFast = true
	noFailFast := false
	result, err := runner.Run(context.Background(), job, matchingEvent(), Options{FailFast: &noFailFast})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionFailure {
		t.Errorf("Conclusion = %q, want failure with fail-fast overridden off", result.Conclusion)
	}
	if got := commandRunner.ran(); len(got) != 3 {
		t.Errorf("commands = %v, want all three entries", got)
	}
}

func TestRunAlwaysRunStepExecutesAfterFailure(t *testing.T) {
	t.Parallel()
	commandRunner := &fakeRunner{exitCodes: map[string]int{"build": 1}}
	runner := quietRunner(commandRunner)

	job := &schema.JobSpec{
		Name: "teardown-job",
		Steps: []schema.Step{
			{Name: "build", Run: "build"},
			{Name: "test", Run: "test"},
			{Name: "cleanup", Run: "cleanup", AlwaysRun: true},
		},
	}
	result, err := runner.Run(context.Background(), job, condition.EventContext{}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionFailure {
		t.Errorf("Conclusion = %q, want failure", result.Conclusion)
	}
	steps := result.Entries[0].Steps
	wantStatuses := []exec.StepStatus{exec.StepFailed, exec.StepSkipped, exec.StepOK}
	for i, want := range wantStatuses {
		if steps[i].Status != want {
			t.Errorf("step %s status = %q, want %q", steps[i].Name, steps[i].Status, want)
		}
	}
	want := []string{"build", "cleanup"}
	if diff := cmp.Diff(want, commandRunner.ran()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestRunOptionalStepFailureDoesNotFailEntry(t *testing.T) {
	t.Parallel()
	commandRunner := &fakeRunner{exitCodes: map[string]int{"lint": 1}}
	runner := quietRunner(commandRunner)

	job := &schema.JobSpec{
		Name: "lint-job",
		Steps: []schema.Step{
			{Name: "lint", Run: "lint", Optional: true},
			{Name: "test", Run: "test"},
		},
	}
	result, err := runner.Run(context.Background(), job, condition.EventContext{}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionSuccess {
		t.Errorf("Conclusion = %q, want success despite optional failure", result.Conclusion)
	}
	steps := result.Entries[0].Steps
	if steps[0].Status != exec.StepFailed {
		t.Errorf("optional step status = %q, want failed (recorded)", steps[0].Status)
	}
	if steps[1].Status != exec.StepOK {
		t.Errorf("following step status = %q, want ok", steps[1].Status)
	}
}

func TestRunMatrixVariablesReachCommands(t *testing.T) {
	t.Parallel()
	commandRunner := &fakeRunner{}
	runner := quietRunner(commandRunner)

	job := &schema.JobSpec{
		Name: "env-job",
		Env:  map[string]string{"IMAGE": "python:${py}"},
		Matrix: &schema.MatrixSpec{
			Axes: []schema.Axis{
				{Name: "py", Values: []string{"3.12"}},
				{Name: "os", Values: []string{"ubuntu"}},
			},
		},
		Steps: []schema.Step{
			{Name: "test", Run: "pytest --image ${IMAGE}", Env: map[string]string{"TARGET_OS": "${os}"}},
		},
	}
	result, err := runner.Run(context.Background(), job, condition.EventContext{}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionSuccess {
		t.Fatalf("Conclusion = %q, want success", result.Conclusion)
	}

	if want := []string{"pytest --image python:3.12"}; !cmp.Equal(want, commandRunner.ran()) {
		t.Errorf("commands = %v, want %v", commandRunner.ran(), want)
	}
	wantEnv := map[string]string{
		"TARGET_OS": "ubuntu",
		"MATRIX_PY": "3.12",
		"MATRIX_OS": "ubuntu",
	}
	if diff := cmp.Diff(wantEnv, commandRunner.envs[0]); diff != "" {
		t.Errorf("step env mismatch (-want +got):\n%s", diff)
	}
}

func TestRunEnvironmentPerEntry(t *testing.T) {
	t.Parallel()
	provisioner := newFakeProvisioner()
	commandRunner := &fakeRunner{}
	runner := quietRunner(commandRunner)
	runner.Provisioner = provisioner

	job := &schema.JobSpec{
		Name: "integration",
		Matrix: &schema.MatrixSpec{
			Axes: []schema.Axis{
				{Name: "region", Values: []string{"us", "eu"}},
			},
		},
		Environment: &schema.EnvironmentSpec{Name: "stage-${region}"},
		Steps: []schema.Step{
			{Name: "smoke", Run: "smoke ${region}"},
		},
	}
	result, err := runner.Run(context.Background(), job, condition.EventContext{}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionSuccess {
		t.Fatalf("Conclusion = %q, want success", result.Conclusion)
	}
	for _, name := range []string{"stage-us", "stage-eu"} {
		if provisioner.ups[name] != 1 || provisioner.downs[name] != 1 {
			t.Errorf("environment %s: ups = %d, downs = %d, want 1 and 1",
				name, provisioner.ups[name], provisioner.downs[name])
		}
	}
}

func TestRunEnvironmentSetupFailureFailsEntry(t *testing.T) {
	t.Parallel()
	provisioner := newFakeProvisioner()
	provisioner.upErr = errors.New("quota exceeded")
	commandRunner := &fakeRunner{}
	runner := quietRunner(commandRunner)
	runner.Provisioner = provisioner

	job := &schema.JobSpec{
		Name:        "integration",
		Environment: &schema.EnvironmentSpec{Name: "stage"},
		Steps: []schema.Step{
			{Name: "smoke", Run: "smoke"},
		},
	}
	result, err := runner.Run(context.Background(), job, condition.EventContext{}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionFailure {
		t.Errorf("Conclusion = %q, want failure", result.Conclusion)
	}
	if result.Entries[0].Error == "" {
		t.Error("entry error is empty, want setup failure detail")
	}
	if got := commandRunner.ran(); len(got) != 0 {
		t.Errorf("commands ran despite setup failure: %v", got)
	}
	// Down still runs against the possibly half-provisioned stage.
	if provisioner.downs["stage"] != 1 {
		t.Errorf("downs = %d, want 1", provisioner.downs["stage"])
	}
}

func TestRunMissingProvisionerFailsEntry(t *testing.T) {
	t.Parallel()
	runner := quietRunner(&fakeRunner{})

	job := &schema.JobSpec{
		Name:        "integration",
		Environment: &schema.EnvironmentSpec{Name: "stage"},
		Steps: []schema.Step{
			{Name: "smoke", Run: "smoke"},
		},
	}
	result, err := runner.Run(context.Background(), job, condition.EventContext{}, Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionFailure {
		t.Errorf("Conclusion = %q, want failure", result.Conclusion)
	}
}

func TestRunInvalidMatrixErrors(t *testing.T) {
	t.Parallel()
	runner := quietRunner(&fakeRunner{})

	job := testJob()
	job.Matrix.Include = []map[string]string{{"arch": "arm64"}}
	_, err := runner.Run(context.Background(), job, matchingEvent(), Options{})
	var invalid *matrix.InvalidMatrixError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want *matrix.InvalidMatrixError", err)
	}
}

func TestRunInvalidJobErrors(t *testing.T) {
	t.Parallel()
	runner := quietRunner(&fakeRunner{})

	job := &schema.JobSpec{Name: "empty"}
	if _, err := runner.Run(context.Background(), job, condition.EventContext{}, Options{}); err == nil {
		t.Fatal("Run accepted a job with no steps")
	}
}

func TestRunParallelEntries(t *testing.T) {
	t.Parallel()
	commandRunner := &fakeRunner{}
	runner := quietRunner(commandRunner)

	result, err := runner.Run(context.Background(), testJob(), matchingEvent(), Options{Parallelism: 3})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Conclusion != ConclusionSuccess {
		t.Errorf("Conclusion = %q, want success", result.Conclusion)
	}
	// Results keep matrix order regardless of completion order.
	wantIDs := []string{"py=3.8", "py=3.9", "py=3.10"}
	for i, entry := range result.Entries {
		if entry.ID != wantIDs[i] {
			t.Errorf("entry %d ID = %q, want %q", i, entry.ID, wantIDs[i])
		}
	}
	if got := commandRunner.ran(); len(got) != 3 {
		t.Errorf("commands = %v, want 3 entries' steps", got)
	}
}

func TestRunWritesResultLog(t *testing.T) {
	t.Parallel()
	logPath := filepath.Join(t.TempDir(), "result.jsonl")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resultLog, err := NewResultLog(logPath, logger)
	if err != nil {
		t.Fatalf("NewResultLog: %v", err)
	}

	commandRunner := &fakeRunner{exitCodes: map[string]int{"run 3.9": 1}}
	runner := quietRunner(commandRunner)
	result, err := runner.Run(context.Background(), testJob(), matchingEvent(), Options{ResultLog: resultLog})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := resultLog.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	file, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("opening result log: %v", err)
	}
	defer file.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", len(lines)+1, err)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanning result log: %v", err)
	}

	// start + 3 steps + 3 entries + final.
	if len(lines) != 8 {
		t.Fatalf("len(lines) = %d, want 8", len(lines))
	}
	if lines[0]["type"] != "start" {
		t.Errorf("first line type = %v, want start", lines[0]["type"])
	}
	last := lines[len(lines)-1]
	if last["type"] != "final" {
		t.Errorf("last line type = %v, want final", last["type"])
	}
	if last["conclusion"] != string(ConclusionFailure) {
		t.Errorf("final conclusion = %v, want failure", last["conclusion"])
	}
	for _, line := range lines {
		if line["run_id"] != result.RunID {
			t.Errorf("line run_id = %v, want %v", line["run_id"], result.RunID)
		}
	}
}
