// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package condition

import (
	"fmt"
	"slices"

	"github.com/tessera-project/tessera/lib/schema"
)

// EventContext is the read-only event snapshot a trigger condition is
// evaluated against. Callers construct it from whatever event source
// feeds the runner (a webhook payload, a CLI flag, a test fixture).
type EventContext struct {
	// Event is the event type: "push", "pull_request", "labeled",
	// "schedule", ...
	Event string `json:"event" yaml:"event"`

	// Action is the event sub-action, when the source provides one:
	// "opened", "labeled", "synchronize", ...
	Action string `json:"action,omitempty" yaml:"action,omitempty"`

	// Labels is the current label set on the subject of the event
	// (e.g., the pull request's labels).
	Labels []string `json:"labels,omitempty" yaml:"labels,omitempty"`

	// Branch is the target branch of the event, when applicable.
	Branch string `json:"branch,omitempty" yaml:"branch,omitempty"`
}

// HasLabel reports whether name is in the event's label set.
func (e EventContext) HasLabel(name string) bool {
	return slices.Contains(e.Labels, name)
}

// Evaluate decides whether a trigger condition matches the event.
// A nil or zero condition is unconditional and returns true. Inside a
// tree, evaluation is default-deny: a node with no recognized field
// set (which Validate would have rejected) returns false. And/or
// evaluation short-circuits, which has no observable effect beyond
// performance since predicates are side-effect-free.
func Evaluate(trigger *schema.TriggerSpec, event EventContext) bool {
	if trigger.IsZero() {
		return true
	}
	return evaluateNode(*trigger, event)
}

// evaluateNode evaluates one non-root tree node. Unlike the root, an
// empty node here is false: absence of a matching clause denies.
func evaluateNode(node schema.TriggerSpec, event EventContext) bool {
	switch {
	case len(node.All) > 0:
		for _, child := range node.All {
			if !evaluateNode(child, event) {
				return false
			}
		}
		return true

	case len(node.Any) > 0:
		for _, child := range node.Any {
			if evaluateNode(child, event) {
				return true
			}
		}
		return false

	case node.Not != nil:
		return !evaluateNode(*node.Not, event)

	case node.EventEquals != "":
		return event.Event == node.EventEquals

	case node.ActionEquals != "":
		return event.Action == node.ActionEquals

	case node.LabelPresent != "":
		return event.HasLabel(node.LabelPresent)

	case node.BranchEquals != "":
		return event.Branch == node.BranchEquals
	}

	// Unrecognized or empty node: default-deny.
	return false
}

// ConditionError describes a structurally malformed trigger condition.
// It is fatal at load time — lib/jobdef surfaces it before any
// execution starts. Path locates the offending node in the tree
// (e.g., "trigger.all[1].not").
type ConditionError struct {
	Path   string
	Reason string
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %s: %s", e.Path, e.Reason)
}

// Validate checks a trigger condition tree for structural problems:
// nodes with zero or multiple fields set, and empty combinator lists.
// A nil or zero root is valid (unconditional job). Returns the first
// problem found as a *ConditionError, or nil.
func Validate(trigger *schema.TriggerSpec) error {
	if trigger.IsZero() {
		return nil
	}
	return validateNode(*trigger, "trigger")
}

func validateNode(node schema.TriggerSpec, path string) error {
	fieldCount := 0
	if len(node.All) > 0 {
		fieldCount++
	}
	if len(node.Any) > 0 {
		fieldCount++
	}
	if node.Not != nil {
		fieldCount++
	}
	if node.EventEquals != "" {
		fieldCount++
	}
	if node.ActionEquals != "" {
		fieldCount++
	}
	if node.LabelPresent != "" {
		fieldCount++
	}
	if node.BranchEquals != "" {
		fieldCount++
	}

	switch {
	case fieldCount == 0:
		return &ConditionError{Path: path, Reason: "empty node (set exactly one of all, any, not, event_equals, action_equals, label_present, branch_equals)"}
	case fieldCount > 1:
		return &ConditionError{Path: path, Reason: "multiple fields set (combinators and predicates are mutually exclusive per node)"}
	}

	for index, child := range node.All {
		if err := validateNode(child, fmt.Sprintf("%s.all[%d]", path, index)); err != nil {
			return err
		}
	}
	for index, child := range node.Any {
		if err := validateNode(child, fmt.Sprintf("%s.any[%d]", path, index)); err != nil {
			return err
		}
	}
	if node.Not != nil {
		if err := validateNode(*node.Not, path+".not"); err != nil {
			return err
		}
	}
	return nil
}
