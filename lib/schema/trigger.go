// Copyright 2026 The Tessera Authors
// SPDX-License-Identifier: Apache-2.0

package schema

// TriggerSpec is one node of a trigger condition tree: either a
// combinator (All, Any, Not) or an atomic predicate over event
// metadata. Exactly one field may be set per node — lib/jobdef's
// validation rejects nodes with zero or multiple fields.
//
// A nil or zero-value TriggerSpec at the job level means the job is
// unconditional. Inside a tree, evaluation is default-deny: a node
// the evaluator does not recognize is false.
//
// The tree form (tagged variants rather than a string expression
// language) keeps conditions statically checkable and independently
// testable.
type TriggerSpec struct {
	// All is true when every child condition is true. An empty All
	// list is not valid.
	All []TriggerSpec `json:"all,omitempty" yaml:"all,omitempty"`

	// Any is true when at least one child condition is true. An
	// empty Any list is not valid.
	Any []TriggerSpec `json:"any,omitempty" yaml:"any,omitempty"`

	// Not negates its child condition.
	Not *TriggerSpec `json:"not,omitempty" yaml:"not,omitempty"`

	// EventEquals is true when the event type matches exactly
	// (e.g., "push", "pull_request").
	EventEquals string `json:"event_equals,omitempty" yaml:"event_equals,omitempty"`

	// ActionEquals is true when the event action matches exactly
	// (e.g., "labeled", "opened", "synchronize").
	ActionEquals string `json:"action_equals,omitempty" yaml:"action_equals,omitempty"`

	// LabelPresent is true when the named label is in the event's
	// label set.
	LabelPresent string `json:"label_present,omitempty" yaml:"label_present,omitempty"`

	// BranchEquals is true when the event's target branch matches
	// exactly.
	BranchEquals string `json:"branch_equals,omitempty" yaml:"branch_equals,omitempty"`
}

// IsZero reports whether no field of the node is set. A zero root
// node means the job is unconditional; a zero node anywhere else is
// a validation error.
func (t *TriggerSpec) IsZero() bool {
	if t == nil {
		return true
	}
	return len(t.All) == 0 && len(t.Any) == 0 && t.Not == nil &&
		t.EventEquals == "" && t.ActionEquals == "" &&
		t.LabelPresent == "" && t.BranchEquals == ""
}
