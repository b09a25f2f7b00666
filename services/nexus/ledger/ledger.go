// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ledger tracks the lifecycle of proposed actions awaiting approval.
//
// A Proposal is created when the resolver emits a propose-type tool call and
// the parameters pass schema validation. It transitions Pending to Approved
// or Denied exactly once, driven by the user's explicit choice, and an
// Approved proposal transitions to Executed or Failed exactly once, driven by
// the action executor. All transitions are atomic compare-and-set on state:
// two concurrent approvals of the same proposal cannot both trigger
// execution, because execution against the platform is not idempotent
// (re-running creates duplicate resources).
//
// Stores are explicit objects with a constructor and a Close, built at
// service start and injected into the orchestrator. Two implementations
// exist: a bounded in-memory store and a durable badger-backed store.
package ledger

import (
	"errors"
	"time"
)

// State is the lifecycle state of a proposal.
type State string

const (
	// StatePending awaits a user decision. No expiry is applied by the
	// lifecycle itself; stores evict stale pending proposals by TTL.
	StatePending State = "pending"

	// StateApproved means the user approved; execution may begin once.
	StateApproved State = "approved"

	// StateDenied means the user declined; terminal.
	StateDenied State = "denied"

	// StateExecuting means the executor holds the single execution slot.
	StateExecuting State = "executing"

	// StateExecuted means the action completed fully; terminal.
	StateExecuted State = "executed"

	// StateFailed means execution failed (possibly partially); terminal.
	StateFailed State = "failed"
)

// Decision is the user's explicit choice on a pending proposal.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// Ledger misuse errors, checked with errors.Is at the orchestrator boundary.
var (
	// ErrNotFound: the approval identifier is unknown (or evicted).
	ErrNotFound = errors.New("ledger: proposal not found")

	// ErrAlreadyDecided: Decide was called on a non-pending proposal.
	// Idempotent double-approval is rejected, not silently accepted.
	ErrAlreadyDecided = errors.New("ledger: proposal already decided")

	// ErrNotApproved: execution was requested for a proposal that is not
	// in the Approved state.
	ErrNotApproved = errors.New("ledger: proposal is not approved")

	// ErrAlreadyExecuted: the single execution slot for this proposal has
	// already been taken.
	ErrAlreadyExecuted = errors.New("ledger: proposal already executed")

	// ErrNotExecuting: Finish was called outside an execution window.
	// A programming error in the orchestrator, not a runtime condition.
	ErrNotExecuting = errors.New("ledger: proposal is not executing")
)

// Outcome records the result of executing an approved proposal.
//
// Thread Safety: Outcome is immutable once attached to a proposal.
type Outcome struct {
	// Success is true when every step of the plan completed.
	Success bool `json:"success"`

	// Summary is a short human-readable result description.
	Summary string `json:"summary"`

	// ErrorKind is the failure classification label, empty on success.
	ErrorKind string `json:"error_kind,omitempty"`

	// ResourceIDs lists created resource identifiers in creation order.
	// Populated on partial failure too: completed steps are surfaced,
	// never hidden.
	ResourceIDs []string `json:"resource_ids,omitempty"`
}

// Proposal is a pending, user-reviewable description of one mutating action.
//
// Params are frozen at creation: validated once, never mutated afterward.
// Stores return defensive copies so no caller can reach the stored map.
type Proposal struct {
	// ApprovalID correlates the proposal across propose and execute requests.
	ApprovalID string `json:"approval_id"`

	// ToolName is the originating tool.
	ToolName string `json:"tool_name"`

	// Params is the validated, frozen parameter set.
	Params map[string]any `json:"params"`

	// Label is the human-readable summary for the approval card.
	Label string `json:"label"`

	// State is the current lifecycle state.
	State State `json:"state"`

	// CreatedAt is the proposal time.
	CreatedAt time.Time `json:"created_at"`

	// DecidedAt is set by the first (only) decision.
	DecidedAt *time.Time `json:"decided_at,omitempty"`

	// Outcome is set when execution finishes.
	Outcome *Outcome `json:"outcome,omitempty"`
}

// Store is the proposal ledger contract.
//
// Thread Safety: Implementations must be safe for concurrent use; Decide,
// BeginExecution and Finish must be atomic compare-and-set on state.
type Store interface {
	// Create allocates a fresh unique approval identifier and stores a
	// pending proposal.
	Create(toolName string, params map[string]any, label string) (Proposal, error)

	// Get returns the proposal, or ErrNotFound.
	Get(approvalID string) (Proposal, error)

	// Decide applies the user's choice: Pending becomes Approved or Denied.
	// Fails with ErrNotFound or ErrAlreadyDecided.
	Decide(approvalID string, decision Decision) (Proposal, error)

	// BeginExecution takes the single execution slot: Approved becomes
	// Executing. Fails with ErrNotFound, ErrNotApproved (pending or denied)
	// or ErrAlreadyExecuted (executing, executed, failed).
	BeginExecution(approvalID string) (Proposal, error)

	// Finish records the execution outcome: Executing becomes Executed or
	// Failed. Fails with ErrNotFound or ErrNotExecuting.
	Finish(approvalID string, outcome Outcome) (Proposal, error)

	// Close releases store resources.
	Close() error
}

// copyParams deep-copies a parameter map one level down, which covers every
// shape the validator produces (scalars, []string, []any of scalars).
func copyParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch vv := v.(type) {
		case []string:
			s := make([]string, len(vv))
			copy(s, vv)
			out[k] = s
		case []any:
			s := make([]any, len(vv))
			copy(s, vv)
			out[k] = s
		default:
			out[k] = v
		}
	}
	return out
}

// clone returns a defensive copy of a proposal.
func clone(p Proposal) Proposal {
	out := p
	out.Params = copyParams(p.Params)
	if p.DecidedAt != nil {
		t := *p.DecidedAt
		out.DecidedAt = &t
	}
	if p.Outcome != nil {
		o := *p.Outcome
		o.ResourceIDs = append([]string(nil), p.Outcome.ResourceIDs...)
		out.Outcome = &o
	}
	return out
}
