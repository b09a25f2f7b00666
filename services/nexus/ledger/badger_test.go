// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"errors"
	"testing"
	"time"
)

func newBadgerTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(BadgerConfig{Path: t.TempDir(), TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewBadgerStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	s := newBadgerTestStore(t)

	params := map[string]any{
		"list_name": "VIP Audience (demo): $300+",
		"emails":    []string{"a@example.com", "b@example.com"},
	}
	p, err := s.Create("create_vip_audience", params, "Create list \"VIP Audience (demo): $300+\"")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get(p.ApprovalID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.State != StatePending {
		t.Errorf("state = %s, want pending", got.State)
	}
	if got.Params["list_name"] != "VIP Audience (demo): $300+" {
		t.Errorf("list_name lost in round trip: %v", got.Params["list_name"])
	}
	// JSON storage turns []string into []any on the way back.
	emails, ok := got.Params["emails"].([]any)
	if !ok || len(emails) != 2 {
		t.Fatalf("emails not round-tripped: %#v", got.Params["emails"])
	}
	if emails[0] != "a@example.com" {
		t.Errorf("emails[0] = %v", emails[0])
	}
}

func TestBadgerStore_Get_NotFound(t *testing.T) {
	s := newBadgerTestStore(t)
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBadgerStore_Lifecycle(t *testing.T) {
	s := newBadgerTestStore(t)
	p, _ := s.Create("create_list", map[string]any{"list_name": "VIP"}, "label")

	if _, err := s.BeginExecution(p.ApprovalID); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("pending: expected ErrNotApproved, got %v", err)
	}

	decided, err := s.Decide(p.ApprovalID, DecisionApprove)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if decided.State != StateApproved || decided.DecidedAt == nil {
		t.Errorf("decided = %+v", decided)
	}
	if _, err := s.Decide(p.ApprovalID, DecisionDeny); !errors.Is(err, ErrAlreadyDecided) {
		t.Fatalf("second Decide: expected ErrAlreadyDecided, got %v", err)
	}

	if _, err := s.BeginExecution(p.ApprovalID); err != nil {
		t.Fatalf("BeginExecution failed: %v", err)
	}
	if _, err := s.BeginExecution(p.ApprovalID); !errors.Is(err, ErrAlreadyExecuted) {
		t.Fatalf("second BeginExecution: expected ErrAlreadyExecuted, got %v", err)
	}

	done, err := s.Finish(p.ApprovalID, Outcome{Success: true, Summary: "created", ResourceIDs: []string{"L1"}})
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if done.State != StateExecuted {
		t.Errorf("state = %s, want executed", done.State)
	}
	if _, err := s.Finish(p.ApprovalID, Outcome{}); !errors.Is(err, ErrNotExecuting) {
		t.Fatalf("expected ErrNotExecuting, got %v", err)
	}
}

func TestBadgerStore_DeniedNeverExecutes(t *testing.T) {
	s := newBadgerTestStore(t)
	p, _ := s.Create("create_list", map[string]any{"list_name": "VIP"}, "label")
	s.Decide(p.ApprovalID, DecisionDeny)

	if _, err := s.BeginExecution(p.ApprovalID); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("denied: expected ErrNotApproved, got %v", err)
	}
}

func TestBadgerStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := NewBadgerStore(BadgerConfig{Path: dir, TTL: time.Hour})
	if err != nil {
		t.Fatalf("NewBadgerStore failed: %v", err)
	}
	p, err := s.Create("create_list", map[string]any{"list_name": "VIP"}, "label")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	s.Decide(p.ApprovalID, DecisionApprove)
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewBadgerStore(BadgerConfig{Path: dir, TTL: time.Hour})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(p.ApprovalID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.State != StateApproved {
		t.Errorf("state after reopen = %s, want approved", got.State)
	}
}
