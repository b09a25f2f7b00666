// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryConfig bounds the in-memory store.
//
// Thread Safety: MemoryConfig is a value type. Safe to copy and share.
type MemoryConfig struct {
	// Capacity caps the number of stored proposals. When the cap is hit,
	// decided proposals are evicted oldest-first, then pending ones.
	Capacity int

	// TTL evicts proposals older than this. Pending proposals have no
	// lifecycle expiry of their own; the TTL is the resource-management
	// bound that keeps an undecided proposal from living forever.
	TTL time.Duration

	// JanitorInterval is how often the eviction pass runs.
	JanitorInterval time.Duration
}

// DefaultMemoryConfig returns the defaults: 1024 proposals, 1h TTL.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Capacity:        1024,
		TTL:             time.Hour,
		JanitorInterval: time.Minute,
	}
}

// MemoryStore is the bounded in-memory ledger.
//
// Description:
//
//	Proposal state lives only in server memory keyed by approval
//	identifier; a restart orphans every proposal. Deployments that need
//	proposals to survive a restart use the badger store instead. This
//	store is the default for development and single-node use.
//
// Thread Safety: Safe for concurrent use via sync.Mutex. All state
// transitions are compare-and-set under the lock.
type MemoryStore struct {
	mu        sync.Mutex
	proposals map[string]Proposal
	cfg       MemoryConfig

	stopJanitor chan struct{}
	closeOnce   sync.Once
}

// NewMemoryStore creates a bounded in-memory store and starts its janitor.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultMemoryConfig().Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultMemoryConfig().TTL
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = DefaultMemoryConfig().JanitorInterval
	}

	s := &MemoryStore{
		proposals:   make(map[string]Proposal),
		cfg:         cfg,
		stopJanitor: make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Create implements Store.Create.
func (s *MemoryStore) Create(toolName string, params map[string]any, label string) (Proposal, error) {
	p := Proposal{
		ApprovalID: uuid.NewString(),
		ToolName:   toolName,
		Params:     copyParams(params),
		Label:      label,
		State:      StatePending,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.proposals) >= s.cfg.Capacity {
		s.evictLocked()
	}
	s.proposals[p.ApprovalID] = p
	return clone(p), nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(approvalID string) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[approvalID]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	return clone(p), nil
}

// Decide implements Store.Decide.
func (s *MemoryStore) Decide(approvalID string, decision Decision) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[approvalID]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	if p.State != StatePending {
		return Proposal{}, ErrAlreadyDecided
	}

	now := time.Now().UTC()
	p.DecidedAt = &now
	if decision == DecisionApprove {
		p.State = StateApproved
	} else {
		p.State = StateDenied
	}
	s.proposals[approvalID] = p
	return clone(p), nil
}

// BeginExecution implements Store.BeginExecution.
func (s *MemoryStore) BeginExecution(approvalID string) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[approvalID]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	switch p.State {
	case StateApproved:
		p.State = StateExecuting
		s.proposals[approvalID] = p
		return clone(p), nil
	case StatePending, StateDenied:
		return Proposal{}, ErrNotApproved
	default: // executing, executed, failed
		return Proposal{}, ErrAlreadyExecuted
	}
}

// Finish implements Store.Finish.
func (s *MemoryStore) Finish(approvalID string, outcome Outcome) (Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[approvalID]
	if !ok {
		return Proposal{}, ErrNotFound
	}
	if p.State != StateExecuting {
		return Proposal{}, ErrNotExecuting
	}

	if outcome.Success {
		p.State = StateExecuted
	} else {
		p.State = StateFailed
	}
	p.Outcome = &outcome
	s.proposals[approvalID] = p
	return clone(p), nil
}

// Close stops the janitor. Idempotent.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stopJanitor) })
	return nil
}

// evictLocked removes one proposal to make room: oldest decided first, then
// oldest pending. Caller holds the lock.
func (s *MemoryStore) evictLocked() {
	var candidates []Proposal
	for _, p := range s.proposals {
		candidates = append(candidates, p)
	}
	sort.Slice(candidates, func(i, j int) bool {
		iPending := candidates[i].State == StatePending
		jPending := candidates[j].State == StatePending
		if iPending != jPending {
			return !iPending // decided sorts first
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if len(candidates) > 0 {
		victim := candidates[0]
		delete(s.proposals, victim.ApprovalID)
		slog.Warn("Proposal evicted: ledger at capacity",
			slog.String("approval_id", victim.ApprovalID),
			slog.String("state", string(victim.State)),
		)
	}
}

// janitor evicts proposals past their TTL until Close.
func (s *MemoryStore) janitor() {
	ticker := time.NewTicker(s.cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopJanitor:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *MemoryStore) evictExpired() {
	cutoff := time.Now().UTC().Add(-s.cfg.TTL)

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.proposals {
		if p.CreatedAt.Before(cutoff) {
			delete(s.proposals, id)
			slog.Info("Proposal expired",
				slog.String("approval_id", id),
				slog.String("state", string(p.State)),
			)
		}
	}
}
