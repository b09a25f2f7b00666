// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// keyPrefix namespaces proposal keys inside the badger keyspace.
const keyPrefix = "proposal/"

// BadgerConfig configures the durable ledger store.
//
// Thread Safety: BadgerConfig is a value type. Safe to copy and share.
type BadgerConfig struct {
	// Path is the on-disk database directory.
	Path string

	// TTL bounds how long a proposal survives, pending or decided.
	// Enforced by badger entry TTL: abandoned proposals expire on disk
	// without a janitor.
	TTL time.Duration
}

// BadgerStore is the durable, restart-surviving ledger.
//
// Description:
//
//	Backs the proposal ledger with a badger key-value database keyed by
//	approval identifier. Transitions run inside read-modify-write
//	transactions, which badger serializes per key, preserving the
//	compare-and-set semantics the Store contract requires.
//
// Thread Safety: Safe for concurrent use; badger handles transaction
// isolation.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerStore opens (or creates) the database at cfg.Path.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("ledger: badger path must not be empty")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening badger at %s: %w", cfg.Path, err)
	}

	slog.Info("Durable proposal ledger opened",
		slog.String("path", cfg.Path),
		slog.Duration("ttl", ttl),
	)
	return &BadgerStore{db: db, ttl: ttl}, nil
}

// Create implements Store.Create.
func (s *BadgerStore) Create(toolName string, params map[string]any, label string) (Proposal, error) {
	p := Proposal{
		ApprovalID: uuid.NewString(),
		ToolName:   toolName,
		Params:     copyParams(params),
		Label:      label,
		State:      StatePending,
		CreatedAt:  time.Now().UTC(),
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return s.putLocked(txn, p)
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("ledger: storing proposal: %w", err)
	}
	return p, nil
}

// Get implements Store.Get.
func (s *BadgerStore) Get(approvalID string) (Proposal, error) {
	var p Proposal
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = getProposal(txn, approvalID)
		return err
	})
	if err != nil {
		return Proposal{}, err
	}
	return p, nil
}

// Decide implements Store.Decide.
func (s *BadgerStore) Decide(approvalID string, decision Decision) (Proposal, error) {
	return s.transition(approvalID, func(p *Proposal) error {
		if p.State != StatePending {
			return ErrAlreadyDecided
		}
		now := time.Now().UTC()
		p.DecidedAt = &now
		if decision == DecisionApprove {
			p.State = StateApproved
		} else {
			p.State = StateDenied
		}
		return nil
	})
}

// BeginExecution implements Store.BeginExecution.
func (s *BadgerStore) BeginExecution(approvalID string) (Proposal, error) {
	return s.transition(approvalID, func(p *Proposal) error {
		switch p.State {
		case StateApproved:
			p.State = StateExecuting
			return nil
		case StatePending, StateDenied:
			return ErrNotApproved
		default:
			return ErrAlreadyExecuted
		}
	})
}

// Finish implements Store.Finish.
func (s *BadgerStore) Finish(approvalID string, outcome Outcome) (Proposal, error) {
	return s.transition(approvalID, func(p *Proposal) error {
		if p.State != StateExecuting {
			return ErrNotExecuting
		}
		if outcome.Success {
			p.State = StateExecuted
		} else {
			p.State = StateFailed
		}
		p.Outcome = &outcome
		return nil
	})
}

// Close implements Store.Close.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// transition runs a compare-and-set state change inside one transaction.
func (s *BadgerStore) transition(approvalID string, mutate func(*Proposal) error) (Proposal, error) {
	var p Proposal
	err := s.db.Update(func(txn *badger.Txn) error {
		var err error
		p, err = getProposal(txn, approvalID)
		if err != nil {
			return err
		}
		if err := mutate(&p); err != nil {
			return err
		}
		return s.putLocked(txn, p)
	})
	if err != nil {
		return Proposal{}, err
	}
	return p, nil
}

func (s *BadgerStore) putLocked(txn *badger.Txn, p Proposal) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling proposal: %w", err)
	}
	entry := badger.NewEntry([]byte(keyPrefix+p.ApprovalID), raw).WithTTL(s.ttl)
	return txn.SetEntry(entry)
}

func getProposal(txn *badger.Txn, approvalID string) (Proposal, error) {
	item, err := txn.Get([]byte(keyPrefix + approvalID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return Proposal{}, ErrNotFound
		}
		return Proposal{}, fmt.Errorf("ledger: reading proposal: %w", err)
	}

	var p Proposal
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	})
	if err != nil {
		return Proposal{}, fmt.Errorf("ledger: decoding proposal: %w", err)
	}
	return p, nil
}
