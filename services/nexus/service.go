// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package nexus is the HTTP surface and session orchestration of the
// proposal engine. It turns chat messages into intents, intents into
// proposals, and decisions into executions, with the approval gate between
// the last two. No mutating upstream call ever happens in this package
// without a proposal that was explicitly approved.
package nexus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nexuslabs/nexus/services/llm"
	"github.com/nexuslabs/nexus/services/nexus/executor"
	"github.com/nexuslabs/nexus/services/nexus/klaviyo"
	"github.com/nexuslabs/nexus/services/nexus/ledger"
	"github.com/nexuslabs/nexus/services/nexus/resolver"
	"github.com/nexuslabs/nexus/services/nexus/tools"
)

// PendingAction describes a proposal the user must decide on.
type PendingAction struct {
	ApprovalID string
	Label      string
	Tool       string
	Params     map[string]any
}

// ChatResult is the outcome of one chat turn.
type ChatResult struct {
	Content        string
	Trace          []string
	ActionRequired *PendingAction
}

// Service wires the resolver, registry, ledger, and executor into the
// proposal workflow.
//
// Thread Safety: safe for concurrent use. All coordination lives in the
// ledger's state transitions.
type Service struct {
	resolver *resolver.Resolver
	registry *tools.Registry
	store    ledger.Store
	executor *executor.Executor
	logger   *slog.Logger
}

// NewService assembles the orchestrator from its parts.
func NewService(res *resolver.Resolver, registry *tools.Registry, store ledger.Store, exec *executor.Executor, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver: res,
		registry: registry,
		store:    store,
		executor: exec,
		logger:   logger,
	}
}

// Handle runs one chat turn.
//
// Description: Resolves the message into an intent and branches on its kind.
// Replies pass through. Tool proposals are validated; read-only tools execute
// immediately, mutating tools become pending proposals. Execute intents are
// honored only for proposals already approved through the decision endpoint;
// free text never approves anything.
//
// Outputs:
//   - *ChatResult: Always non-nil on nil error. Taxonomy errors (validation,
//     resolution, upstream) are converted into user-facing replies rather
//     than returned.
//   - error: Only for programming errors or a broken ledger.
func (s *Service) Handle(ctx context.Context, history []llm.ChatMessage, message string) (*ChatResult, error) {
	intent, err := s.resolver.Resolve(ctx, history, message)
	if err != nil {
		return s.replyForError(err), nil
	}
	chatTurnsTotal.WithLabelValues(intent.Kind.String()).Inc()

	switch intent.Kind {
	case resolver.KindReply:
		return &ChatResult{Content: intent.Reply, Trace: []string{"Resolved intent: reply"}}, nil
	case resolver.KindPropose:
		return s.propose(ctx, history, message, intent)
	case resolver.KindExecute:
		return s.executeFromChat(ctx, history, message, intent.ApprovalID)
	default:
		return nil, fmt.Errorf("nexus: unhandled intent kind %s", intent.Kind)
	}
}

// propose validates the tool call and either runs it (read-only tools) or
// records a pending proposal (mutating tools).
func (s *Service) propose(ctx context.Context, history []llm.ChatMessage, message string, intent resolver.Intent) (*ChatResult, error) {
	def, err := s.registry.Lookup(intent.ToolName)
	if err != nil {
		return s.replyForError(err), nil
	}

	params, err := s.registry.Validate(intent.ToolName, intent.RawParams)
	if err != nil {
		return s.replyForError(err), nil
	}

	if !def.Mutating {
		result, err := s.executor.Read(ctx, def.Name)
		if err != nil {
			return s.replyForError(err), nil
		}
		content := s.resolver.Summarize(ctx, history, message, append(result.Trace, result.Summary))
		return &ChatResult{Content: content, Trace: result.Trace}, nil
	}

	p, err := s.store.Create(def.Name, params, intent.Label)
	if err != nil {
		return nil, fmt.Errorf("nexus: recording proposal: %w", err)
	}
	proposalsTotal.WithLabelValues("created").Inc()
	s.logger.Info("Proposal created",
		"approval_id", p.ApprovalID,
		"tool", p.ToolName,
		"label", p.Label,
	)

	content := fmt.Sprintf(
		"I can do that, but it changes your account, so it needs your approval first.\n\nProposed action: %s\nApproval ID: %s\n\nApprove or deny it via the approval endpoint (or your operator console).",
		p.Label, p.ApprovalID,
	)
	return &ChatResult{
		Content: content,
		Trace:   []string{fmt.Sprintf("proposed %s as %s", p.ToolName, p.ApprovalID)},
		ActionRequired: &PendingAction{
			ApprovalID: p.ApprovalID,
			Label:      p.Label,
			Tool:       p.ToolName,
			Params:     p.Params,
		},
	}, nil
}

// executeFromChat handles an execute intent arriving through free text. Only
// a proposal already moved to approved by the decision endpoint runs;
// everything else gets a state-specific refusal.
func (s *Service) executeFromChat(ctx context.Context, history []llm.ChatMessage, message string, approvalID string) (*ChatResult, error) {
	p, err := s.store.Get(approvalID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return &ChatResult{Content: fmt.Sprintf("I don't have a pending action with ID %s. It may have expired.", approvalID)}, nil
		}
		return nil, fmt.Errorf("nexus: loading proposal: %w", err)
	}

	switch p.State {
	case ledger.StatePending:
		return &ChatResult{Content: fmt.Sprintf(
			"The action %q is still awaiting approval. Saying yes in chat doesn't approve it; use the approval endpoint for ID %s.",
			p.Label, p.ApprovalID,
		)}, nil
	case ledger.StateDenied:
		return &ChatResult{Content: fmt.Sprintf("The action %q was denied, so I won't run it.", p.Label)}, nil
	case ledger.StateExecuting:
		return &ChatResult{Content: fmt.Sprintf("The action %q is already running.", p.Label)}, nil
	case ledger.StateExecuted:
		return &ChatResult{Content: fmt.Sprintf("The action %q has already been carried out.", p.Label)}, nil
	case ledger.StateFailed:
		return &ChatResult{Content: fmt.Sprintf("The action %q already ran and failed. Propose it again if you want a retry.", p.Label)}, nil
	case ledger.StateApproved:
		result, execErr := s.runApproved(ctx, p.ApprovalID)
		if execErr != nil {
			if taxonomy(execErr) {
				reply := s.replyForError(execErr)
				reply.Trace = append(result.Trace, reply.Trace...)
				return reply, nil
			}
			return nil, execErr
		}
		content := s.resolver.Summarize(ctx, history, message, append(result.Trace, result.Summary))
		return &ChatResult{Content: content, Trace: result.Trace}, nil
	default:
		return nil, fmt.Errorf("nexus: unhandled proposal state %s", p.State)
	}
}

// DecideAndExecute is the typed approval path: it records the decision and,
// on approval, runs the plan in the same call. It bypasses the resolver
// entirely, so a model can never forge a decision.
//
// Outputs:
//   - *ChatResult: The user-facing outcome. On denial, a cancellation notice.
//   - error: ledger.ErrNotFound / ledger.ErrAlreadyDecided for the handler
//     to map to HTTP statuses; anything else is internal.
func (s *Service) DecideAndExecute(ctx context.Context, approvalID string, decision ledger.Decision) (*ChatResult, error) {
	p, err := s.store.Decide(approvalID, decision)
	if err != nil {
		return nil, err
	}
	decisionsTotal.WithLabelValues(string(decision)).Inc()
	s.logger.Info("Proposal decided",
		"approval_id", approvalID,
		"tool", p.ToolName,
		"decision", decision,
	)

	if decision == ledger.DecisionDeny {
		proposalsTotal.WithLabelValues("denied").Inc()
		return &ChatResult{Content: "Action cancelled."}, nil
	}
	proposalsTotal.WithLabelValues("approved").Inc()

	result, execErr := s.runApproved(ctx, approvalID)
	if execErr != nil {
		if taxonomy(execErr) {
			reply := s.replyForError(execErr)
			reply.Trace = append(result.Trace, reply.Trace...)
			return reply, nil
		}
		return nil, execErr
	}
	return &ChatResult{Content: result.Summary, Trace: result.Trace}, nil
}

// runApproved claims the proposal's single execution slot, runs the plan, and
// records the outcome. The returned result is non-nil even on error so
// callers can surface partial progress.
func (s *Service) runApproved(ctx context.Context, approvalID string) (*executor.Result, error) {
	p, err := s.store.BeginExecution(approvalID)
	if err != nil {
		return &executor.Result{}, err
	}

	start := time.Now()
	result, execErr := s.executor.Execute(ctx, &p)

	status := "ok"
	event := "executed"
	if execErr != nil {
		status = "error"
		event = "failed"
	}
	executionDuration.WithLabelValues(p.ToolName, status).Observe(time.Since(start).Seconds())
	proposalsTotal.WithLabelValues(event).Inc()

	if _, err := s.store.Finish(approvalID, result.Outcome(execErr)); err != nil {
		s.logger.Error("Recording outcome failed",
			"approval_id", approvalID,
			"error", err,
		)
	}
	return result, execErr
}

// Proposal exposes a ledger record for the status endpoint.
func (s *Service) Proposal(approvalID string) (*ledger.Proposal, error) {
	p, err := s.store.Get(approvalID)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// taxonomy reports whether err belongs to the user-facing error taxonomy,
// as opposed to ledger-state or internal errors the handlers map themselves.
func taxonomy(err error) bool {
	var (
		classified *klaviyo.Classified
		missing    *executor.MissingConfigError
	)
	return errors.As(err, &classified) || errors.As(err, &missing)
}

// replyForError converts every taxonomy error into a labeled natural-language
// reply. Nothing here panics and nothing is swallowed: unknown errors get a
// generic reply and a log line.
func (s *Service) replyForError(err error) *ChatResult {
	var (
		validation *tools.ValidationError
		resolution *resolver.ResolutionError
		classified *klaviyo.Classified
		missing    *executor.MissingConfigError
	)

	switch {
	case errors.As(err, &validation):
		lines := make([]string, 0, len(validation.Fields))
		for _, f := range validation.Fields {
			lines = append(lines, fmt.Sprintf("- %s: %s", f.Field, f.Reason))
		}
		return &ChatResult{
			Content: fmt.Sprintf("I can't propose that yet; some details are invalid:\n%s", strings.Join(lines, "\n")),
			Trace:   []string{fmt.Sprintf("validation failed for %s", validation.Tool)},
		}

	case errors.Is(err, tools.ErrUnknownTool):
		return &ChatResult{
			Content: "I don't have a tool for that, so nothing was done.",
			Trace:   []string{"unknown tool"},
		}

	case errors.As(err, &resolution):
		return &ChatResult{
			Content: "I couldn't work out what you're asking for. Try rephrasing the request.",
			Trace:   []string{"resolution failed: " + resolution.Reason},
		}

	case errors.As(err, &missing):
		return &ChatResult{
			Content: fmt.Sprintf("This action needs the account setting %q, which isn't configured. Nothing was changed.", missing.Field),
			Trace:   []string{err.Error()},
		}

	case errors.As(err, &classified):
		return s.replyForUpstream(classified)

	default:
		s.logger.Error("Unclassified error in chat turn", "error", err)
		return &ChatResult{
			Content: "Something went wrong on my side. The request was not carried out.",
			Trace:   []string{"internal error"},
		}
	}
}

func (s *Service) replyForUpstream(c *klaviyo.Classified) *ChatResult {
	var content string
	switch c.Kind {
	case klaviyo.KindTimeout:
		content = fmt.Sprintf("The platform didn't respond in time while trying to %s. Parts of the action may have completed; check the proposal status before retrying.", c.Operation)
	case klaviyo.KindAuthExpired:
		content = "Your platform session has expired. Re-authenticate and try again."
	case klaviyo.KindPermissionDenied:
		content = fmt.Sprintf("The platform refused this action: %s.", c.Message)
	case klaviyo.KindRejected:
		content = fmt.Sprintf("The platform rejected the request to %s (%s).", c.Operation, c.Message)
	default:
		content = fmt.Sprintf("The platform call to %s failed.", c.Operation)
	}
	return &ChatResult{
		Content: content,
		Trace:   []string{c.Kind.String() + ": " + c.Error()},
	}
}
