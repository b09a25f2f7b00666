// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nexus

import "time"

// ChatTurn is one prior message of the conversation, oldest first.
type ChatTurn struct {
	Role    string `json:"role" binding:"required,oneof=user assistant"`
	Content string `json:"content" binding:"required"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string     `json:"message" binding:"required"`
	History []ChatTurn `json:"history" binding:"dive"`
}

// PendingActionDTO describes a proposal awaiting a decision.
type PendingActionDTO struct {
	ApprovalID string         `json:"approval_id"`
	Label      string         `json:"label"`
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params"`
}

// ChatResponse is the body returned by POST /api/chat.
//
// ActionRequired is set when the turn produced a proposal; the action does
// not run until it is approved through the decision endpoint.
type ChatResponse struct {
	Content        string            `json:"content"`
	Trace          []string          `json:"trace,omitempty"`
	ActionRequired *PendingActionDTO `json:"action_required,omitempty"`
}

// DecideRequest is the body of POST /api/approvals/:id/decide.
type DecideRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approve deny"`
}

// DecideResponse is returned by the decision endpoint. On approval it carries
// the execution outcome; on denial a cancellation notice.
type DecideResponse struct {
	Content string   `json:"content"`
	State   string   `json:"state"`
	Trace   []string `json:"trace,omitempty"`
}

// ProposalResponse is the body of GET /api/approvals/:id.
type ProposalResponse struct {
	ApprovalID string         `json:"approval_id"`
	Tool       string         `json:"tool"`
	Label      string         `json:"label"`
	Params     map[string]any `json:"params"`
	State      string         `json:"state"`
	CreatedAt  time.Time      `json:"created_at"`
	DecidedAt  *time.Time     `json:"decided_at,omitempty"`
	Outcome    *OutcomeDTO    `json:"outcome,omitempty"`
}

// OutcomeDTO mirrors the ledger's outcome record on the wire.
type OutcomeDTO struct {
	Success     bool     `json:"success"`
	Summary     string   `json:"summary"`
	ErrorKind   string   `json:"error_kind,omitempty"`
	ResourceIDs []string `json:"resource_ids,omitempty"`
}

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
