// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nexus

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nexuslabs/nexus/services/llm"
	"github.com/nexuslabs/nexus/services/nexus/ledger"
)

// Handlers holds the HTTP handlers for the proposal engine.
//
// Thread Safety: Handlers is safe for concurrent use.
type Handlers struct {
	service *Service
}

// NewHandlers creates the handlers around a service.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// getOrCreateRequestID returns the inbound X-Request-ID, minting one when the
// caller didn't send it.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleChat handles POST /api/chat.
//
// Description:
//
//	Runs one chat turn. Mutating requests come back as pending actions with
//	an approval id; nothing mutating executes from this endpoint alone.
//
// Response:
//
//	200 OK: ChatResponse
//	400 Bad Request: Missing or malformed body
//	500 Internal Server Error: Orchestration failure
func (h *Handlers) HandleChat(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleChat")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "message is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	history := make([]llm.ChatMessage, 0, len(req.History))
	for _, turn := range req.History {
		history = append(history, llm.ChatMessage{Role: turn.Role, Content: turn.Content})
	}

	result, err := h.service.Handle(c.Request.Context(), history, req.Message)
	if err != nil {
		logger.Error("Chat turn failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "chat turn failed",
			Code:  "INTERNAL",
		})
		return
	}

	resp := ChatResponse{Content: result.Content, Trace: result.Trace}
	if result.ActionRequired != nil {
		resp.ActionRequired = &PendingActionDTO{
			ApprovalID: result.ActionRequired.ApprovalID,
			Label:      result.ActionRequired.Label,
			Tool:       result.ActionRequired.Tool,
			Params:     result.ActionRequired.Params,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDecide handles POST /api/approvals/:id/decide.
//
// Description:
//
//	The strongly typed approval path. Records the decision and, on
//	approval, executes the plan before responding. This is the only way a
//	proposal ever becomes approved.
//
// Response:
//
//	200 OK: DecideResponse
//	400 Bad Request: Decision missing or not approve/deny
//	404 Not Found: Unknown or expired approval id
//	409 Conflict: Proposal already decided
func (h *Handlers) HandleDecide(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDecide")

	approvalID := c.Param("id")

	var req DecideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "decision must be \"approve\" or \"deny\"",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	result, err := h.service.DecideAndExecute(c.Request.Context(), approvalID, ledger.Decision(req.Decision))
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no such approval id; it may have expired",
			Code:  "NOT_FOUND",
		})
		return
	case errors.Is(err, ledger.ErrAlreadyDecided):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: "this proposal was already decided",
			Code:  "ALREADY_DECIDED",
		})
		return
	case err != nil:
		logger.Error("Decision failed", "approval_id", approvalID, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "decision failed",
			Code:  "INTERNAL",
		})
		return
	}

	state := ledger.StateDenied
	if p, err := h.service.Proposal(approvalID); err == nil {
		state = p.State
	}
	c.JSON(http.StatusOK, DecideResponse{
		Content: result.Content,
		State:   string(state),
		Trace:   result.Trace,
	})
}

// HandleGetProposal handles GET /api/approvals/:id.
//
// Response:
//
//	200 OK: ProposalResponse
//	404 Not Found: Unknown or expired approval id
func (h *Handlers) HandleGetProposal(c *gin.Context) {
	p, err := h.service.Proposal(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no such approval id; it may have expired",
			Code:  "NOT_FOUND",
		})
		return
	}

	resp := ProposalResponse{
		ApprovalID: p.ApprovalID,
		Tool:       p.ToolName,
		Label:      p.Label,
		Params:     p.Params,
		State:      string(p.State),
		CreatedAt:  p.CreatedAt,
		DecidedAt:  p.DecidedAt,
	}
	if p.Outcome != nil {
		resp.Outcome = &OutcomeDTO{
			Success:     p.Outcome.Success,
			Summary:     p.Outcome.Summary,
			ErrorKind:   p.Outcome.ErrorKind,
			ResourceIDs: p.Outcome.ResourceIDs,
		}
	}
	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /api/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady handles GET /api/ready.
func (h *Handlers) HandleReady(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
