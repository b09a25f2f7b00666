// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package executor carries out approved proposals against the marketing
// platform. Each tool maps to a fixed call plan; multi-call plans stop at the
// first failure and report what was already created, so a partially applied
// action is visible rather than silently half-done.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nexuslabs/nexus/services/nexus/klaviyo"
	"github.com/nexuslabs/nexus/services/nexus/ledger"
	"github.com/nexuslabs/nexus/services/nexus/tools"
)

var stepsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "nexus",
		Subsystem: "executor",
		Name:      "steps_total",
		Help:      "Plan steps executed, by tool and outcome.",
	},
	[]string{"tool", "status"},
)

// MissingConfigError reports that a plan needed a configured default that is
// absent, for example a sender address for campaign drafts. The proposal
// fails without any upstream call being made for the missing piece.
type MissingConfigError struct {
	Field string
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("missing required configuration: %s", e.Field)
}

// CreatedResource identifies one upstream resource a plan created.
type CreatedResource struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Result is the outcome of running a plan (or a read tool). On failure the
// executor still returns a Result carrying everything created before the
// failing step.
type Result struct {
	Summary string
	Created []CreatedResource
	Trace   []string
}

func (r *Result) step(format string, args ...any) {
	r.Trace = append(r.Trace, fmt.Sprintf(format, args...))
}

func (r *Result) resourceIDs() []string {
	ids := make([]string, 0, len(r.Created))
	for _, c := range r.Created {
		ids = append(ids, c.ID)
	}
	return ids
}

// Outcome converts the result into a ledger outcome record.
func (r *Result) Outcome(err error) ledger.Outcome {
	out := ledger.Outcome{
		Success:     err == nil,
		Summary:     r.Summary,
		ResourceIDs: r.resourceIDs(),
	}
	if err != nil {
		out.Summary = err.Error()
		out.ErrorKind = errorKind(err)
	}
	return out
}

func errorKind(err error) string {
	var classified *klaviyo.Classified
	if errors.As(err, &classified) {
		return classified.Kind.String()
	}
	var missing *MissingConfigError
	if errors.As(err, &missing) {
		return "MissingRequiredConfiguration"
	}
	return "ExecutionFailed"
}

// Config holds account-level defaults the plans fall back to.
type Config struct {
	// DefaultFromEmail is used for campaign drafts when the proposal did
	// not name a sender. Empty means drafts without a sender fail with
	// MissingConfigError.
	DefaultFromEmail string
}

// Executor runs call plans for the tool catalog.
//
// Thread Safety: safe for concurrent use; all fields are read-only after New.
type Executor struct {
	client *klaviyo.Client
	cfg    Config
	logger *slog.Logger
}

// New builds an Executor around the platform client.
func New(client *klaviyo.Client, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{client: client, cfg: cfg, logger: logger}
}

// Execute runs the plan for an approved proposal.
//
// Description: Dispatches on the proposal's tool name and performs the
// upstream calls in order. Multi-call plans stop at the first failure.
// Inputs:
//   - p: A proposal in the executing state. Any other state is a caller bug
//     and returns an error without touching the upstream.
//
// Outputs:
//   - *Result: Never nil; on error it holds the resources created before the
//     failing step and the trace up to that point.
//   - error: Nil on success, *klaviyo.Classified or *MissingConfigError on
//     failure.
func (e *Executor) Execute(ctx context.Context, p *ledger.Proposal) (*Result, error) {
	if p.State != ledger.StateExecuting {
		return &Result{}, fmt.Errorf("executor: proposal %s is %s, not executing", p.ApprovalID, p.State)
	}

	ctx, span := otel.Tracer("nexus/executor").Start(ctx, "executor.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("proposal.tool", p.ToolName),
		attribute.String("proposal.approval_id", p.ApprovalID),
	)

	start := time.Now()
	var (
		result *Result
		err    error
	)
	switch p.ToolName {
	case "create_list":
		result, err = e.createList(ctx, p.Params)
	case "create_vip_audience":
		result, err = e.createVIPAudience(ctx, p.Params)
	case "create_campaign_draft":
		result, err = e.createCampaignDraft(ctx, p.Params)
	case "create_template":
		result, err = e.createTemplate(ctx, p.Params)
	default:
		result, err = &Result{}, fmt.Errorf("%w: %q", tools.ErrUnknownTool, p.ToolName)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	stepsTotal.WithLabelValues(p.ToolName, status).Inc()
	e.logger.Info("Plan finished",
		"tool", p.ToolName,
		"approval_id", p.ApprovalID,
		"status", status,
		"created", len(result.Created),
		"duration", time.Since(start),
	)
	return result, err
}

// Read executes one of the read-only catalog tools. Read tools never go
// through the proposal ledger.
func (e *Executor) Read(ctx context.Context, toolName string) (*Result, error) {
	ctx, span := otel.Tracer("nexus/executor").Start(ctx, "executor.Read")
	defer span.End()
	span.SetAttributes(attribute.String("tool", toolName))

	var (
		result *Result
		err    error
	)
	switch toolName {
	case "get_account_details":
		result, err = e.readAccounts(ctx)
	case "get_campaigns":
		result, err = e.readCampaigns(ctx)
	case "get_lists":
		result, err = e.readLists(ctx)
	case "get_segments":
		result, err = e.readSegments(ctx)
	default:
		result, err = &Result{}, fmt.Errorf("%w: %q", tools.ErrUnknownTool, toolName)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	stepsTotal.WithLabelValues(toolName, status).Inc()
	return result, err
}

// =============================================================================
// Mutating plans
// =============================================================================

func (e *Executor) createList(ctx context.Context, params map[string]any) (*Result, error) {
	result := &Result{}
	name := stringParam(params, "list_name")

	id, err := e.client.CreateList(ctx, name)
	if err != nil {
		return result, err
	}
	result.Created = append(result.Created, CreatedResource{Kind: "list", ID: id, Name: name})
	result.step("created list %q (id %s)", name, id)
	result.Summary = fmt.Sprintf("Created list %q (id %s).", name, id)
	return result, nil
}

// createVIPAudience is the one multi-call plan: create the list, create a
// profile per email, then attach all profiles in a single membership call.
// Any failure stops the sequence; resources already created stay created and
// are reported in the result.
func (e *Executor) createVIPAudience(ctx context.Context, params map[string]any) (*Result, error) {
	result := &Result{}
	name := stringParam(params, "list_name")
	emails := stringSliceParam(params, "emails")

	listID, err := e.client.CreateList(ctx, name)
	if err != nil {
		return result, err
	}
	result.Created = append(result.Created, CreatedResource{Kind: "list", ID: listID, Name: name})
	result.step("created list %q (id %s)", name, listID)

	profileIDs := make([]string, 0, len(emails))
	for _, email := range emails {
		profileID, err := e.client.CreateProfile(ctx, email)
		if err != nil {
			result.step("stopped after %d of %d profiles", len(profileIDs), len(emails))
			return result, err
		}
		result.Created = append(result.Created, CreatedResource{Kind: "profile", ID: profileID, Name: email})
		profileIDs = append(profileIDs, profileID)
	}
	result.step("created %d profiles", len(profileIDs))

	if err := e.client.AddProfilesToList(ctx, listID, profileIDs); err != nil {
		result.step("membership call failed, profiles not attached")
		return result, err
	}
	result.step("added %d profiles to list %s", len(profileIDs), listID)
	result.Summary = fmt.Sprintf("Created list %q with %d members.", name, len(profileIDs))
	return result, nil
}

func (e *Executor) createCampaignDraft(ctx context.Context, params map[string]any) (*Result, error) {
	result := &Result{}

	fromEmail := stringParam(params, "from_email")
	if fromEmail == "" {
		fromEmail = e.cfg.DefaultFromEmail
	}
	if fromEmail == "" {
		return result, &MissingConfigError{Field: "from_email"}
	}

	draft := klaviyo.CampaignDraft{
		Name:      stringParam(params, "name"),
		ListID:    stringParam(params, "list_id"),
		Subject:   stringParam(params, "subject"),
		FromEmail: fromEmail,
	}
	id, err := e.client.CreateCampaign(ctx, draft)
	if err != nil {
		return result, err
	}
	result.Created = append(result.Created, CreatedResource{Kind: "campaign", ID: id, Name: draft.Name})
	result.step("created campaign draft %q (id %s), from %s", draft.Name, id, fromEmail)
	result.Summary = fmt.Sprintf("Created campaign draft %q (id %s).", draft.Name, id)
	return result, nil
}

func (e *Executor) createTemplate(ctx context.Context, params map[string]any) (*Result, error) {
	result := &Result{}
	name := stringParam(params, "name")

	id, err := e.client.CreateTemplate(ctx, name, stringParam(params, "html"))
	if err != nil {
		return result, err
	}
	result.Created = append(result.Created, CreatedResource{Kind: "template", ID: id, Name: name})
	result.step("created template %q (id %s)", name, id)
	result.Summary = fmt.Sprintf("Created template %q (id %s).", name, id)
	return result, nil
}

// =============================================================================
// Read tools
// =============================================================================

func (e *Executor) readAccounts(ctx context.Context) (*Result, error) {
	result := &Result{}
	accounts, err := e.client.GetAccounts(ctx)
	if err != nil {
		return result, err
	}
	lines := make([]string, 0, len(accounts))
	for _, a := range accounts {
		lines = append(lines, fmt.Sprintf("%s (id %s, timezone %s)", a.Organization, a.ID, a.Timezone))
	}
	result.step("fetched %d account(s)", len(accounts))
	result.Summary = summarizeLines("account", lines)
	return result, nil
}

func (e *Executor) readCampaigns(ctx context.Context) (*Result, error) {
	result := &Result{}
	campaigns, err := e.client.GetCampaigns(ctx)
	if err != nil {
		return result, err
	}
	lines := make([]string, 0, len(campaigns))
	for _, c := range campaigns {
		lines = append(lines, fmt.Sprintf("%s (id %s, status %s)", c.Name, c.ID, c.Status))
	}
	result.step("fetched %d campaign(s)", len(campaigns))
	result.Summary = summarizeLines("campaign", lines)
	return result, nil
}

func (e *Executor) readLists(ctx context.Context) (*Result, error) {
	result := &Result{}
	lists, err := e.client.GetLists(ctx)
	if err != nil {
		return result, err
	}
	lines := make([]string, 0, len(lists))
	for _, l := range lists {
		lines = append(lines, fmt.Sprintf("%s (id %s, %d profiles)", l.Name, l.ID, l.ProfileCount))
	}
	result.step("fetched %d list(s)", len(lists))
	result.Summary = summarizeLines("list", lines)
	return result, nil
}

func (e *Executor) readSegments(ctx context.Context) (*Result, error) {
	result := &Result{}
	segments, err := e.client.GetSegments(ctx)
	if err != nil {
		return result, err
	}
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, fmt.Sprintf("%s (id %s, %d profiles)", s.Name, s.ID, s.ProfileCount))
	}
	result.step("fetched %d segment(s)", len(segments))
	result.Summary = summarizeLines("segment", lines)
	return result, nil
}

func summarizeLines(kind string, lines []string) string {
	if len(lines) == 0 {
		return fmt.Sprintf("No %ss found.", kind)
	}
	return fmt.Sprintf("%d %s(s):\n%s", len(lines), kind, strings.Join(lines, "\n"))
}

// =============================================================================
// Parameter access
// =============================================================================

// Params reach the executor already validated and normalized, but the durable
// ledger stores them as JSON, which turns []string into []any on the way
// back. Both shapes are accepted here.

func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

func stringSliceParam(params map[string]any, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
