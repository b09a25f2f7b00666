// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resolver turns a free-text user message into a structured Intent.
// The model never executes anything from here; it only gets to pick a tool
// and arguments, and the result is handed back as data for the caller to act
// on. Approval is expressed through a dedicated tool definition so that the
// decision to execute is visible in the tool-call layer rather than buried in
// prose.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nexuslabs/nexus/services/llm"
	"github.com/nexuslabs/nexus/services/nexus/tools"
)

// Kind discriminates the closed set of intents the resolver can produce.
// Callers switch exhaustively on it; hitting the default branch means a new
// kind was added without updating the switch.
type Kind int

const (
	// KindReply carries a plain conversational answer, no tool involved.
	KindReply Kind = iota
	// KindPropose carries a tool call the model wants performed.
	KindPropose
	// KindExecute carries an approval identifier the user supplied for a
	// previously proposed action.
	KindExecute
)

func (k Kind) String() string {
	switch k {
	case KindReply:
		return "reply"
	case KindPropose:
		return "propose"
	case KindExecute:
		return "execute"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Intent is the resolver's output. Only the fields relevant to its Kind are
// populated: Reply for KindReply, ToolName/RawParams/Label for KindPropose,
// ApprovalID for KindExecute.
type Intent struct {
	Kind       Kind
	Reply      string
	ToolName   string
	RawParams  map[string]any
	Label      string
	ApprovalID string
}

// ResolutionError reports that the model's output could not be turned into an
// Intent: a transport failure, a timeout, or output that does not parse. It is
// never retried at this layer.
type ResolutionError struct {
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolution failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("resolution failed: %s", e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// executeToolName is the synthetic tool the model calls to relay an approval
// identifier. It is not in the registry; the resolver appends it to the
// catalog and intercepts calls to it before any registry lookup.
const executeToolName = "execute_approved_action"

const defaultResolveTimeout = 30 * time.Second

const systemPrompt = `You are a marketing operations assistant for a Klaviyo account.
You may look up account details, campaigns, lists, and segments directly.
Any action that creates or changes data is only ever proposed: call the
matching tool with the arguments you inferred, and the platform will present
the proposal to a human for approval. Plain conversational agreement such as
"yes" or "go ahead" never approves anything. When the user supplies an
approval identifier for a pending action, call execute_approved_action with
that identifier. If a request is missing details a tool requires, ask for them
instead of guessing.`

// Resolver maps chat turns onto the Intent sum type using a tool-calling
// model and the tool catalog.
//
// Thread Safety: safe for concurrent use; all fields are read-only after New.
type Resolver struct {
	caller   llm.ToolCaller
	registry *tools.Registry
	timeout  time.Duration
	logger   *slog.Logger
}

// New builds a Resolver around the given model client and tool registry.
// A non-positive timeout falls back to 30s.
func New(caller llm.ToolCaller, registry *tools.Registry, timeout time.Duration, logger *slog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = defaultResolveTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		caller:   caller,
		registry: registry,
		timeout:  timeout,
		logger:   logger,
	}
}

// catalog is the registry's provider-form definitions plus the synthetic
// approval relay tool.
func (r *Resolver) catalog() []llm.ToolDef {
	defs := r.registry.Definitions()
	defs = append(defs, llm.ToolDef{
		Type: "function",
		Function: llm.ToolFunction{
			Name: executeToolName,
			Description: "Execute an action the user has already approved. " +
				"Call this only when the user provides the approval identifier " +
				"of a pending action.",
			Parameters: llm.ToolParameters{
				Type: "object",
				Properties: map[string]llm.ToolParamDef{
					"approval_id": {
						Type:        "string",
						Description: "The approval identifier of the pending action.",
					},
				},
				Required:             []string{"approval_id"},
				AdditionalProperties: false,
			},
		},
	})
	return defs
}

// Resolve runs one tool-calling pass over the conversation and classifies the
// model's answer.
//
// Description: Sends the system prompt, prior history, and the new user
// message to the model together with the tool catalog, then maps the response
// onto the Intent sum type.
// Inputs:
//   - ctx: caller context; a resolver-level timeout is layered on top.
//   - history: prior turns, oldest first, without the system message.
//   - message: the new user message.
//
// Outputs:
//   - Intent: exactly one Kind populated as documented on the type.
//   - error: *ResolutionError on transport failure, timeout, or model output
//     that cannot be interpreted.
func (r *Resolver) Resolve(ctx context.Context, history []llm.ChatMessage, message string) (Intent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctx, span := otel.Tracer("nexus/resolver").Start(ctx, "resolver.Resolve")
	defer span.End()

	messages := make([]llm.ChatMessage, 0, len(history)+2)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.ChatMessage{Role: "user", Content: message})

	result, err := r.caller.ChatWithTools(ctx, messages, llm.GenerationParams{}, r.catalog())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Intent{}, &ResolutionError{Reason: "model call timed out", Err: err}
		}
		return Intent{}, &ResolutionError{Reason: "model call failed", Err: err}
	}

	if len(result.ToolCalls) == 0 {
		span.SetAttributes(attribute.String("intent.kind", KindReply.String()))
		return Intent{Kind: KindReply, Reply: result.Content}, nil
	}

	// One proposal per turn. The model occasionally emits several calls;
	// only the first is honored so a single message can never fan out into
	// multiple pending actions.
	call := result.ToolCalls[0]
	if len(result.ToolCalls) > 1 {
		r.logger.Warn("model emitted multiple tool calls, keeping first",
			"kept", call.Name, "dropped", len(result.ToolCalls)-1)
	}

	args, err := call.ArgumentsMap()
	if err != nil {
		return Intent{}, &ResolutionError{
			Reason: fmt.Sprintf("unparsable arguments for tool %q", call.Name),
			Err:    err,
		}
	}

	if call.Name == executeToolName {
		id, ok := args["approval_id"].(string)
		if !ok || strings.TrimSpace(id) == "" {
			return Intent{}, &ResolutionError{Reason: "execute call missing approval_id"}
		}
		span.SetAttributes(attribute.String("intent.kind", KindExecute.String()))
		return Intent{Kind: KindExecute, ApprovalID: strings.TrimSpace(id)}, nil
	}

	def, err := r.registry.Lookup(call.Name)
	if err != nil {
		return Intent{}, &ResolutionError{
			Reason: fmt.Sprintf("model chose unknown tool %q", call.Name),
			Err:    err,
		}
	}

	span.SetAttributes(
		attribute.String("intent.kind", KindPropose.String()),
		attribute.String("intent.tool", def.Name),
	)
	// Read-only tools carry no labeler; their name is label enough.
	label := def.Name
	if def.Label != nil {
		label = def.Label(args)
	}
	return Intent{
		Kind:      KindPropose,
		ToolName:  def.Name,
		RawParams: args,
		Label:     label,
	}, nil
}

// Summarize asks the model to phrase an execution trace as a short answer to
// the user. Model failures degrade to a canned line built from the trace so
// that a completed execution is always reported, whatever the model does.
func (r *Resolver) Summarize(ctx context.Context, history []llm.ChatMessage, message string, trace []string) string {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctx, span := otel.Tracer("nexus/resolver").Start(ctx, "resolver.Summarize")
	defer span.End()

	messages := make([]llm.ChatMessage, 0, len(history)+3)
	messages = append(messages, llm.ChatMessage{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llm.ChatMessage{Role: "user", Content: message})
	messages = append(messages, llm.ChatMessage{
		Role: "system",
		Content: "The requested action has been carried out. Tool output:\n" +
			strings.Join(trace, "\n") +
			"\nSummarize the result for the user in one or two sentences.",
	})

	reply, err := r.caller.Chat(ctx, messages, llm.GenerationParams{})
	if err != nil || strings.TrimSpace(reply) == "" {
		r.logger.Warn("summary call failed, using canned reply", "error", err)
		if len(trace) == 0 {
			return "Done."
		}
		return "Done. " + trace[len(trace)-1]
	}
	return reply
}
