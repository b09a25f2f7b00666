// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tools declares the fixed catalog of callable actions and their
// strict parameter schemas. Pure data and validation logic, no I/O.
//
// Every tool invocation, regardless of entry path, passes through
// Registry.Validate before a proposal is created or an executor call is
// issued. The reject-unknown-fields policy here is the primary defense
// against the language model inventing parameters the schema never declared.
package tools

import (
	"fmt"
	"sort"

	"github.com/nexuslabs/nexus/services/llm"
)

// ParamType is the declared primitive type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
)

// ParamSpec declares one parameter: its type, whether it is required, and
// any constraints.
//
// Thread Safety: ParamSpec is immutable after catalog construction.
type ParamSpec struct {
	// Type is the declared primitive type.
	Type ParamType

	// Description is surfaced to the model in the tool catalog.
	Description string

	// Required marks the parameter as mandatory.
	Required bool

	// NonEmpty rejects empty strings (after trimming nothing; exact value).
	NonEmpty bool

	// Format applies a named format check. Supported: "email".
	Format string

	// Min and Max bound numeric values when set.
	Min *float64
	Max *float64

	// MinItems and MaxItems bound array length. Zero MaxItems means unbounded.
	MinItems int
	MaxItems int

	// Item declares the element schema when Type is TypeArray.
	Item *ParamSpec
}

// Definition declares one callable action.
//
// Invariant: every Mutating tool is reachable only through the
// propose→approve path; the orchestrator never executes one directly off the
// resolver's first response.
//
// Thread Safety: Definition is immutable after catalog construction.
type Definition struct {
	// Name uniquely identifies the tool.
	Name string

	// Description is the human- and model-readable purpose of the tool.
	Description string

	// Mutating is true when the tool creates or modifies platform state.
	Mutating bool

	// Params maps parameter names to their specs.
	Params map[string]ParamSpec

	// Label renders a human-readable summary of a validated invocation for
	// the approval card. Nil for read-only tools.
	Label func(params map[string]any) string
}

// Registry is the tool schema registry: the closed set of callable actions.
//
// Thread Safety: Registry is read-only after construction and safe for
// concurrent use.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// NewRegistry builds the fixed catalog.
//
// Description:
//
//	The catalog covers the read tools (account details, campaigns, lists,
//	segments) and the mutating tools (create list, create VIP audience,
//	create campaign draft, create template). Mutating tool descriptions
//	tell the model that execution requires explicit user approval, which
//	keeps it from promising immediate effects in its replies.
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[string]Definition)}

	r.register(Definition{
		Name:        "get_account_details",
		Description: "Get details of the connected Klaviyo account (ID, organization name, timezone).",
		Params:      map[string]ParamSpec{},
	})
	r.register(Definition{
		Name:        "get_campaigns",
		Description: "Fetch recent email marketing campaigns with their IDs and status.",
		Params:      map[string]ParamSpec{},
	})
	r.register(Definition{
		Name:        "get_lists",
		Description: "Fetch existing subscriber lists with their IDs and profile counts.",
		Params:      map[string]ParamSpec{},
	})
	r.register(Definition{
		Name:        "get_segments",
		Description: "Fetch available segments with their IDs and profile counts.",
		Params:      map[string]ParamSpec{},
	})

	r.register(Definition{
		Name:        "create_list",
		Description: "Create a new subscriber list in Klaviyo. Requires explicit user approval before anything is created. Returns the new list ID.",
		Mutating:    true,
		Params: map[string]ParamSpec{
			"list_name": {
				Type:        TypeString,
				Description: "The name of the new list (e.g., 'VIP Customers')",
				Required:    true,
				NonEmpty:    true,
			},
		},
		Label: func(params map[string]any) string {
			return fmt.Sprintf("Create list %q", params["list_name"])
		},
	})

	r.register(Definition{
		Name:        "create_vip_audience",
		Description: "Create a new subscriber list and seed it with profiles for the given email addresses. Requires explicit user approval before anything is created.",
		Mutating:    true,
		Params: map[string]ParamSpec{
			"list_name": {
				Type:        TypeString,
				Description: "The name of the new list",
				Required:    true,
				NonEmpty:    true,
			},
			"emails": {
				Type:        TypeArray,
				Description: "Email addresses of the profiles to create and add to the list",
				Required:    true,
				MinItems:    1,
				MaxItems:    50,
				Item: &ParamSpec{
					Type:     TypeString,
					NonEmpty: true,
					Format:   "email",
				},
			},
		},
		Label: func(params map[string]any) string {
			emails, _ := params["emails"].([]string)
			return fmt.Sprintf("Create list %q and seed %d profiles", params["list_name"], len(emails))
		},
	})

	r.register(Definition{
		Name:        "create_campaign_draft",
		Description: "Create a draft email campaign targeting an existing list. The draft is never sent automatically. Requires explicit user approval.",
		Mutating:    true,
		Params: map[string]ParamSpec{
			"name": {
				Type:        TypeString,
				Description: "The campaign name",
				Required:    true,
				NonEmpty:    true,
			},
			"list_id": {
				Type:        TypeString,
				Description: "The ID of the audience list",
				Required:    true,
				NonEmpty:    true,
			},
			"subject": {
				Type:        TypeString,
				Description: "The email subject line",
				Required:    true,
				NonEmpty:    true,
			},
			"from_email": {
				Type:        TypeString,
				Description: "Sender address. Falls back to the account default when omitted.",
				Format:      "email",
			},
		},
		Label: func(params map[string]any) string {
			return fmt.Sprintf("Create draft campaign %q", params["name"])
		},
	})

	r.register(Definition{
		Name:        "create_template",
		Description: "Create an HTML email template in Klaviyo. Requires explicit user approval before anything is created.",
		Mutating:    true,
		Params: map[string]ParamSpec{
			"name": {
				Type:        TypeString,
				Description: "The template name",
				Required:    true,
				NonEmpty:    true,
			},
			"html": {
				Type:        TypeString,
				Description: "The template HTML body",
				Required:    true,
				NonEmpty:    true,
			},
		},
		Label: func(params map[string]any) string {
			return fmt.Sprintf("Create template %q", params["name"])
		},
	})

	return r
}

func (r *Registry) register(def Definition) {
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
}

// Lookup returns the definition for a tool name.
//
// Outputs:
//   - Definition: The tool definition.
//   - error: ErrUnknownTool (wrapped with the name) when undeclared.
func (r *Registry) Lookup(name string) (Definition, error) {
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return def, nil
}

// Names returns the catalog's tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions renders the catalog in provider wire form.
//
// Description:
//
//	Every schema carries "additionalProperties": false so a strict-schema
//	provider rejects invented fields on its side too. Required lists are
//	sorted for a stable wire representation.
func (r *Registry) Definitions() []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		def := r.defs[name]

		props := make(map[string]llm.ToolParamDef, len(def.Params))
		var required []string
		for pname, spec := range def.Params {
			props[pname] = wireParam(spec)
			if spec.Required {
				required = append(required, pname)
			}
		}
		sort.Strings(required)

		out = append(out, llm.ToolDef{
			Type: "function",
			Function: llm.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters: llm.ToolParameters{
					Type:                 "object",
					Properties:           props,
					Required:             required,
					AdditionalProperties: false,
				},
			},
		})
	}
	return out
}

func wireParam(spec ParamSpec) llm.ToolParamDef {
	out := llm.ToolParamDef{
		Type:        string(spec.Type),
		Description: spec.Description,
	}
	if spec.Item != nil {
		item := wireParam(*spec.Item)
		out.Items = &item
	}
	return out
}
