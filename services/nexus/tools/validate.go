// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package tools

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownTool is returned by Lookup and Validate for undeclared tool names.
var ErrUnknownTool = errors.New("tools: unknown tool")

// formatChecker backs the Format constraint (email today, nothing else).
var formatChecker = validator.New()

// FieldError names one offending field and the reason it was rejected.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError reports every schema violation found in one invocation.
//
// Description:
//
//	Collects all offending fields rather than stopping at the first, so the
//	user (and the model, on a follow-up turn) sees the complete problem in
//	one reply. A local error: it is raised before any upstream call.
//
// Thread Safety: ValidationError is immutable after construction.
type ValidationError struct {
	// Tool is the tool whose schema was violated.
	Tool string `json:"tool"`

	// Fields lists the offending fields, sorted by name.
	Fields []FieldError `json:"fields"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Reason))
	}
	return fmt.Sprintf("tools: invalid parameters for %s: %s", e.Tool, strings.Join(parts, "; "))
}

// Validate checks a proposed parameter mapping against a tool's schema.
//
// Description:
//
//	The single choke point for every tool invocation. Checks, in order:
//	every required parameter is present; no parameter outside the declared
//	set is present; each present parameter matches its declared type and
//	constraints. The only coercions performed are declared normalizations:
//	JSON numbers with integral values become int for TypeInteger, and
//	arrays of strings become []string.
//
// Inputs:
//   - name: The tool name.
//   - raw: The proposed parameters, exactly as parsed from the model output.
//
// Outputs:
//   - map[string]any: The normalized parameter mapping, newly allocated.
//   - error: ErrUnknownTool, or *ValidationError naming every offending field.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) Validate(name string, raw map[string]any) (map[string]any, error) {
	def, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}

	var fields []FieldError
	normalized := make(map[string]any, len(raw))

	for pname, spec := range def.Params {
		value, present := raw[pname]
		if !present {
			if spec.Required {
				fields = append(fields, FieldError{Field: pname, Reason: "required parameter is missing"})
			}
			continue
		}
		norm, reason := checkValue(pname, spec, value)
		if reason != "" {
			fields = append(fields, FieldError{Field: pname, Reason: reason})
			continue
		}
		normalized[pname] = norm
	}

	// Reject-unknown-fields policy: anything outside the declared set fails
	// validation, it is never silently dropped.
	for pname := range raw {
		if _, declared := def.Params[pname]; !declared {
			fields = append(fields, FieldError{Field: pname, Reason: "parameter is not declared in the tool schema"})
		}
	}

	if len(fields) > 0 {
		sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
		return nil, &ValidationError{Tool: name, Fields: fields}
	}
	return normalized, nil
}

// checkValue validates one value against a spec. Returns the normalized value
// and an empty reason on success, or a non-empty rejection reason.
func checkValue(field string, spec ParamSpec, value any) (any, string) {
	switch spec.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Sprintf("expected string, got %T", value)
		}
		if spec.NonEmpty && s == "" {
			return nil, "must not be empty"
		}
		if spec.Format == "email" && s != "" {
			if err := formatChecker.Var(s, "email"); err != nil {
				return nil, "must be a valid email address"
			}
		}
		return s, ""

	case TypeInteger:
		f, ok := value.(float64)
		if !ok {
			if i, isInt := value.(int); isInt {
				f = float64(i)
			} else {
				return nil, fmt.Sprintf("expected integer, got %T", value)
			}
		}
		if f != math.Trunc(f) {
			return nil, "expected integer, got fractional number"
		}
		if reason := checkRange(spec, f); reason != "" {
			return nil, reason
		}
		return int(f), ""

	case TypeNumber:
		f, ok := value.(float64)
		if !ok {
			return nil, fmt.Sprintf("expected number, got %T", value)
		}
		if reason := checkRange(spec, f); reason != "" {
			return nil, reason
		}
		return f, ""

	case TypeBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Sprintf("expected boolean, got %T", value)
		}
		return b, ""

	case TypeArray:
		items, ok := value.([]any)
		if !ok {
			return nil, fmt.Sprintf("expected array, got %T", value)
		}
		if len(items) < spec.MinItems {
			return nil, fmt.Sprintf("must contain at least %d item(s)", spec.MinItems)
		}
		if spec.MaxItems > 0 && len(items) > spec.MaxItems {
			return nil, fmt.Sprintf("must contain at most %d item(s)", spec.MaxItems)
		}
		if spec.Item == nil {
			return items, ""
		}
		normalized := make([]any, 0, len(items))
		for i, item := range items {
			norm, reason := checkValue(field, *spec.Item, item)
			if reason != "" {
				return nil, fmt.Sprintf("item %d: %s", i, reason)
			}
			normalized = append(normalized, norm)
		}
		if spec.Item.Type == TypeString {
			strs := make([]string, len(normalized))
			for i, v := range normalized {
				strs[i] = v.(string)
			}
			return strs, ""
		}
		return normalized, ""

	default:
		return nil, fmt.Sprintf("unsupported parameter type %q", spec.Type)
	}
}

func checkRange(spec ParamSpec, f float64) string {
	if spec.Min != nil && f < *spec.Min {
		return fmt.Sprintf("must be >= %v", *spec.Min)
	}
	if spec.Max != nil && f > *spec.Max {
		return fmt.Sprintf("must be <= %v", *spec.Max)
	}
	return ""
}
