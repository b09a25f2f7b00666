// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package klaviyo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/nexuslabs/nexus/services/llm"
)

// Kind classifies an upstream failure.
//
// Description:
//
//	Every failed call against the marketing platform is mapped into exactly
//	one Kind. The session orchestrator converts the Kind into a labeled,
//	user-visible reply; nothing is retried automatically.
type Kind int

const (
	// KindTimeout: the call exceeded its configured deadline. Not retried.
	KindTimeout Kind = iota

	// KindAuthExpired: upstream returned 401. The caller must re-authenticate.
	KindAuthExpired

	// KindPermissionDenied: upstream returned 403. The credential lacks a scope.
	KindPermissionDenied

	// KindRejected: any other non-2xx response.
	KindRejected
)

// String returns the stable label recorded in proposal outcomes.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "UpstreamTimeout"
	case KindAuthExpired:
		return "AuthExpired"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindRejected:
		return "UpstreamRejected"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Classified is an upstream failure with its classification attached.
//
// Description:
//
//	Carries the upstream status code and a sanitized message for
//	diagnostics. Checked with errors.As at the orchestrator boundary.
//
// Thread Safety: Classified is immutable after construction.
type Classified struct {
	// Kind is the failure classification.
	Kind Kind

	// Operation names the attempted call (e.g., "create list").
	Operation string

	// StatusCode is the upstream HTTP status, or 0 for transport failures.
	StatusCode int

	// Message is a human-readable description. Secrets are redacted.
	Message string
}

// Error implements the error interface.
func (e *Classified) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("klaviyo: %s: %s (status %d): %s", e.Operation, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("klaviyo: %s: %s: %s", e.Operation, e.Kind, e.Message)
}

// apiErrorBody is the JSON:API error envelope returned by the platform.
type apiErrorBody struct {
	Errors []struct {
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// classifyTransport maps a transport-level error (no HTTP response) to a
// Classified error. Deadline expiry becomes KindTimeout; everything else is
// KindRejected with status 0.
func classifyTransport(op string, err error) *Classified {
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		return &Classified{
			Kind:      KindTimeout,
			Operation: op,
			Message:   "upstream call exceeded its deadline",
		}
	}
	return &Classified{
		Kind:      KindRejected,
		Operation: op,
		Message:   llm.SafeLogString(err.Error()),
	}
}

// classifyStatus maps a non-2xx HTTP response to a Classified error.
//
// Description:
//
//	401 is AuthExpired, 403 is PermissionDenied, everything else is
//	UpstreamRejected. For 403 the JSON:API error detail is surfaced so the
//	reply can name the missing capability when the platform reports one.
func classifyStatus(op string, status int, body []byte) *Classified {
	detail := extractDetail(body)

	switch status {
	case http.StatusUnauthorized:
		return &Classified{
			Kind:       KindAuthExpired,
			Operation:  op,
			StatusCode: status,
			Message:    "credential rejected by upstream, re-authentication required",
		}
	case http.StatusForbidden:
		msg := "credential lacks the required scope"
		if detail != "" {
			msg = fmt.Sprintf("insufficient permission: %s", detail)
		}
		return &Classified{
			Kind:       KindPermissionDenied,
			Operation:  op,
			StatusCode: status,
			Message:    msg,
		}
	default:
		msg := detail
		if msg == "" {
			msg = llm.SafeLogString(strings.TrimSpace(string(body)))
		}
		return &Classified{
			Kind:       KindRejected,
			Operation:  op,
			StatusCode: status,
			Message:    msg,
		}
	}
}

// extractDetail pulls the first error detail out of a JSON:API error body.
// Returns "" when the body is not a recognizable error envelope.
func extractDetail(body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if len(parsed.Errors) == 0 {
		return ""
	}
	e := parsed.Errors[0]
	if e.Detail != "" {
		return llm.SafeLogString(e.Detail)
	}
	return llm.SafeLogString(e.Title)
}
