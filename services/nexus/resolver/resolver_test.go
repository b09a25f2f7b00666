// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nexuslabs/nexus/services/llm"
	"github.com/nexuslabs/nexus/services/nexus/tools"
)

// fakeModel serves the OpenAI chat completions wire format with a canned
// response, recording each request body for assertions.
func fakeModel(t *testing.T, response string) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("malformed request body: %v", err)
		}
		requests = append(requests, body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func toolCallResponse(name, arguments string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []map[string]any{{
					"id":   "call_1",
					"type": "function",
					"function": map[string]any{
						"name":      name,
						"arguments": arguments,
					},
				}},
			},
			"finish_reason": "tool_calls",
		}},
	})
	return string(b)
}

func replyResponse(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(b)
}

func newTestResolver(t *testing.T, baseURL string) *Resolver {
	t.Helper()
	client := llm.NewOpenAIClientWithConfig("test-key", "gpt-4o-mini", baseURL)
	return New(client, tools.NewRegistry(), 5*time.Second, nil)
}

func TestResolve_Reply(t *testing.T) {
	srv, _ := fakeModel(t, replyResponse("You have 3 lists."))
	r := newTestResolver(t, srv.URL)

	intent, err := r.Resolve(context.Background(), nil, "how many lists do I have?")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if intent.Kind != KindReply {
		t.Fatalf("kind = %s, want reply", intent.Kind)
	}
	if intent.Reply != "You have 3 lists." {
		t.Errorf("reply = %q", intent.Reply)
	}
}

func TestResolve_Propose(t *testing.T) {
	srv, requests := fakeModel(t, toolCallResponse("create_list", `{"list_name":"VIP Customers"}`))
	r := newTestResolver(t, srv.URL)

	intent, err := r.Resolve(context.Background(), nil, "make me a VIP list")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if intent.Kind != KindPropose {
		t.Fatalf("kind = %s, want propose", intent.Kind)
	}
	if intent.ToolName != "create_list" {
		t.Errorf("tool = %q", intent.ToolName)
	}
	if intent.RawParams["list_name"] != "VIP Customers" {
		t.Errorf("params = %+v", intent.RawParams)
	}
	if !strings.Contains(intent.Label, "VIP Customers") {
		t.Errorf("label %q should name the list", intent.Label)
	}

	// The catalog sent upstream must include the approval relay tool.
	req := (*requests)[0]
	sent, ok := req["tools"].([]any)
	if !ok {
		t.Fatal("no tools in request")
	}
	found := false
	for _, raw := range sent {
		fn := raw.(map[string]any)["function"].(map[string]any)
		if fn["name"] == executeToolName {
			found = true
			params := fn["parameters"].(map[string]any)
			if params["additionalProperties"] != false {
				t.Error("approval relay schema must be strict")
			}
		}
	}
	if !found {
		t.Errorf("catalog missing %s", executeToolName)
	}
}

func TestResolve_ReadToolGetsNameLabel(t *testing.T) {
	srv, _ := fakeModel(t, toolCallResponse("get_lists", `{}`))
	r := newTestResolver(t, srv.URL)

	intent, err := r.Resolve(context.Background(), nil, "what lists do I have?")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if intent.Kind != KindPropose {
		t.Fatalf("kind = %s, want propose", intent.Kind)
	}
	if intent.Label != "get_lists" {
		t.Errorf("label = %q, want the tool name for read tools", intent.Label)
	}
}

func TestResolve_Execute(t *testing.T) {
	srv, _ := fakeModel(t, toolCallResponse(executeToolName, `{"approval_id":" abc-123 "}`))
	r := newTestResolver(t, srv.URL)

	intent, err := r.Resolve(context.Background(), nil, "approved: abc-123")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if intent.Kind != KindExecute {
		t.Fatalf("kind = %s, want execute", intent.Kind)
	}
	if intent.ApprovalID != "abc-123" {
		t.Errorf("approval id = %q", intent.ApprovalID)
	}
}

func TestResolve_ExecuteMissingApprovalID(t *testing.T) {
	srv, _ := fakeModel(t, toolCallResponse(executeToolName, `{}`))
	r := newTestResolver(t, srv.URL)

	_, err := r.Resolve(context.Background(), nil, "run it")
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected *ResolutionError, got %v", err)
	}
	if !strings.Contains(resErr.Reason, "approval_id") {
		t.Errorf("reason = %q", resErr.Reason)
	}
}

func TestResolve_UnknownTool(t *testing.T) {
	srv, _ := fakeModel(t, toolCallResponse("delete_account", `{}`))
	r := newTestResolver(t, srv.URL)

	_, err := r.Resolve(context.Background(), nil, "delete everything")
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected *ResolutionError, got %v", err)
	}
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Errorf("should wrap ErrUnknownTool, got %v", err)
	}
}

func TestResolve_MalformedArguments(t *testing.T) {
	srv, _ := fakeModel(t, toolCallResponse("create_list", `{"list_name":`))
	r := newTestResolver(t, srv.URL)

	_, err := r.Resolve(context.Background(), nil, "make a list")
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected *ResolutionError, got %v", err)
	}
	if !strings.Contains(resErr.Reason, "unparsable") {
		t.Errorf("reason = %q", resErr.Reason)
	}
}

func TestResolve_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(replyResponse("too late")))
	}))
	defer srv.Close()

	client := llm.NewOpenAIClientWithConfig("test-key", "gpt-4o-mini", srv.URL)
	r := New(client, tools.NewRegistry(), 50*time.Millisecond, nil)

	_, err := r.Resolve(context.Background(), nil, "hello")
	var resErr *ResolutionError
	if !errors.As(err, &resErr) {
		t.Fatalf("expected *ResolutionError, got %v", err)
	}
	if !strings.Contains(resErr.Reason, "timed out") {
		t.Errorf("reason = %q", resErr.Reason)
	}
}

func TestResolve_MultipleToolCallsKeepsFirst(t *testing.T) {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []map[string]any{
					{"id": "call_1", "type": "function", "function": map[string]any{
						"name": "create_list", "arguments": `{"list_name":"First"}`}},
					{"id": "call_2", "type": "function", "function": map[string]any{
						"name": "create_list", "arguments": `{"list_name":"Second"}`}},
				},
			},
			"finish_reason": "tool_calls",
		}},
	})
	srv, _ := fakeModel(t, string(b))
	r := newTestResolver(t, srv.URL)

	intent, err := r.Resolve(context.Background(), nil, "make two lists")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if intent.RawParams["list_name"] != "First" {
		t.Errorf("should keep the first call, got %+v", intent.RawParams)
	}
}

func TestSummarize_UsesModelReply(t *testing.T) {
	srv, requests := fakeModel(t, replyResponse("Your VIP list is ready."))
	r := newTestResolver(t, srv.URL)

	got := r.Summarize(context.Background(), nil, "make a VIP list", []string{`created list "VIP" (id L1)`})
	if got != "Your VIP list is ready." {
		t.Errorf("summary = %q", got)
	}
	// The summary pass is a plain chat call, no tools.
	if _, ok := (*requests)[0]["tools"]; ok {
		t.Error("summary request must not carry tools")
	}
}

func TestSummarize_FallsBackOnModelFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	r := newTestResolver(t, srv.URL)

	got := r.Summarize(context.Background(), nil, "make a VIP list", []string{`created list "VIP" (id L1)`})
	if !strings.Contains(got, `created list "VIP"`) {
		t.Errorf("fallback should surface the trace, got %q", got)
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{KindReply: "reply", KindPropose: "propose", KindExecute: "execute"}
	for k, want := range cases {
		if k.String() != want {
			t.Errorf("Kind(%d).String() = %q, want %q", int(k), k.String(), want)
		}
	}
}
