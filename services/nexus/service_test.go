// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nexus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexuslabs/nexus/services/llm"
	"github.com/nexuslabs/nexus/services/nexus/executor"
	"github.com/nexuslabs/nexus/services/nexus/klaviyo"
	"github.com/nexuslabs/nexus/services/nexus/ledger"
	"github.com/nexuslabs/nexus/services/nexus/resolver"
	"github.com/nexuslabs/nexus/services/nexus/tools"
)

// scriptedModel serves canned OpenAI responses in order, one per request.
type scriptedModel struct {
	mu        sync.Mutex
	responses []string
}

func (m *scriptedModel) next() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.responses) == 0 {
		return modelReply("(no scripted response)")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp
}

func modelReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(b)
}

func modelToolCall(name, arguments string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"role":    "assistant",
				"content": "",
				"tool_calls": []map[string]any{{
					"id":   "call_1",
					"type": "function",
					"function": map[string]any{"name": name, "arguments": arguments},
				}},
			},
			"finish_reason": "tool_calls",
		}},
	})
	return string(b)
}

// upstreamCounter is a fake marketing platform that counts mutating calls.
type upstreamCounter struct {
	mutations         atomic.Int32
	reads             atomic.Int32
	forbidden         atomic.Bool
	failRelationships atomic.Bool
}

func (u *upstreamCounter) handler() http.Handler {
	var nextID atomic.Int32
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			u.reads.Add(1)
			w.Write([]byte(`{"data":[{"type":"list","id":"L1","attributes":{"name":"VIP","profile_count":3}}]}`))
			return
		}
		u.mutations.Add(1)
		if u.forbidden.Load() {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"errors":[{"code":"forbidden","title":"Forbidden","detail":"missing lists:write scope"}]}`))
			return
		}
		if strings.Contains(r.URL.Path, "/relationships/") {
			if u.failRelationships.Load() {
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"errors":[{"code":"forbidden","title":"Forbidden","detail":"missing lists:write scope"}]}`))
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"data":{"type":"x","id":"R%d"}}`, nextID.Add(1))
	})
}

type testEnv struct {
	service  *Service
	model    *scriptedModel
	upstream *upstreamCounter
	store    ledger.Store
}

func newTestEnv(t *testing.T, execCfg executor.Config) *testEnv {
	t.Helper()

	model := &scriptedModel{}
	modelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(model.next()))
	}))
	t.Cleanup(modelSrv.Close)

	upstream := &upstreamCounter{}
	upstreamSrv := httptest.NewServer(upstream.handler())
	t.Cleanup(upstreamSrv.Close)

	registry := tools.NewRegistry()
	caller := llm.NewOpenAIClientWithConfig("test-key", "gpt-4o-mini", modelSrv.URL)
	res := resolver.New(caller, registry, 5*time.Second, nil)

	client := klaviyo.NewClient(klaviyo.Config{
		BaseURL:     upstreamSrv.URL,
		CallTimeout: 2 * time.Second,
	}, klaviyo.StaticCredential("pk_test"))
	exec := executor.New(client, execCfg, nil)

	store := ledger.NewMemoryStore(ledger.DefaultMemoryConfig())
	t.Cleanup(func() { store.Close() })

	return &testEnv{
		service:  NewService(res, registry, store, exec, nil),
		model:    model,
		upstream: upstream,
		store:    store,
	}
}

func (e *testEnv) script(responses ...string) {
	e.model.mu.Lock()
	defer e.model.mu.Unlock()
	e.model.responses = append(e.model.responses, responses...)
}

func TestHandle_PlainReply(t *testing.T) {
	env := newTestEnv(t, executor.Config{})
	env.script(modelReply("Hello! Ask me about your lists or campaigns."))

	result, err := env.service.Handle(context.Background(), nil, "hi")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result.ActionRequired != nil {
		t.Error("plain reply must not require action")
	}
	if !strings.Contains(result.Content, "Hello") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestHandle_MutatingToolBecomesProposal(t *testing.T) {
	env := newTestEnv(t, executor.Config{})
	env.script(modelToolCall("create_list", `{"list_name":"VIP Customers"}`))

	result, err := env.service.Handle(context.Background(), nil, "make me a VIP list")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result.ActionRequired == nil {
		t.Fatal("mutating tool must produce a pending action")
	}
	if result.ActionRequired.Tool != "create_list" {
		t.Errorf("tool = %q", result.ActionRequired.Tool)
	}
	if !strings.Contains(result.Content, result.ActionRequired.ApprovalID) {
		t.Error("reply should surface the approval id")
	}
	// The whole point: nothing hit the platform.
	if env.upstream.mutations.Load() != 0 {
		t.Errorf("mutating upstream calls = %d, want 0", env.upstream.mutations.Load())
	}

	p, err := env.store.Get(result.ActionRequired.ApprovalID)
	if err != nil {
		t.Fatalf("proposal not in ledger: %v", err)
	}
	if p.State != ledger.StatePending {
		t.Errorf("state = %s, want pending", p.State)
	}
}

func TestHandle_ReadToolExecutesImmediately(t *testing.T) {
	env := newTestEnv(t, executor.Config{})
	env.script(
		modelToolCall("get_lists", `{}`),
		modelReply("You have one list, VIP, with 3 profiles."),
	)

	result, err := env.service.Handle(context.Background(), nil, "what lists do I have?")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result.ActionRequired != nil {
		t.Error("read tools never need approval")
	}
	if env.upstream.reads.Load() != 1 {
		t.Errorf("read calls = %d, want 1", env.upstream.reads.Load())
	}
	if env.upstream.mutations.Load() != 0 {
		t.Error("read turn must not mutate")
	}
	if !strings.Contains(result.Content, "VIP") {
		t.Errorf("content = %q", result.Content)
	}
}

func TestHandle_ValidationFailureNamesFields(t *testing.T) {
	env := newTestEnv(t, executor.Config{})
	env.script(modelToolCall("create_campaign_draft", `{"name":"","from_email":"not-an-email"}`))

	result, err := env.service.Handle(context.Background(), nil, "draft a campaign")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if result.ActionRequired != nil {
		t.Error("invalid params must not become a proposal")
	}
	for _, field := range []string{"name", "from_email", "list_id", "subject"} {
		if !strings.Contains(result.Content, field) {
			t.Errorf("reply should name offending field %q: %q", field, result.Content)
		}
	}
}

func TestDecideAndExecute_ApproveRunsExactlyOnce(t *testing.T) {
	env := newTestEnv(t, executor.Config{})
	env.script(modelToolCall("create_list", `{"list_name":"VIP"}`))

	result, _ := env.service.Handle(context.Background(), nil, "make a VIP list")
	id := result.ActionRequired.ApprovalID

	decided, err := env.service.DecideAndExecute(context.Background(), id, ledger.DecisionApprove)
	if err != nil {
		t.Fatalf("DecideAndExecute failed: %v", err)
	}
	if !strings.Contains(decided.Content, "VIP") {
		t.Errorf("content = %q", decided.Content)
	}
	if env.upstream.mutations.Load() != 1 {
		t.Errorf("mutating calls = %d, want 1", env.upstream.mutations.Load())
	}

	p, _ := env.store.Get(id)
	if p.State != ledger.StateExecuted {
		t.Errorf("state = %s, want executed", p.State)
	}
	if p.Outcome == nil || !p.Outcome.Success {
		t.Errorf("outcome = %+v", p.Outcome)
	}

	// A second decision is refused and nothing runs again.
	if _, err := env.service.DecideAndExecute(context.Background(), id, ledger.DecisionApprove); !errors.Is(err, ledger.ErrAlreadyDecided) {
		t.Fatalf("expected ErrAlreadyDecided, got %v", err)
	}
	if env.upstream.mutations.Load() != 1 {
		t.Errorf("mutating calls after replay = %d, want still 1", env.upstream.mutations.Load())
	}
}

func TestDecideAndExecute_Deny(t *testing.T) {
	env := newTestEnv(t, executor.Config{})
	env.script(modelToolCall("create_list", `{"list_name":"VIP"}`))

	result, _ := env.service.Handle(context.Background(), nil, "make a VIP list")
	id := result.ActionRequired.ApprovalID

	decided, err := env.service.DecideAndExecute(context.Background(), id, ledger.DecisionDeny)
	if err != nil {
		t.Fatalf("DecideAndExecute failed: %v", err)
	}
	if decided.Content != "Action cancelled." {
		t.Errorf("content = %q", decided.Content)
	}
	if env.upstream.mutations.Load() != 0 {
		t.Errorf("mutating calls = %d, want 0", env.upstream.mutations.Load())
	}

	p, _ := env.store.Get(id)
	if p.State != ledger.StateDenied {
		t.Errorf("state = %s, want denied", p.State)
	}
}

func TestHandle_FreeTextNeverApproves(t *testing.T) {
	env := newTestEnv(t, executor.Config{})
	env.script(modelToolCall("create_list", `{"list_name":"VIP"}`))

	result, _ := env.service.Handle(context.Background(), nil, "make a VIP list")
	id := result.ActionRequired.ApprovalID

	// The user says yes in chat and the model dutifully relays the id; the
	// proposal is still pending, so nothing may run.
	env.script(modelToolCall("execute_approved_action", fmt.Sprintf(`{"approval_id":"%s"}`, id)))
	reply, err := env.service.Handle(context.Background(), nil, "yes, do it: "+id)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !strings.Contains(reply.Content, "awaiting approval") {
		t.Errorf("reply = %q", reply.Content)
	}
	if env.upstream.mutations.Load() != 0 {
		t.Errorf("mutating calls = %d, want 0", env.upstream.mutations.Load())
	}

	p, _ := env.store.Get(id)
	if p.State != ledger.StatePending {
		t.Errorf("state = %s, want still pending", p.State)
	}
}

func TestHandle_ExecuteAfterApprovalReportsDone(t *testing.T) {
	env := newTestEnv(t, executor.Config{})
	env.script(modelToolCall("create_list", `{"list_name":"VIP"}`))

	result, _ := env.service.Handle(context.Background(), nil, "make a VIP list")
	id := result.ActionRequired.ApprovalID
	env.service.DecideAndExecute(context.Background(), id, ledger.DecisionApprove)

	env.script(modelToolCall("execute_approved_action", fmt.Sprintf(`{"approval_id":"%s"}`, id)))
	reply, err := env.service.Handle(context.Background(), nil, "run "+id)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !strings.Contains(reply.Content, "already been carried out") {
		t.Errorf("reply = %q", reply.Content)
	}
	if env.upstream.mutations.Load() != 1 {
		t.Errorf("mutating calls = %d, want still 1", env.upstream.mutations.Load())
	}
}

func TestHandle_UnknownApprovalID(t *testing.T) {
	env := newTestEnv(t, executor.Config{})
	env.script(modelToolCall("execute_approved_action", `{"approval_id":"gone-123"}`))

	reply, err := env.service.Handle(context.Background(), nil, "run gone-123")
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !strings.Contains(reply.Content, "gone-123") || !strings.Contains(reply.Content, "expired") {
		t.Errorf("reply = %q", reply.Content)
	}
}

func TestDecideAndExecute_UpstreamForbidden(t *testing.T) {
	env := newTestEnv(t, executor.Config{})
	env.script(modelToolCall("create_list", `{"list_name":"VIP"}`))

	result, _ := env.service.Handle(context.Background(), nil, "make a VIP list")
	id := result.ActionRequired.ApprovalID

	env.upstream.forbidden.Store(true)
	decided, err := env.service.DecideAndExecute(context.Background(), id, ledger.DecisionApprove)
	if err != nil {
		t.Fatalf("taxonomy errors become replies, got error: %v", err)
	}
	if !strings.Contains(decided.Content, "refused") {
		t.Errorf("content = %q", decided.Content)
	}

	p, _ := env.store.Get(id)
	if p.State != ledger.StateFailed {
		t.Errorf("state = %s, want failed", p.State)
	}
	if p.Outcome == nil || p.Outcome.ErrorKind != "PermissionDenied" {
		t.Errorf("outcome = %+v", p.Outcome)
	}
}

func TestDecideAndExecute_MissingSenderConfiguration(t *testing.T) {
	env := newTestEnv(t, executor.Config{}) // no DefaultFromEmail
	env.script(modelToolCall("create_campaign_draft", `{"name":"Spring Sale","list_id":"L1","subject":"Hi"}`))

	result, _ := env.service.Handle(context.Background(), nil, "draft the spring campaign")
	id := result.ActionRequired.ApprovalID

	decided, err := env.service.DecideAndExecute(context.Background(), id, ledger.DecisionApprove)
	if err != nil {
		t.Fatalf("DecideAndExecute failed: %v", err)
	}
	if !strings.Contains(decided.Content, "from_email") {
		t.Errorf("content = %q", decided.Content)
	}
	if env.upstream.mutations.Load() != 0 {
		t.Error("missing configuration must fail before any upstream call")
	}

	p, _ := env.store.Get(id)
	if p.State != ledger.StateFailed || p.Outcome.ErrorKind != "MissingRequiredConfiguration" {
		t.Errorf("proposal = %+v outcome = %+v", p, p.Outcome)
	}
}

func TestDecideAndExecute_PartialFailureRecordsResources(t *testing.T) {
	env := newTestEnv(t, executor.Config{})
	env.script(modelToolCall("create_vip_audience", `{"list_name":"VIP","emails":["a@example.com"]}`))

	result, _ := env.service.Handle(context.Background(), nil, "VIP audience for a@example.com")
	id := result.ActionRequired.ApprovalID

	// List and profile creation succeed; the final membership call is
	// refused. The proposal fails but the created resources are recorded.
	env.upstream.failRelationships.Store(true)
	decided, err := env.service.DecideAndExecute(context.Background(), id, ledger.DecisionApprove)
	if err != nil {
		t.Fatalf("DecideAndExecute failed: %v", err)
	}
	if !strings.Contains(decided.Content, "refused") {
		t.Errorf("content = %q", decided.Content)
	}

	p, _ := env.store.Get(id)
	if p.State != ledger.StateFailed {
		t.Errorf("state = %s, want failed", p.State)
	}
	if p.Outcome == nil || len(p.Outcome.ResourceIDs) != 2 {
		t.Errorf("outcome = %+v, want list + profile ids recorded", p.Outcome)
	}
}
