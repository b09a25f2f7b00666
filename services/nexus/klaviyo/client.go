// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package klaviyo is the upstream boundary of the engine: a JSON-over-HTTP
// client for the marketing platform's resource endpoints (lists, profiles,
// list memberships, campaigns, templates, segments, accounts).
//
// The client interprets only status codes and minimal JSON fields (created
// resource id, error detail). Every call carries an explicit per-call timeout
// and every failure is classified into exactly one Kind (see errors.go).
// Nothing here retries, and nothing here decides whether a call is allowed;
// approval gating lives entirely above this package.
package klaviyo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

const (
	defaultBaseURL = "https://a.klaviyo.com"

	// apiRevision pins the upstream API revision header.
	apiRevision = "2024-10-15"
)

// CredentialSource supplies a valid bearer credential for the platform.
//
// Description:
//
//	The auth/session provider boundary. Credential refresh is out of scope
//	for the engine: when the credential is rejected the call is classified
//	as AuthExpired and the caller must re-authenticate.
//
// Thread Safety: Implementations must be safe for concurrent use.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticCredential is a CredentialSource backed by a fixed token.
type StaticCredential string

// Token returns the fixed token.
func (s StaticCredential) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("klaviyo: no credential configured")
	}
	return string(s), nil
}

// EnvCredential reads the token from KLAVIYO_API_KEY on every call, so a
// rotated key takes effect without a restart.
type EnvCredential struct{}

// Token returns the current value of KLAVIYO_API_KEY.
func (EnvCredential) Token(ctx context.Context) (string, error) {
	token := os.Getenv("KLAVIYO_API_KEY")
	if token == "" {
		return "", fmt.Errorf("klaviyo: KLAVIYO_API_KEY is not set")
	}
	return token, nil
}

// Config holds client configuration.
//
// Thread Safety: Config is a value type. Safe to copy and share.
type Config struct {
	// BaseURL is the platform API origin.
	BaseURL string

	// CallTimeout bounds each individual HTTP call.
	CallTimeout time.Duration

	// RateLimitsPerMin maps endpoint families to per-minute request caps.
	// Empty means no client-side limiting.
	RateLimitsPerMin map[string]int
}

// DefaultConfig returns the client defaults: 10s per call, no rate limits.
func DefaultConfig() Config {
	return Config{
		BaseURL:     defaultBaseURL,
		CallTimeout: 10 * time.Second,
	}
}

// Client issues JSON:API calls against the marketing platform.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	creds      CredentialSource
	baseURL    string
	timeout    time.Duration
	limiter    *RateLimiter
}

// NewClient creates a Client from configuration and a credential source.
func NewClient(cfg Config, creds CredentialSource) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		httpClient: &http.Client{},
		creds:      creds,
		baseURL:    baseURL,
		timeout:    timeout,
		limiter:    NewRateLimiter(cfg.RateLimitsPerMin),
	}
}

// =============================================================================
// Mutating Operations
// =============================================================================

// CreateList creates a subscriber list and returns its id.
func (c *Client) CreateList(ctx context.Context, name string) (string, error) {
	payload := resourceRequest{Data: resourceData{
		Type:       "list",
		Attributes: map[string]any{"name": name},
	}}
	var out resourceResponse
	if err := c.do(ctx, "create list", "lists", http.MethodPost, "/api/lists/", nil, payload, &out, http.StatusCreated); err != nil {
		return "", err
	}
	return out.Data.ID, nil
}

// CreateProfile creates a profile for the given email and returns its id.
func (c *Client) CreateProfile(ctx context.Context, email string) (string, error) {
	payload := resourceRequest{Data: resourceData{
		Type:       "profile",
		Attributes: map[string]any{"email": email},
	}}
	var out resourceResponse
	if err := c.do(ctx, "create profile", "profiles", http.MethodPost, "/api/profiles/", nil, payload, &out, http.StatusCreated); err != nil {
		return "", err
	}
	return out.Data.ID, nil
}

// AddProfilesToList attaches the given profiles to a list.
func (c *Client) AddProfilesToList(ctx context.Context, listID string, profileIDs []string) error {
	refs := make([]relationshipRef, 0, len(profileIDs))
	for _, id := range profileIDs {
		refs = append(refs, relationshipRef{Type: "profile", ID: id})
	}
	payload := relationshipRequest{Data: refs}
	path := fmt.Sprintf("/api/lists/%s/relationships/profiles/", url.PathEscape(listID))
	return c.do(ctx, "add profiles to list", "lists", http.MethodPost, path, nil, payload, nil, http.StatusNoContent)
}

// CreateCampaign creates a draft email campaign and returns its id.
//
// The draft's FromEmail must already be resolved; missing-configuration
// fallbacks are the executor's concern.
func (c *Client) CreateCampaign(ctx context.Context, draft CampaignDraft) (string, error) {
	payload := resourceRequest{Data: resourceData{
		Type: "campaign",
		Attributes: map[string]any{
			"name": draft.Name,
			"audiences": map[string]any{
				"included": []string{draft.ListID},
			},
			"campaign-messages": map[string]any{
				"data": []map[string]any{
					{
						"type": "campaign-message",
						"attributes": map[string]any{
							"channel": "email",
							"content": map[string]any{
								"subject":    draft.Subject,
								"from_email": draft.FromEmail,
							},
						},
					},
				},
			},
		},
	}}
	var out resourceResponse
	if err := c.do(ctx, "create campaign", "campaigns", http.MethodPost, "/api/campaigns/", nil, payload, &out, http.StatusCreated); err != nil {
		return "", err
	}
	return out.Data.ID, nil
}

// CreateTemplate creates an HTML email template and returns its id.
func (c *Client) CreateTemplate(ctx context.Context, name, html string) (string, error) {
	payload := resourceRequest{Data: resourceData{
		Type: "template",
		Attributes: map[string]any{
			"name":        name,
			"editor_type": "CODE",
			"html":        html,
		},
	}}
	var out resourceResponse
	if err := c.do(ctx, "create template", "templates", http.MethodPost, "/api/templates/", nil, payload, &out, http.StatusCreated); err != nil {
		return "", err
	}
	return out.Data.ID, nil
}

// =============================================================================
// Read Operations
// =============================================================================

// GetAccounts returns the connected account details.
func (c *Client) GetAccounts(ctx context.Context) ([]AccountSummary, error) {
	var out listResponse
	if err := c.do(ctx, "get accounts", "accounts", http.MethodGet, "/api/accounts/", nil, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	accounts := make([]AccountSummary, 0, len(out.Data))
	for _, item := range out.Data {
		summary := AccountSummary{ID: item.ID}
		if contact, ok := item.Attributes["contact_information"].(map[string]any); ok {
			summary.Organization, _ = contact["organization_name"].(string)
		}
		summary.Timezone, _ = item.Attributes["timezone"].(string)
		accounts = append(accounts, summary)
	}
	return accounts, nil
}

// GetCampaigns returns recent email campaigns with their status.
func (c *Client) GetCampaigns(ctx context.Context) ([]CampaignSummary, error) {
	query := url.Values{"filter": {"equals(messages.channel,'email')"}}
	var out listResponse
	if err := c.do(ctx, "get campaigns", "campaigns", http.MethodGet, "/api/campaigns/", query, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	campaigns := make([]CampaignSummary, 0, len(out.Data))
	for _, item := range out.Data {
		name, _ := item.Attributes["name"].(string)
		status, _ := item.Attributes["status"].(string)
		campaigns = append(campaigns, CampaignSummary{ID: item.ID, Name: name, Status: status})
	}
	return campaigns, nil
}

// GetLists returns existing subscriber lists with profile counts.
func (c *Client) GetLists(ctx context.Context) ([]ListSummary, error) {
	var out listResponse
	if err := c.do(ctx, "get lists", "lists", http.MethodGet, "/api/lists/", nil, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	lists := make([]ListSummary, 0, len(out.Data))
	for _, item := range out.Data {
		name, _ := item.Attributes["name"].(string)
		count, _ := item.Attributes["profile_count"].(float64)
		lists = append(lists, ListSummary{ID: item.ID, Name: name, ProfileCount: int(count)})
	}
	return lists, nil
}

// GetSegments returns available segments with profile counts.
func (c *Client) GetSegments(ctx context.Context) ([]SegmentSummary, error) {
	var out listResponse
	if err := c.do(ctx, "get segments", "segments", http.MethodGet, "/api/segments/", nil, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	segments := make([]SegmentSummary, 0, len(out.Data))
	for _, item := range out.Data {
		name, _ := item.Attributes["name"].(string)
		count, _ := item.Attributes["profile_count"].(float64)
		segments = append(segments, SegmentSummary{ID: item.ID, Name: name, ProfileCount: int(count)})
	}
	return segments, nil
}

// =============================================================================
// Transport
// =============================================================================

// do issues one HTTP call with rate limiting, credential injection, an
// explicit per-call timeout, and error classification.
//
// Inputs:
//   - op: Human-readable operation name used in classified errors.
//   - family: Endpoint family for the rate limiter.
//   - wantStatus: The single status code treated as success.
//   - out: Optional response target; ignored when nil.
//
// Outputs:
//   - error: Nil on success, otherwise a *Classified error.
func (c *Client) do(ctx context.Context, op, family, method, path string,
	query url.Values, payload any, out any, wantStatus int) error {

	if allowed, retryAfter := c.limiter.Allow(family); !allowed {
		return &Classified{
			Kind:       KindRejected,
			Operation:  op,
			StatusCode: http.StatusTooManyRequests,
			Message:    fmt.Sprintf("client-side rate limit for %s reached, retry in %s", family, retryAfter.Round(time.Millisecond)),
		}
	}

	token, err := c.creds.Token(ctx)
	if err != nil {
		return &Classified{
			Kind:      KindAuthExpired,
			Operation: op,
			Message:   err.Error(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return &Classified{Kind: KindRejected, Operation: op, Message: fmt.Sprintf("marshaling request: %v", err)}
		}
		body = bytes.NewReader(raw)
	}

	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return &Classified{Kind: KindRejected, Operation: op, Message: fmt.Sprintf("creating request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("revision", apiRevision)
	req.Header.Set("accept", "application/json")
	if payload != nil {
		req.Header.Set("content-type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("Upstream call failed",
			slog.String("operation", op),
			slog.String("error", err.Error()),
			slog.Duration("duration", time.Since(start)),
		)
		return classifyTransport(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Classified{Kind: KindRejected, Operation: op, Message: fmt.Sprintf("reading response: %v", err)}
	}

	slog.Debug("Upstream call completed",
		slog.String("operation", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode != wantStatus {
		return classifyStatus(op, resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return &Classified{
				Kind:       KindRejected,
				Operation:  op,
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("parsing response JSON: %v", err),
			}
		}
	}
	return nil
}
