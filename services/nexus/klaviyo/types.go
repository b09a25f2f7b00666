// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package klaviyo

// =============================================================================
// JSON:API Wire Types
// =============================================================================

// resourceRequest is the generic JSON:API create envelope.
type resourceRequest struct {
	Data resourceData `json:"data"`
}

type resourceData struct {
	Type          string         `json:"type"`
	ID            string         `json:"id,omitempty"`
	Attributes    map[string]any `json:"attributes,omitempty"`
	Relationships map[string]any `json:"relationships,omitempty"`
}

// resourceResponse is the envelope for single-resource responses.
type resourceResponse struct {
	Data struct {
		Type       string         `json:"type"`
		ID         string         `json:"id"`
		Attributes map[string]any `json:"attributes"`
	} `json:"data"`
}

// listResponse is the envelope for collection responses.
type listResponse struct {
	Data []struct {
		Type       string         `json:"type"`
		ID         string         `json:"id"`
		Attributes map[string]any `json:"attributes"`
	} `json:"data"`
}

// relationshipRequest is the envelope for relationship mutations
// (e.g., adding profiles to a list).
type relationshipRequest struct {
	Data []relationshipRef `json:"data"`
}

type relationshipRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// =============================================================================
// Read Summaries
// =============================================================================

// AccountSummary describes the connected account.
type AccountSummary struct {
	ID           string
	Organization string
	Timezone     string
}

// CampaignSummary describes one marketing campaign.
type CampaignSummary struct {
	ID     string
	Name   string
	Status string
}

// ListSummary describes one subscriber list.
type ListSummary struct {
	ID           string
	Name         string
	ProfileCount int
}

// SegmentSummary describes one segment.
type SegmentSummary struct {
	ID           string
	Name         string
	ProfileCount int
}

// CampaignDraft is the input for creating a draft email campaign.
//
// FromEmail must already be resolved by the caller; the client never applies
// defaults of its own.
type CampaignDraft struct {
	Name      string
	ListID    string
	Subject   string
	FromEmail string
}
