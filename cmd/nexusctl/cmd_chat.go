// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Wire types mirroring the server's DTOs.

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Message string     `json:"message"`
	History []chatTurn `json:"history,omitempty"`
}

type pendingAction struct {
	ApprovalID string         `json:"approval_id"`
	Label      string         `json:"label"`
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params"`
}

type chatResponse struct {
	Content        string         `json:"content"`
	Trace          []string       `json:"trace,omitempty"`
	ActionRequired *pendingAction `json:"action_required,omitempty"`
}

type decideResponse struct {
	Content string   `json:"content"`
	State   string   `json:"state"`
	Trace   []string `json:"trace,omitempty"`
}

type proposalResponse struct {
	ApprovalID string         `json:"approval_id"`
	Tool       string         `json:"tool"`
	Label      string         `json:"label"`
	Params     map[string]any `json:"params"`
	State      string         `json:"state"`
	Outcome    *struct {
		Success     bool     `json:"success"`
		Summary     string   `json:"summary"`
		ErrorKind   string   `json:"error_kind,omitempty"`
		ResourceIDs []string `json:"resource_ids,omitempty"`
	} `json:"outcome,omitempty"`
}

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1)
	cardTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("41"))
	errStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

func runAskCommand(_ *cobra.Command, args []string) {
	message := strings.Join(args, " ")
	resp, err := sendChat(message, nil)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Println(resp.Content)
	if resp.ActionRequired != nil {
		fmt.Println()
		fmt.Println(renderApprovalCard(resp.ActionRequired))
		fmt.Println(dimStyle.Render("Decide with: nexusctl approval " + resp.ActionRequired.ApprovalID +
			" (or run 'nexusctl chat' for interactive approval)"))
	}
}

func runChatCommand(_ *cobra.Command, _ []string) {
	fmt.Println("Connected to " + getServerBaseURL() + ". Type 'exit' to quit.")
	scanner := bufio.NewScanner(os.Stdin)
	var history []chatTurn

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}
		if message == "exit" || message == "quit" || message == "q" {
			fmt.Println("Goodbye.")
			break
		}

		resp, err := sendChat(message, history)
		if err != nil {
			fmt.Println(errStyle.Render("Error: " + err.Error()))
			continue
		}

		fmt.Println()
		fmt.Println(resp.Content)
		history = append(history,
			chatTurn{Role: "user", Content: message},
			chatTurn{Role: "assistant", Content: resp.Content},
		)

		if resp.ActionRequired != nil {
			outcome := promptDecision(scanner, resp.ActionRequired)
			if outcome != "" {
				history = append(history, chatTurn{Role: "assistant", Content: outcome})
			}
		}
		fmt.Println()
	}
}

func runApprovalCommand(_ *cobra.Command, args []string) {
	p, err := fetchProposal(args[0])
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Printf("Proposal %s\n", p.ApprovalID)
	fmt.Printf("  Action: %s\n", p.Label)
	fmt.Printf("  Tool:   %s\n", p.Tool)
	fmt.Printf("  State:  %s\n", p.State)
	if p.Outcome != nil {
		status := okStyle.Render("succeeded")
		if !p.Outcome.Success {
			status = errStyle.Render("failed (" + p.Outcome.ErrorKind + ")")
		}
		fmt.Printf("  Result: %s\n", status)
		fmt.Printf("          %s\n", p.Outcome.Summary)
		if len(p.Outcome.ResourceIDs) > 0 {
			fmt.Printf("  Created resources: %s\n", strings.Join(p.Outcome.ResourceIDs, ", "))
		}
	}
}

// promptDecision renders the approval card and asks for y/N. It returns a
// line describing what happened, for the conversation history.
func promptDecision(scanner *bufio.Scanner, action *pendingAction) string {
	fmt.Println()
	fmt.Println(renderApprovalCard(action))
	fmt.Print("Approve this action? [y/N] ")

	if !scanner.Scan() {
		return ""
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))

	decision := "deny"
	if answer == "y" || answer == "yes" {
		decision = "approve"
	}

	resp, err := sendDecision(action.ApprovalID, decision)
	if err != nil {
		fmt.Println(errStyle.Render("Error: " + err.Error()))
		return ""
	}

	if decision == "approve" {
		fmt.Println(okStyle.Render(resp.Content))
	} else {
		fmt.Println(dimStyle.Render(resp.Content))
	}
	for _, line := range resp.Trace {
		fmt.Println(dimStyle.Render("  " + line))
	}
	return resp.Content
}

func renderApprovalCard(action *pendingAction) string {
	var b strings.Builder
	b.WriteString(cardTitleStyle.Render("APPROVAL REQUIRED"))
	b.WriteString("\n\n")
	b.WriteString(action.Label)
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("tool: " + action.Tool))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("id:   " + action.ApprovalID))

	if len(action.Params) > 0 {
		b.WriteString("\n")
		keys := make([]string, 0, len(action.Params))
		for k := range action.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("\n")
			b.WriteString(fmt.Sprintf("%s: %v", k, action.Params[k]))
		}
	}

	return cardStyle.Render(b.String())
}

// =============================================================================
// HTTP
// =============================================================================

func sendChat(message string, history []chatTurn) (*chatResponse, error) {
	payload, err := json.Marshal(chatRequest{Message: message, History: history})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var resp chatResponse
	if err := postJSON(getServerBaseURL()+"/api/chat", payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func sendDecision(approvalID, decision string) (*decideResponse, error) {
	payload, err := json.Marshal(map[string]string{"decision": decision})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	var resp decideResponse
	url := fmt.Sprintf("%s/api/approvals/%s/decide", getServerBaseURL(), approvalID)
	if err := postJSON(url, payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func fetchProposal(approvalID string) (*proposalResponse, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(fmt.Sprintf("%s/api/approvals/%s", getServerBaseURL(), approvalID))
	if err != nil {
		return nil, fmt.Errorf("server unavailable at %s: %w", getServerBaseURL(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	var p proposalResponse
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	return &p, nil
}

func postJSON(url string, payload []byte, out any) error {
	client := &http.Client{Timeout: 3 * time.Minute}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("server unavailable at %s: %w", getServerBaseURL(), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}
