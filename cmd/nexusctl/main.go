// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command nexusctl is the operator console for the proposal engine.
//
// Usage:
//
//	nexusctl ask "what lists do I have?"
//	nexusctl chat
//	nexusctl approval <id>
//
// The server address defaults to http://localhost:8080 and can be overridden
// with --server or NEXUS_SERVER_URL.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var serverFlag string

func getServerBaseURL() string {
	if serverFlag != "" {
		return serverFlag
	}
	if url := os.Getenv("NEXUS_SERVER_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "nexusctl",
		Short: "Operator console for the Nexus proposal engine",
		Long: "nexusctl talks to a running nexus server. Read-only questions are\n" +
			"answered directly; actions that change the account come back as\n" +
			"proposals, which you approve or deny from the prompt.",
	}
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "", "Nexus server URL (default http://localhost:8080)")

	askCmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send a single message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand,
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat loop with inline approval prompts",
		Run:   runChatCommand,
	}

	approvalCmd := &cobra.Command{
		Use:   "approval [id]",
		Short: "Show a proposal's state and outcome",
		Args:  cobra.ExactArgs(1),
		Run:   runApprovalCommand,
	}

	rootCmd.AddCommand(askCmd, chatCmd, approvalCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
