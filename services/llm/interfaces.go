// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import "context"

// GenerationParams carries optional sampling parameters for a model call.
//
// Thread Safety: GenerationParams is a value type. Safe to copy and share.
type GenerationParams struct {
	// Temperature overrides the model's default sampling temperature.
	Temperature *float32

	// MaxTokens caps the number of completion tokens.
	MaxTokens *int

	// ModelOverride selects a different model for this call only.
	ModelOverride string
}

// ToolCaller is the model-provider boundary consumed by the intent resolver.
//
// Description:
//
//	Implementations send a conversation plus a tool catalog to a language
//	model and return either free text or structured tool calls. The engine
//	treats the provider as a black box: no implementation may perform side
//	effects against the marketing platform.
//
// Thread Safety: Implementations must be safe for concurrent use.
type ToolCaller interface {
	// ChatWithTools sends the conversation with the tool catalog attached.
	ChatWithTools(ctx context.Context, messages []ChatMessage, params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error)

	// Chat sends the conversation without tools and returns plain text.
	// Used for summarizing execution traces into a final reply.
	Chat(ctx context.Context, messages []ChatMessage, params GenerationParams) (string, error)
}
