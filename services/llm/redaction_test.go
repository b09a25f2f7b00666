// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"strings"
	"testing"
)

func TestSafeLogString_OpenAIKey(t *testing.T) {
	in := "error: sk-abcdefghijklmnopqrstuvwxyz123456 returned 401"
	out := SafeLogString(in)
	if strings.Contains(out, "sk-abcdef") {
		t.Errorf("OpenAI key not redacted: %s", out)
	}
	if !strings.Contains(out, "[REDACTED:openai_key]") {
		t.Errorf("missing redaction label: %s", out)
	}
}

func TestSafeLogString_KlaviyoKey(t *testing.T) {
	out := SafeLogString("auth failed for pk_abcdefghij0123456789abcdef")
	if strings.Contains(out, "pk_abcdefghij") {
		t.Errorf("Klaviyo key not redacted: %s", out)
	}
	if !strings.Contains(out, "[REDACTED:klaviyo_key]") {
		t.Errorf("missing redaction label: %s", out)
	}
}

func TestSafeLogString_BearerToken(t *testing.T) {
	out := SafeLogString("header was: Bearer abc123def456ghi789")
	if strings.Contains(out, "abc123def456") {
		t.Errorf("bearer token not redacted: %s", out)
	}
}

func TestSafeLogString_CleanInput(t *testing.T) {
	in := "upstream returned 503 for /api/lists/"
	if out := SafeLogString(in); out != in {
		t.Errorf("clean input modified: %s", out)
	}
}

func TestSafeLogString_Empty(t *testing.T) {
	if out := SafeLogString(""); out != "" {
		t.Errorf("empty input should stay empty, got %q", out)
	}
}
