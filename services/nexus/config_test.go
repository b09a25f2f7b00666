// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nexus

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadServiceConfig_Defaults(t *testing.T) {
	t.Setenv("NEXUS_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg := LoadServiceConfig()
	if cfg.ResolverTimeout != 30*time.Second {
		t.Errorf("ResolverTimeout = %v", cfg.ResolverTimeout)
	}
	if cfg.UpstreamTimeout != 10*time.Second {
		t.Errorf("UpstreamTimeout = %v", cfg.UpstreamTimeout)
	}
	if cfg.LedgerTTL != time.Hour {
		t.Errorf("LedgerTTL = %v", cfg.LedgerTTL)
	}
	if cfg.LedgerCapacity != 1024 {
		t.Errorf("LedgerCapacity = %d", cfg.LedgerCapacity)
	}
	if len(cfg.RateLimitsPerMin) != 0 {
		t.Errorf("RateLimitsPerMin = %v, want empty", cfg.RateLimitsPerMin)
	}
}

func TestLoadServiceConfig_EnvOverrides(t *testing.T) {
	t.Setenv("NEXUS_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("NEXUS_LLM_TIMEOUT_SECONDS", "5")
	t.Setenv("NEXUS_LEDGER_TTL_SECONDS", "120")
	t.Setenv("NEXUS_DEFAULT_FROM_EMAIL", "hello@acme.io")
	t.Setenv("NEXUS_RATE_LISTS_PER_MIN", "30")

	cfg := LoadServiceConfig()
	if cfg.ResolverTimeout != 5*time.Second {
		t.Errorf("ResolverTimeout = %v", cfg.ResolverTimeout)
	}
	if cfg.LedgerTTL != 2*time.Minute {
		t.Errorf("LedgerTTL = %v", cfg.LedgerTTL)
	}
	if cfg.DefaultFromEmail != "hello@acme.io" {
		t.Errorf("DefaultFromEmail = %q", cfg.DefaultFromEmail)
	}
	if cfg.RateLimitsPerMin["lists"] != 30 {
		t.Errorf("RateLimitsPerMin = %v", cfg.RateLimitsPerMin)
	}
}

func TestLoadServiceConfig_FileOverridesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.config.yaml")
	content := "default_from_email: file@acme.io\nrate_limits_per_min:\n  campaigns: 12\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NEXUS_CONFIG_FILE", path)
	t.Setenv("NEXUS_DEFAULT_FROM_EMAIL", "env@acme.io")

	cfg := LoadServiceConfig()
	if cfg.DefaultFromEmail != "file@acme.io" {
		t.Errorf("DefaultFromEmail = %q, want file value", cfg.DefaultFromEmail)
	}
	if cfg.RateLimitsPerMin["campaigns"] != 12 {
		t.Errorf("RateLimitsPerMin = %v", cfg.RateLimitsPerMin)
	}
}

func TestLoadServiceConfig_BadFileIgnored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NEXUS_CONFIG_FILE", path)
	t.Setenv("NEXUS_DEFAULT_FROM_EMAIL", "env@acme.io")

	cfg := LoadServiceConfig()
	if cfg.DefaultFromEmail != "env@acme.io" {
		t.Errorf("a malformed file must not clobber env config: %q", cfg.DefaultFromEmail)
	}
}
