// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nexus

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceConfig holds all configuration for the proposal engine.
//
// Description:
//
//	Loaded from environment variables at startup via LoadServiceConfig(),
//	with optional account-level overrides from a YAML file. All fields have
//	safe defaults except the upstream and model credentials, which are read
//	by their clients directly.
//
// Thread Safety: ServiceConfig is a value type. Safe to copy and share after loading.
type ServiceConfig struct {
	// ResolverTimeout bounds each intent-resolution model call.
	// Env: NEXUS_LLM_TIMEOUT_SECONDS (default: 30)
	ResolverTimeout time.Duration

	// UpstreamTimeout bounds each marketing-platform call.
	// Env: NEXUS_UPSTREAM_TIMEOUT_SECONDS (default: 10)
	UpstreamTimeout time.Duration

	// DefaultFromEmail is the sender used for campaign drafts when the
	// proposal does not name one. Empty means such drafts fail with a
	// missing-configuration error.
	// Env: NEXUS_DEFAULT_FROM_EMAIL (default: "")
	DefaultFromEmail string

	// KlaviyoBaseURL overrides the platform API origin, for tests and
	// self-hosted gateways.
	// Env: NEXUS_KLAVIYO_BASE_URL (default: platform production origin)
	KlaviyoBaseURL string

	// LedgerTTL is how long undecided or finished proposals are retained.
	// Env: NEXUS_LEDGER_TTL_SECONDS (default: 3600)
	LedgerTTL time.Duration

	// LedgerCapacity bounds the number of retained proposals in the
	// in-memory store.
	// Env: NEXUS_LEDGER_CAPACITY (default: 1024)
	LedgerCapacity int

	// LedgerPath, when set, switches the proposal ledger to the durable
	// on-disk store rooted at this directory.
	// Env: NEXUS_LEDGER_PATH (default: "" = in-memory)
	LedgerPath string

	// RateLimitsPerMin maps upstream endpoint families to per-minute
	// request caps. Empty means no client-side limiting.
	// Env: NEXUS_RATE_LISTS_PER_MIN, NEXUS_RATE_PROFILES_PER_MIN,
	// NEXUS_RATE_CAMPAIGNS_PER_MIN, NEXUS_RATE_TEMPLATES_PER_MIN
	// (default: 0 = unlimited)
	RateLimitsPerMin map[string]int
}

// fileConfig is the optional YAML override file. Only account-level defaults
// live here; credentials never do.
type fileConfig struct {
	DefaultFromEmail string         `yaml:"default_from_email"`
	KlaviyoBaseURL   string         `yaml:"klaviyo_base_url"`
	RateLimitsPerMin map[string]int `yaml:"rate_limits_per_min"`
}

// LoadServiceConfig reads configuration from environment variables and, when
// present, the YAML file named by NEXUS_CONFIG_FILE (default
// "nexus.config.yaml"). File values override environment values for the
// account defaults they cover.
func LoadServiceConfig() ServiceConfig {
	cfg := ServiceConfig{
		ResolverTimeout:  time.Duration(envInt("NEXUS_LLM_TIMEOUT_SECONDS", 30)) * time.Second,
		UpstreamTimeout:  time.Duration(envInt("NEXUS_UPSTREAM_TIMEOUT_SECONDS", 10)) * time.Second,
		DefaultFromEmail: os.Getenv("NEXUS_DEFAULT_FROM_EMAIL"),
		KlaviyoBaseURL:   os.Getenv("NEXUS_KLAVIYO_BASE_URL"),
		LedgerTTL:        time.Duration(envInt("NEXUS_LEDGER_TTL_SECONDS", 3600)) * time.Second,
		LedgerCapacity:   envInt("NEXUS_LEDGER_CAPACITY", 1024),
		LedgerPath:       os.Getenv("NEXUS_LEDGER_PATH"),
		RateLimitsPerMin: make(map[string]int),
	}

	for _, family := range []string{"lists", "profiles", "campaigns", "templates"} {
		key := "NEXUS_RATE_" + strings.ToUpper(family) + "_PER_MIN"
		if limit := envInt(key, 0); limit > 0 {
			cfg.RateLimitsPerMin[family] = limit
		}
	}

	path := os.Getenv("NEXUS_CONFIG_FILE")
	if path == "" {
		path = "nexus.config.yaml"
	}
	if err := applyFileConfig(&cfg, path); err != nil {
		slog.Warn("Config file ignored", "path", path, "error", err)
	}

	return cfg
}

// applyFileConfig merges the YAML file at path into cfg. A missing file is
// not an error.
func applyFileConfig(cfg *ServiceConfig, path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if fc.DefaultFromEmail != "" {
		cfg.DefaultFromEmail = fc.DefaultFromEmail
	}
	if fc.KlaviyoBaseURL != "" {
		cfg.KlaviyoBaseURL = fc.KlaviyoBaseURL
	}
	for family, limit := range fc.RateLimitsPerMin {
		if limit > 0 {
			cfg.RateLimitsPerMin[family] = limit
		}
	}
	return nil
}

// envInt reads an integer environment variable with a default value.
func envInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
