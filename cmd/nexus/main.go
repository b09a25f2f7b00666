// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command nexus starts the proposal engine API server.
//
// The engine translates natural-language marketing requests into vetted
// operations against the marketing platform. Read-only lookups run directly;
// anything that changes the account becomes a pending proposal that a human
// must approve through the decision endpoint before it executes.
//
// Usage:
//
//	go run ./cmd/nexus
//	go run ./cmd/nexus -port 9090
//
// Required environment:
//
//	OPENAI_API_KEY      model credential for intent resolution
//	KLAVIYO_API_KEY     marketing platform credential
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8080/api/health
//
//	# Chat turn
//	curl -X POST http://localhost:8080/api/chat \
//	  -H "Content-Type: application/json" \
//	  -d '{"message": "create a list called VIP Customers"}'
//
//	# Approve the returned proposal
//	curl -X POST http://localhost:8080/api/approvals/<id>/decide \
//	  -H "Content-Type: application/json" \
//	  -d '{"decision": "approve"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/nexuslabs/nexus/services/llm"
	"github.com/nexuslabs/nexus/services/nexus"
	"github.com/nexuslabs/nexus/services/nexus/executor"
	"github.com/nexuslabs/nexus/services/nexus/klaviyo"
	"github.com/nexuslabs/nexus/services/nexus/ledger"
	"github.com/nexuslabs/nexus/services/nexus/resolver"
	"github.com/nexuslabs/nexus/services/nexus/tools"
)

func main() {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// W3C TraceContext propagation so trace context flows from inbound
	// headers through the resolver and executor spans.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	shutdownTracing := setupTracing()

	cfg := nexus.LoadServiceConfig()

	caller, err := llm.NewOpenAIClient()
	if err != nil {
		slog.Error("Model client unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	res := resolver.New(caller, registry, cfg.ResolverTimeout, slog.Default())

	client := klaviyo.NewClient(klaviyo.Config{
		BaseURL:          cfg.KlaviyoBaseURL,
		CallTimeout:      cfg.UpstreamTimeout,
		RateLimitsPerMin: cfg.RateLimitsPerMin,
	}, klaviyo.EnvCredential{})
	exec := executor.New(client, executor.Config{DefaultFromEmail: cfg.DefaultFromEmail}, slog.Default())

	store, err := openLedger(cfg)
	if err != nil {
		slog.Error("Proposal ledger unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}

	service := nexus.NewService(res, registry, store, exec, slog.Default())
	handlers := nexus.NewHandlers(service)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("nexus"))
	if *debug {
		router.Use(gin.Logger())
	}

	api := router.Group("/api")
	nexus.RegisterRoutes(api, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Graceful shutdown closes the ledger so the durable store flushes.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		slog.Info("Shutting down nexus server")
		if err := store.Close(); err != nil {
			slog.Warn("Failed to close proposal ledger", slog.String("error", err.Error()))
		}
		shutdownTracing()
		os.Exit(0)
	}()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Starting nexus server",
		slog.String("address", addr),
		slog.Bool("durable_ledger", cfg.LedgerPath != ""),
		slog.Int("tools", len(registry.Names())),
	)
	if err := router.Run(addr); err != nil {
		slog.Error("Failed to start server", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// openLedger picks the ledger store: durable on-disk when NEXUS_LEDGER_PATH
// is set, otherwise bounded in-memory.
func openLedger(cfg nexus.ServiceConfig) (ledger.Store, error) {
	if cfg.LedgerPath != "" {
		store, err := ledger.NewBadgerStore(ledger.BadgerConfig{
			Path: cfg.LedgerPath,
			TTL:  cfg.LedgerTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("opening ledger at %s: %w", cfg.LedgerPath, err)
		}
		slog.Info("Durable proposal ledger opened", slog.String("path", cfg.LedgerPath))
		return store, nil
	}

	memCfg := ledger.DefaultMemoryConfig()
	memCfg.TTL = cfg.LedgerTTL
	memCfg.Capacity = cfg.LedgerCapacity
	return ledger.NewMemoryStore(memCfg), nil
}

// setupTracing installs a stdout span exporter when NEXUS_TRACE_STDOUT is
// set. Without it, spans are created but not exported, which keeps the otel
// instrumentation free in production until a collector is configured.
func setupTracing() func() {
	if os.Getenv("NEXUS_TRACE_STDOUT") == "" {
		return func() {}
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		slog.Warn("Stdout trace exporter unavailable", slog.String("error", err.Error()))
		return func() {}
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Warn("Tracer shutdown failed", slog.String("error", err.Error()))
		}
	}
}
