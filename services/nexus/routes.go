// Copyright (C) 2026 Nexus Labs (eng@nexuslabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package nexus

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the proposal engine routes with the router.
//
// Description:
//
//	Registers all /api/* endpoints with the given Gin router group. The
//	router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /api)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /api/chat - Run one chat turn
//	POST /api/approvals/:id/decide - Approve or deny a pending proposal
//	GET  /api/approvals/:id - Inspect a proposal's state and outcome
//	GET  /api/health - Health check
//	GET  /api/ready - Readiness check
//
// Example:
//
//	service := nexus.NewService(res, registry, store, exec, logger)
//	handlers := nexus.NewHandlers(service)
//
//	api := router.Group("/api")
//	nexus.RegisterRoutes(api, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.POST("/chat", handlers.HandleChat)

	approvals := rg.Group("/approvals")
	{
		approvals.POST("/:id/decide", handlers.HandleDecide)
		approvals.GET("/:id", handlers.HandleGetProposal)
	}

	rg.GET("/health", handlers.HandleHealth)
	rg.GET("/ready", handlers.HandleReady)
}
