// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package routes wires the orchestrator's HTTP surface.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ieqlabs/kbchat/services/orchestrator/handlers"
	"github.com/ieqlabs/kbchat/services/orchestrator/middleware"
)

// SetupRoutes registers the orchestrator's endpoints. Health and metrics
// stay open; the API group is guarded by the service key when one is
// configured.
func SetupRoutes(router *gin.Engine, runner handlers.TurnRunner, apiKey string, enableMetrics bool) {
	router.GET("/health", handlers.HealthCheck)

	if enableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.APIKeyMiddleware(apiKey))
	{
		v1.POST("/chat", handlers.HandleConversation(runner))
	}
}
