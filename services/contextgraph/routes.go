// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package contextgraph

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"
)

// RegisterRoutes registers all contextgraph routes with the router.
//
// Description:
//
//	Registers the /v1/graph/* endpoints with the given router group. The
//	group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	POST /v1/graph/neighborhood - Expand a neighborhood
//	POST /v1/graph/impact - Impact analysis for a change
//	POST /v1/graph/suggest-tests - Rank tests for a change
//	POST /v1/graph/architecture - Check architecture rules
//	GET  /v1/graph/stats - Store and service telemetry
//	GET  /v1/graph/health - Artifact presence
//	POST /v1/graph/invalidate - Drop cached indexes and artifacts
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	g := rg.Group("/graph")
	g.POST("/neighborhood", handlers.HandleNeighborhood)
	g.POST("/impact", handlers.HandleImpact)
	g.POST("/suggest-tests", handlers.HandleSuggestTests)
	g.POST("/architecture", handlers.HandleArchitecture)
	g.GET("/stats", handlers.HandleStats)
	g.GET("/health", handlers.HandleHealth)
	g.POST("/invalidate", handlers.HandleInvalidate)
}

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// ServiceName labels otelgin spans.
	ServiceName string

	// RateLimit is requests per second for /v1. Zero disables limiting.
	RateLimit float64
	RateBurst int

	Logger *slog.Logger
}

// NewRouter builds the gin engine: recovery, tracing, request logging,
// optional rate limiting on /v1, and /metrics.
func NewRouter(handlers *Handlers, opts RouterOptions) *gin.Engine {
	if opts.ServiceName == "" {
		opts.ServiceName = "contextgraph"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(requestLogMiddleware(opts.Logger))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	if opts.RateLimit > 0 {
		v1.Use(rateLimitMiddleware(rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.RateBurst, 1))))
	}
	RegisterRoutes(v1, handlers)
	return router
}
