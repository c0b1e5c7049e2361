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
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/contextgraph/services/contextgraph/analysis"
)

// Handlers contains the HTTP handlers for contextgraph.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleNeighborhood handles POST /v1/graph/neighborhood.
//
// Description:
//
//	Expands the neighborhood around the request seed(s). Unresolvable
//	seeds and missing artifacts are not errors; they surface as warnings
//	in the 200 response.
//
// Request Body:
//
//	NeighborhoodRequest
//
// Response:
//
//	200 OK: neighborhood.Result
//	400 Bad Request: Malformed body or too many seeds
//	500 Internal Server Error: Index load failure
func (h *Handlers) HandleNeighborhood(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleNeighborhood")

	var req NeighborhoodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Request validation failed",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	res, err := h.svc.Neighborhood(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, ErrTooManySeeds):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Too many seeds",
				Code:    "TOO_MANY_SEEDS",
				Details: err.Error(),
			})
			return
		case errors.Is(err, ErrRepoRootMismatch):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Repo root does not match the graph index",
				Code:    "REPO_ROOT_MISMATCH",
				Details: err.Error(),
			})
			return
		}
		logger.Error("Neighborhood expansion failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to load graph index",
			Code:    "INDEX_LOAD_FAILED",
			Details: err.Error(),
		})
		return
	}

	logger.Debug("Neighborhood built",
		"nodes", res.Stats.Counts.NodesReturned,
		"edges", res.Stats.Counts.EdgesReturned,
		"truncations", len(res.Truncation),
		"warnings", len(res.Warnings),
	)
	c.JSON(http.StatusOK, res)
}

// HandleImpact handles POST /v1/graph/impact.
//
// Response:
//
//	200 OK: neighborhood.ImpactResult
//	400 Bad Request: Malformed body
//	500 Internal Server Error: Index load failure
func (h *Handlers) HandleImpact(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleImpact")

	var req ImpactRequest
	if !bindRequest(c, &req) {
		return
	}
	res, err := h.svc.Impact(c.Request.Context(), &req)
	if err != nil {
		logger.Error("Impact analysis failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to load graph index",
			Code:    "INDEX_LOAD_FAILED",
			Details: err.Error(),
		})
		return
	}
	logger.Debug("Impact analysis built", "impacted", res.Stats.Counts.Impacted, "warnings", len(res.Warnings))
	c.JSON(http.StatusOK, res)
}

// HandleSuggestTests handles POST /v1/graph/suggest-tests.
//
// Response:
//
//	200 OK: analysis.SuggestReport
//	400 Bad Request: Malformed body, or no tests listed and no repo root
//	500 Internal Server Error: Artifact load or test discovery failure
func (h *Handlers) HandleSuggestTests(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSuggestTests")

	var req SuggestTestsRequest
	if !bindRequest(c, &req) {
		return
	}
	res, err := h.svc.SuggestTests(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, analysis.ErrRepoRootRequired) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Tests must be listed when the service has no repo root",
				Code:    "REPO_ROOT_REQUIRED",
				Details: err.Error(),
			})
			return
		}
		logger.Error("Suggest-tests failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to suggest tests",
			Code:    "SUGGEST_TESTS_FAILED",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleArchitecture handles POST /v1/graph/architecture.
//
// Response:
//
//	200 OK: analysis.ArchitectureReport
//	400 Bad Request: Malformed body or rules document
//	500 Internal Server Error: Artifact load failure
func (h *Handlers) HandleArchitecture(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleArchitecture")

	var req ArchitectureRequest
	if !bindRequest(c, &req) {
		return
	}
	res, err := h.svc.Architecture(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, analysis.ErrInvalidRules) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid architecture rules",
				Code:    "INVALID_RULES",
				Details: err.Error(),
			})
			return
		}
		logger.Error("Architecture check failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to load graph relations",
			Code:    "ARTIFACT_LOAD_FAILED",
			Details: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, res)
}

// bindRequest decodes and validates a JSON body, writing a 400 on failure.
func bindRequest(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request body",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return false
	}
	if err := requestValidate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Request validation failed",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return false
	}
	return true
}

// HandleStats handles GET /v1/graph/stats.
func (h *Handlers) HandleStats(c *gin.Context) {
	getOrCreateRequestID(c)
	c.JSON(http.StatusOK, h.svc.Stats())
}

// HandleHealth handles GET /v1/graph/health.
//
// Always 200; Status is degraded when graph_relations is missing.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Health())
}

// HandleInvalidate handles POST /v1/graph/invalidate.
//
// Response:
//
//	204 No Content: Caches dropped
//	400 Bad Request: Malformed body
func (h *Handlers) HandleInvalidate(c *gin.Context) {
	requestID := getOrCreateRequestID(c)

	var req InvalidateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid request body",
				Code:    "INVALID_REQUEST",
				Details: err.Error(),
			})
			return
		}
	}
	if err := requestValidate.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Request validation failed",
			Code:    "INVALID_REQUEST",
			Details: err.Error(),
		})
		return
	}

	slog.Info("Invalidating graph caches", "request_id", requestID, "artifacts", req.Names)
	h.svc.Invalidate(req.Names...)
	c.Status(http.StatusNoContent)
}

// getOrCreateRequestID returns the X-Request-ID header value, generating
// one when absent, and echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
