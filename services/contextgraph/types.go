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
	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/contextgraph/services/contextgraph/analysis"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/neighborhood"
	"github.com/AleutianAI/contextgraph/services/contextgraph/store"
)

// MaxSeedsPerRequest bounds the seeds accepted by one HTTP request.
const MaxSeedsPerRequest = 64

var requestValidate = validator.New()

// NeighborhoodRequest is the body of POST /v1/graph/neighborhood.
//
// Caps left unset take the service defaults. Depth nil means the service
// default depth.
type NeighborhoodRequest struct {
	Seed         *neighborhood.Seed        `json:"seed,omitempty"`
	Seeds        []neighborhood.Seed       `json:"seeds,omitempty"`
	Direction    string                    `json:"direction,omitempty" validate:"omitempty,oneof=in out both IN OUT BOTH"`
	Depth        *int                      `json:"depth,omitempty"`
	EdgeFilters  *neighborhood.EdgeFilters `json:"edgeFilters,omitempty"`
	Caps         graph.Caps                `json:"caps"`
	IncludePaths bool                      `json:"includePaths"`
	RepoRoot     string                    `json:"repoRoot,omitempty"`
}

// Validate checks the request against its struct tags.
func (r *NeighborhoodRequest) Validate() error {
	return requestValidate.Struct(r)
}

// ImpactRequest is the body of POST /v1/graph/impact. Seed takes
// precedence over Changed.
type ImpactRequest struct {
	Seed        *neighborhood.Seed        `json:"seed,omitempty"`
	Changed     []string                  `json:"changed,omitempty" validate:"max=1000"`
	Direction   string                    `json:"direction,omitempty" validate:"omitempty,oneof=upstream downstream"`
	Depth       *int                      `json:"depth,omitempty"`
	EdgeFilters *neighborhood.EdgeFilters `json:"edgeFilters,omitempty"`
	Caps        graph.Caps                `json:"caps"`
}

// Validate checks the request against its struct tags.
func (r *ImpactRequest) Validate() error {
	return requestValidate.Struct(r)
}

// SuggestTestsRequest is the body of POST /v1/graph/suggest-tests. A nil
// Tests list discovers tests under the service repo root.
type SuggestTestsRequest struct {
	Changed      []string             `json:"changed" validate:"max=1000"`
	Tests        []string             `json:"tests,omitempty"`
	TestPatterns []string             `json:"testPatterns,omitempty" validate:"max=64"`
	Caps         analysis.SuggestCaps `json:"caps"`
}

// Validate checks the request against its struct tags.
func (r *SuggestTestsRequest) Validate() error {
	return requestValidate.Struct(r)
}

// ArchitectureRequest is the body of POST /v1/graph/architecture.
type ArchitectureRequest struct {
	Rules *analysis.RuleSet         `json:"rules" validate:"required"`
	Caps  analysis.ArchitectureCaps `json:"caps"`
}

// InvalidateRequest is the body of POST /v1/graph/invalidate. Empty Names
// drops only the cached indexes.
type InvalidateRequest struct {
	Names []string `json:"names" validate:"max=16,dive,required"`
}

// StatsResponse is returned by GET /v1/graph/stats.
type StatsResponse struct {
	Store         store.Stats `json:"store"`
	ArtifactsUsed []string    `json:"artifactsUsed"`
	Queries       int64       `json:"queries"`
	UptimeSeconds float64     `json:"uptimeSeconds"`
}

// HealthResponse is returned by GET /v1/graph/health.
type HealthResponse struct {
	// Status is healthy when graph_relations is present, degraded otherwise.
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Artifacts map[string]bool `json:"artifacts"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// Details provides additional error context (optional).
	Details string `json:"details,omitempty"`
}
