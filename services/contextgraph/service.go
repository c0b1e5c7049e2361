// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package contextgraph serves bounded graph-neighborhood expansion over a
// code index.
//
// The Service loads graph indexes through a store.Store and runs
// neighborhood expansion, impact analysis, test suggestion and architecture
// checks with service-level defaults. Handlers expose it over HTTP with gin.
package contextgraph

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/contextgraph/services/contextgraph/analysis"
	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/neighborhood"
	"github.com/AleutianAI/contextgraph/services/contextgraph/store"
	"github.com/AleutianAI/contextgraph/services/contextgraph/telemetry"
)

// ServiceVersion is the contextgraph service version.
const ServiceVersion = "0.1.0"

// ServiceConfig holds request defaults and index load settings.
type ServiceConfig struct {
	RepoRoot       string
	IndexSignature string
	IncludeCsr     bool

	// Direction is used when a request names none.
	Direction graph.Direction

	// Depth is used when a request names none.
	Depth int

	// Caps fill caps a request leaves nil.
	Caps graph.Caps
}

// DefaultServiceConfig returns depth 1, both directions and no caps.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{Direction: graph.DirBoth, Depth: 1}
}

// Service answers neighborhood queries against a graph store.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	store   *store.Store
	cfg     ServiceConfig
	logger  *slog.Logger
	started time.Time
	queries atomic.Int64
}

// NewService creates a service over st.
//
// Outputs:
//   - *Service: The service.
//   - error: ErrStoreRequired when st is nil.
func NewService(st *store.Store, cfg ServiceConfig, logger *slog.Logger) (*Service, error) {
	if st == nil {
		return nil, ErrStoreRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, cfg: cfg, logger: logger, started: time.Now()}, nil
}

// Store returns the underlying graph store.
func (s *Service) Store() *store.Store { return s.store }

// Neighborhood loads the graph index and expands the request.
//
// Description:
//
//	Only the graphs named by the request's edge filter are loaded when it
//	names any known graph, so filtered queries share smaller cached
//	indexes. Request caps override the service caps field by field.
//
// Inputs:
//   - ctx: Context for index loading and tracing.
//   - req: The request. Not modified.
//
// Outputs:
//   - *neighborhood.Result: The expansion.
//   - error: ErrTooManySeeds, ErrRepoRootMismatch when the request names a
//     repo root other than the one the index is built for, or an index
//     load failure.
func (s *Service) Neighborhood(ctx context.Context, req *NeighborhoodRequest) (*neighborhood.Result, error) {
	if len(req.Seeds) > MaxSeedsPerRequest {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySeeds, len(req.Seeds), MaxSeedsPerRequest)
	}
	s.queries.Add(1)

	if req.RepoRoot != "" && filepath.Clean(req.RepoRoot) != filepath.Clean(s.cfg.RepoRoot) {
		return nil, fmt.Errorf("%w: request %q, index %q", ErrRepoRootMismatch, req.RepoRoot, s.cfg.RepoRoot)
	}

	ix, err := s.loadIndex(ctx, req.EdgeFilters)
	if err != nil {
		return nil, err
	}

	direction := s.cfg.Direction
	if req.Direction != "" {
		direction = graph.ParseDirection(req.Direction)
	}
	depth := s.depthOrDefault(req.Depth)

	res := neighborhood.Build(ctx, neighborhood.Request{
		Seed:         req.Seed,
		Seeds:        req.Seeds,
		GraphIndex:   ix,
		Direction:    direction,
		Depth:        depth,
		EdgeFilters:  req.EdgeFilters,
		Caps:         req.Caps.Merge(s.cfg.Caps),
		IncludePaths: req.IncludePaths,
		RepoRoot:     s.cfg.RepoRoot,
		Logger:       telemetry.LoggerWithTrace(ctx, s.logger),
	})
	return res, nil
}

// Impact reports the nodes a change affects.
//
// Description:
//
//	Loads the graph index the same way Neighborhood does and runs
//	neighborhood.BuildImpact over it. The depth defaults to the service
//	depth; the direction defaults to downstream.
//
// Outputs:
//   - *neighborhood.ImpactResult: The analysis.
//   - error: An index load failure.
func (s *Service) Impact(ctx context.Context, req *ImpactRequest) (*neighborhood.ImpactResult, error) {
	s.queries.Add(1)
	ix, err := s.loadIndex(ctx, req.EdgeFilters)
	if err != nil {
		return nil, err
	}
	return neighborhood.BuildImpact(ctx, neighborhood.ImpactRequest{
		Seed:        req.Seed,
		Changed:     req.Changed,
		GraphIndex:  ix,
		Direction:   req.Direction,
		Depth:       s.depthOrDefault(req.Depth),
		EdgeFilters: req.EdgeFilters,
		Caps:        req.Caps.Merge(s.cfg.Caps),
		RepoRoot:    s.cfg.RepoRoot,
		Logger:      telemetry.LoggerWithTrace(ctx, s.logger),
	}), nil
}

// SuggestTests ranks tests for a change set over the import graph.
//
// Outputs:
//   - *analysis.SuggestReport: The suggestions.
//   - error: analysis.ErrRepoRootRequired when no tests were listed and the
//     service has no repo root, or an artifact load failure.
func (s *Service) SuggestTests(ctx context.Context, req *SuggestTestsRequest) (*analysis.SuggestReport, error) {
	s.queries.Add(1)
	rel, err := s.store.GraphRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load graph relations: %w", err)
	}
	return analysis.SuggestTests(ctx, analysis.SuggestRequest{
		Changed:        req.Changed,
		Tests:          req.Tests,
		TestPatterns:   req.TestPatterns,
		RepoRoot:       s.cfg.RepoRoot,
		GraphRelations: rel,
		Caps:           req.Caps,
		Logger:         telemetry.LoggerWithTrace(ctx, s.logger),
	})
}

// Architecture checks architecture rules against the graph relations.
//
// Outputs:
//   - *analysis.ArchitectureReport: Rule summaries and violations.
//   - error: analysis.ErrInvalidRules, or an artifact load failure.
func (s *Service) Architecture(ctx context.Context, req *ArchitectureRequest) (*analysis.ArchitectureReport, error) {
	if err := req.Rules.Validate(); err != nil {
		return nil, err
	}
	s.queries.Add(1)
	rel, err := s.store.GraphRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load graph relations: %w", err)
	}
	return analysis.CheckArchitecture(ctx, analysis.ArchitectureRequest{
		Rules:          req.Rules.Rules,
		GraphRelations: rel,
		RepoRoot:       s.cfg.RepoRoot,
		Caps:           req.Caps,
		Logger:         telemetry.LoggerWithTrace(ctx, s.logger),
	}), nil
}

// loadIndex loads the index for the graphs an edge filter names, or every
// graph when it names none.
func (s *Service) loadIndex(ctx context.Context, filters *neighborhood.EdgeFilters) (*graph.Index, error) {
	var graphs []string
	if filters != nil {
		graphs = graph.NormalizeGraphList(neighborhood.ParseList(filters.Graphs...))
	}
	ix, err := s.store.LoadGraphIndex(ctx, store.LoadOptions{
		RepoRoot:       s.cfg.RepoRoot,
		IndexSignature: s.cfg.IndexSignature,
		Graphs:         graphs,
		IncludeCsr:     s.cfg.IncludeCsr,
	})
	if err != nil {
		return nil, fmt.Errorf("load graph index: %w", err)
	}
	return ix, nil
}

func (s *Service) depthOrDefault(depth *int) *int {
	if depth != nil {
		return depth
	}
	d := s.cfg.Depth
	return &d
}

// Stats returns service and store telemetry.
func (s *Service) Stats() StatsResponse {
	used := s.store.ArtifactsUsed()
	if used == nil {
		used = []string{}
	}
	return StatsResponse{
		Store:         s.store.Stats(),
		ArtifactsUsed: used,
		Queries:       s.queries.Load(),
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
}

// Health reports artifact presence.
func (s *Service) Health() HealthResponse {
	resp := HealthResponse{
		Status:    "healthy",
		Version:   ServiceVersion,
		Artifacts: make(map[string]bool, len(artifact.Names)),
	}
	for _, name := range artifact.Names {
		resp.Artifacts[name] = s.store.HasArtifact(name)
	}
	if !resp.Artifacts[artifact.NameGraphRelations] {
		resp.Status = "degraded"
	}
	return resp
}

// Invalidate drops cached indexes and the named artifacts.
func (s *Service) Invalidate(names ...string) {
	s.store.Invalidate(names...)
	s.logger.Info("graph caches invalidated", "artifacts", names)
}
