// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package neighborhood expands a bounded, deterministic neighborhood around
// one or more seed nodes of a graph index.
//
// Traversal is breadth-first, single-threaded and synchronous. Caps bound
// the result size; a work budget bounds the cost. Data problems never fail
// a call: they surface as warnings and truncation records in the Result.
//
// # Determinism
//
// For fixed inputs, nodes, edges and paths are byte-identical across runs
// regardless of artifact row order, neighbor list order or cache state.
// Per-node edge candidates are sorted before fan-out capping, and every
// result list is sorted with the graph package comparators.
package neighborhood

import (
	"log/slog"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/budget"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
)

// Warning codes. Stable, machine-checkable strings.
const (
	WarnUnresolvedSeed         = "UNRESOLVED_SEED"
	WarnMissingGraphRelations  = "MISSING_GRAPH_RELATIONS"
	WarnMissingSymbolEdges     = "MISSING_SYMBOL_EDGES"
	WarnGraphIndexMismatch     = "GRAPH_INDEX_MISMATCH"
	WarnGraphCountMismatch     = "GRAPH_COUNT_MISMATCH"
	WarnGraphIndexRepoRoot     = "GRAPH_INDEX_REPOROOT_MISMATCH"
	WarnImportGraphMissingFile = "IMPORT_GRAPH_MISSING_FILE"
	WarnUnknownGraphFilter     = "UNKNOWN_GRAPH_FILTER"
	WarnUnknownEdgeTypeFilter  = "UNKNOWN_EDGE_TYPE_FILTER"
	WarnEdgeTypeFilterNoMatch  = "EDGE_TYPE_FILTER_NO_MATCH"
)

// TruncationScope is the scope of every record this package emits.
const TruncationScope = "graph"

// MaxCallSiteEvidence caps call-site ids attached to one call edge.
const MaxCallSiteEvidence = 25

// maxImportMissWarnings bounds IMPORT_GRAPH_MISSING_FILE warnings per call.
const maxImportMissWarnings = 3

// maxPathWalk bounds parent-pointer walks when rebuilding witness paths.
// Parent chains are acyclic by construction; the bound only guards against
// a corrupt chain.
const maxPathWalk = 5000

// EdgeFilters restricts which edges are followed.
type EdgeFilters struct {
	// Graphs is an allow-list of graph names. Empty allows all.
	Graphs []string `json:"graphs,omitempty"`

	// EdgeTypes is an allow-list of edge types, case-insensitive. Empty
	// allows all.
	EdgeTypes []string `json:"edgeTypes,omitempty"`

	// MinConfidence drops scored edges below the threshold. Unscored
	// relation edges always pass; unscored symbol edges count as 1.
	MinConfidence *float64 `json:"minConfidence,omitempty"`
}

// Request describes one neighborhood expansion.
type Request struct {
	// Seed is a single seed. Ignored when Seeds is non-empty.
	Seed *Seed

	// Seeds expands several seeds and unions the results.
	Seeds []Seed

	// GraphIndex is a prebuilt index. When nil, a transient index is built
	// from GraphRelations, SymbolEdges and CallSites.
	GraphIndex *graph.Index

	// GraphRelations are fresh relations. With GraphIndex set they are
	// only used to detect and recover from a stale index.
	GraphRelations *artifact.GraphRelations

	// SymbolEdges and CallSites feed the transient index.
	SymbolEdges []artifact.SymbolEdge
	CallSites   []artifact.CallSite

	// Direction is in, out or both. Empty means both.
	Direction graph.Direction

	// Depth is the requested BFS depth. Nil means 1; negative clamps to 0.
	Depth *int

	// EdgeFilters restricts the edges followed. Nil allows everything.
	EdgeFilters *EdgeFilters

	// Caps bounds the result and the work done.
	Caps graph.Caps

	// IncludePaths requests witness paths.
	IncludePaths bool

	// WorkBudget overrides the budget built from Caps. Share one budget to
	// bound several calls together.
	WorkBudget budget.WorkBudget

	// RepoRoot normalises file refs and import paths.
	RepoRoot string

	// Logger receives diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// TruncationAt locates where a cap was hit.
type TruncationAt struct {
	Node string `json:"node"`
}

// TruncationRecord reports the first breach of a cap.
type TruncationRecord struct {
	Scope    string        `json:"scope"`
	Cap      string        `json:"cap"`
	Limit    int           `json:"limit"`
	Observed int           `json:"observed"`
	Omitted  *int          `json:"omitted,omitempty"`
	At       *TruncationAt `json:"at,omitempty"`
}

// Warning is a non-fatal diagnostic.
type Warning struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ArtifactsUsed reports which artifacts contributed.
type ArtifactsUsed struct {
	GraphRelations bool `json:"graphRelations"`
	SymbolEdges    bool `json:"symbolEdges"`
	CallSites      bool `json:"callSites"`
}

// Counts are result sizes and work done.
type Counts struct {
	NodesReturned int `json:"nodesReturned"`
	EdgesReturned int `json:"edgesReturned"`
	PathsReturned int `json:"pathsReturned"`
	WorkUnitsUsed int `json:"workUnitsUsed"`
}

// CacheCounts are traversal-cache lookups made by one call.
type CacheCounts struct {
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

// Stats describes how a result was produced.
type Stats struct {
	ArtifactsUsed  ArtifactsUsed `json:"artifactsUsed"`
	Counts         Counts        `json:"counts"`
	TraversalCache CacheCounts   `json:"traversalCache"`
	ElapsedMs      int64         `json:"elapsedMs"`
}

// Result is the only externally visible output.
//
// Nodes and Edges are never nil. Paths is nil unless IncludePaths was set.
// Truncation and Warnings are nil when empty.
type Result struct {
	Nodes      []graph.Node        `json:"nodes"`
	Edges      []graph.Edge        `json:"edges"`
	Paths      []graph.WitnessPath `json:"paths"`
	Truncation []TruncationRecord  `json:"truncation"`
	Warnings   []Warning           `json:"warnings"`
	Stats      Stats               `json:"stats"`
}

// HasWarning reports whether a warning with code was emitted.
func (r *Result) HasWarning(code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// TruncationFor returns the record for a cap, or nil.
func (r *Result) TruncationFor(capName string) *TruncationRecord {
	for i := range r.Truncation {
		if r.Truncation[i].Cap == capName {
			return &r.Truncation[i]
		}
	}
	return nil
}
