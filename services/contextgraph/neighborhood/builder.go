// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package neighborhood

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/budget"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
)

// Build expands the neighborhood described by req.
//
// Description:
//
//	Resolves the seed(s), walks outward breadth-first over the enabled
//	graphs and returns a sorted, deterministic Result. With several seeds
//	each seed is traversed independently (sharing one work budget) and the
//	results are unioned: nodes keep their smallest distance, duplicate
//	edges keep the higher confidence and each target keeps its smallest
//	witness path. Node, edge and path caps are then applied to the union.
//
// Inputs:
//   - ctx: Carries trace context only. Traversal is bounded by the work
//     budget, never cancelled through ctx.
//   - req: The request. Never mutated.
//
// Outputs:
//   - *Result: Never nil. Problems are reported as warnings and
//     truncation records.
//
// Thread Safety: Safe for concurrent use. Concurrent calls may share one
// graph.Index.
func Build(ctx context.Context, req Request) *Result {
	start := time.Now()
	seeds := collectSeeds(req)
	ctx, span := startBuildSpan(ctx, len(seeds))
	defer span.End()

	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}

	caps := req.Caps.Normalize()
	warn := newWarningSink()
	trunc := newTruncationRecorder()

	requested := 1
	if req.Depth != nil {
		requested = max(*req.Depth, 0)
	}
	depth := requested
	if caps.MaxDepth != nil && requested > *caps.MaxDepth {
		depth = *caps.MaxDepth
		trunc.record(graph.CapMaxDepth, *caps.MaxDepth, requested, -1, "")
	}

	filter := newEdgeFilter(req.EdgeFilters)
	ix := resolveIndex(ctx, req, filter, warn, logger)
	repoRoot := req.RepoRoot
	if repoRoot == "" {
		repoRoot = ix.RepoRoot()
	}

	used := ArtifactsUsed{
		GraphRelations: ix.HasRelations(),
		SymbolEdges:    ix.HasSymbolEdges(),
		CallSites:      ix.HasCallSites(),
	}
	if !used.GraphRelations && filter.wantsRelations() {
		warn.add(WarnMissingGraphRelations, "", "graph_relations artifact missing; graph expansion limited.", nil)
	}
	if !used.SymbolEdges && filter.graphs != nil && filter.graphs[graph.GraphSymbolEdges] {
		warn.add(WarnMissingSymbolEdges, "", "symbol_edges artifact missing; symbol graph expansion disabled.", nil)
	}
	filter.validate(ix, warn)

	refs := make([]graph.NodeRef, 0, len(seeds))
	seen := make(map[string]bool, len(seeds))
	for i := range seeds {
		ref, ok := seeds[i].Resolve()
		if !ok {
			warn.add(WarnUnresolvedSeed, "", "Seed could not be resolved to a graph node.", nil)
			continue
		}
		ref = graph.NormalizeFileRef(ref, repoRoot)
		if key := ref.Key(); !seen[key] {
			seen[key] = true
			refs = append(refs, ref)
		}
	}
	if len(seeds) == 0 {
		warn.add(WarnUnresolvedSeed, "", "Seed could not be resolved to a graph node.", nil)
	}

	res := &Result{
		Nodes: []graph.Node{},
		Edges: []graph.Edge{},
		Stats: Stats{ArtifactsUsed: used},
	}
	if req.IncludePaths {
		res.Paths = []graph.WitnessPath{}
	}

	if len(refs) > 0 {
		b := req.WorkBudget
		if b == nil {
			b = budget.New(caps.MaxWorkUnits, caps.MaxWallClockMs)
		}
		parts := make([]*partial, 0, len(refs))
		for _, ref := range refs {
			t := newTraversal(ix, caps, depth, req, filter, repoRoot, b, trunc, warn)
			t.run(ref)
			parts = append(parts, t.finish())
			res.Stats.TraversalCache.Hits += t.cacheCounts.Hits
			res.Stats.TraversalCache.Misses += t.cacheCounts.Misses
		}
		u := union(parts, caps, trunc, req.IncludePaths)
		res.Nodes, res.Edges = u.nodes, u.edges
		if req.IncludePaths {
			res.Paths = u.paths
		}
		res.Stats.Counts.WorkUnitsUsed = b.Used()
	}

	res.Truncation = trunc.result()
	res.Warnings = warn.result()
	res.Stats.Counts.NodesReturned = len(res.Nodes)
	res.Stats.Counts.EdgesReturned = len(res.Edges)
	res.Stats.Counts.PathsReturned = len(res.Paths)
	res.Stats.ElapsedMs = time.Since(start).Milliseconds()

	setBuildSpanResult(span, res)
	recordBuildMetrics(ctx, time.Since(start), res)
	return res
}

func collectSeeds(req Request) []Seed {
	if len(req.Seeds) > 0 {
		return req.Seeds
	}
	if req.Seed != nil {
		return []Seed{*req.Seed}
	}
	return nil
}

// resolveIndex returns the index to traverse: the supplied index, the
// supplied index rebased onto fresh relations when it is stale, or a
// transient index built from the raw artifacts in req.
func resolveIndex(ctx context.Context, req Request, filter edgeFilter, warn *warningSink, logger *slog.Logger) *graph.Index {
	bctx := context.WithoutCancel(ctx)

	if req.GraphIndex == nil {
		b := artifact.Bundle{
			GraphRelations: req.GraphRelations,
			SymbolEdges:    req.SymbolEdges,
			CallSites:      req.CallSites,
		}
		ix, err := graph.BuildIndex(bctx, b, graph.BuildOptions{RepoRoot: req.RepoRoot, Graphs: filter.graphList})
		if err != nil {
			logger.Error("transient graph index build failed", "error", err)
			ix, _ = graph.BuildIndex(bctx, artifact.Bundle{}, graph.BuildOptions{RepoRoot: req.RepoRoot})
		}
		return ix
	}

	ix := req.GraphIndex
	rootMismatch := req.RepoRoot != "" && filepath.Clean(req.RepoRoot) != filepath.Clean(ix.RepoRoot())
	if req.GraphRelations == nil {
		if rootMismatch {
			warn.add(WarnGraphIndexRepoRoot, "", "Graph index was built for a different repo root.",
				map[string]any{"indexRepoRoot": ix.RepoRoot(), "repoRoot": req.RepoRoot})
			logger.Warn("graph index built for a different repo root",
				"index_signature", ix.Signature(),
				"index_repo_root", ix.RepoRoot(),
				"repo_root", req.RepoRoot,
			)
		}
		return ix
	}

	var mismatched []map[string]any
	for _, name := range ix.Graphs() {
		if name == graph.GraphSymbolEdges {
			continue
		}
		freshNodes, freshEdges := req.GraphRelations.Graph(name).Counts()
		have, _ := ix.Counts(name)
		if have.Nodes != freshNodes || have.Edges != freshEdges {
			mismatched = append(mismatched, map[string]any{
				"graph":      name,
				"indexNodes": have.Nodes,
				"indexEdges": have.Edges,
				"nodes":      freshNodes,
				"edges":      freshEdges,
			})
		}
	}
	if len(mismatched) == 0 && !rootMismatch {
		return ix
	}

	if len(mismatched) > 0 {
		warn.add(WarnGraphCountMismatch, "", "Graph index node/edge counts differ from supplied graph relations.",
			map[string]any{"graphs": mismatched})
	}
	if rootMismatch {
		warn.add(WarnGraphIndexRepoRoot, "", "Graph index was built for a different repo root.",
			map[string]any{"indexRepoRoot": ix.RepoRoot(), "repoRoot": req.RepoRoot})
	}
	warn.add(WarnGraphIndexMismatch, "", "Graph index is stale; traversing the supplied graph relations instead.", nil)

	root := req.RepoRoot
	if root == "" {
		root = ix.RepoRoot()
	}
	rebased, err := ix.Rebase(bctx, req.GraphRelations, root)
	if err != nil {
		logger.Error("graph index rebase failed; using stale index", "error", err)
		return ix
	}
	logger.Warn("graph index stale, traversing supplied relations",
		"index_signature", ix.Signature(),
		"count_mismatches", len(mismatched),
		"repo_root_mismatch", rootMismatch,
	)
	return rebased
}
