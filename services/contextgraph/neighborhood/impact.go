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
	"slices"
	"strings"
	"time"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/budget"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
)

// Impact directions.
const (
	ImpactUpstream   = "upstream"
	ImpactDownstream = "downstream"
)

// ImpactTruncationScope is the scope of records emitted by impact analysis
// itself. Records from the per-seed expansions keep TruncationScope.
const ImpactTruncationScope = "impact"

// WarnEmptyChangedSet is emitted when neither a seed nor a changed path was
// supplied.
const WarnEmptyChangedSet = "EMPTY_CHANGED_SET"

// SeedStatusAmbiguous marks the seed envelope built from several changed
// paths.
const SeedStatusAmbiguous = "ambiguous"

// ImpactRequest describes one impact analysis.
//
// Seed takes precedence over Changed. A typed seed is expanded alone; a
// resolver payload expands its resolved candidate and every candidate.
type ImpactRequest struct {
	Seed    *Seed
	Changed []string

	GraphIndex     *graph.Index
	GraphRelations *artifact.GraphRelations
	SymbolEdges    []artifact.SymbolEdge
	CallSites      []artifact.CallSite

	// Direction is upstream (who depends on the seed) or downstream (what
	// the seed reaches). Anything else means downstream.
	Direction string

	// Depth defaults to 1.
	Depth *int

	EdgeFilters *EdgeFilters
	Caps        graph.Caps
	RepoRoot    string
	Logger      *slog.Logger
}

// ImpactedNode is one node reached from the seeds.
//
// WitnessPath is the shortest path over all seeds. Partial is set when no
// path survived the path caps.
type ImpactedNode struct {
	Ref         graph.NodeRef      `json:"ref"`
	Distance    int                `json:"distance"`
	Confidence  *float64           `json:"confidence"`
	WitnessPath *graph.WitnessPath `json:"witnessPath,omitempty"`
	Partial     bool               `json:"partial,omitempty"`
}

// ImpactCounts are result sizes and work done.
type ImpactCounts struct {
	Impacted      int `json:"impacted"`
	WorkUnitsUsed int `json:"workUnitsUsed"`
}

// ImpactStats describes how an impact result was produced.
type ImpactStats struct {
	ArtifactsUsed ArtifactsUsed `json:"artifactsUsed"`
	Counts        ImpactCounts  `json:"counts"`
	ElapsedMs     int64         `json:"elapsedMs"`
}

// ImpactResult is the output of BuildImpact. Impacted is never nil.
type ImpactResult struct {
	Seed       *Seed              `json:"seed"`
	Direction  string             `json:"direction"`
	Depth      int                `json:"depth"`
	Impacted   []ImpactedNode     `json:"impacted"`
	Truncation []TruncationRecord `json:"truncation"`
	Warnings   []Warning          `json:"warnings"`
	Stats      ImpactStats        `json:"stats"`
}

// HasWarning reports whether a warning with code was emitted.
func (r *ImpactResult) HasWarning(code string) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// NormalizeImpactDirection maps s onto upstream or downstream.
func NormalizeImpactDirection(s string) string {
	if strings.EqualFold(strings.TrimSpace(s), ImpactUpstream) {
		return ImpactUpstream
	}
	return ImpactDownstream
}

// BuildImpact reports the nodes affected by a change.
//
// Description:
//
//	Resolves the seeds, expands a neighborhood around each one with witness
//	paths, and merges the results. Upstream traverses incoming edges and
//	downstream outgoing edges. Each impacted node keeps its minimum
//	distance over all seeds, its highest confidence and its shortest
//	witness path. Seeds themselves (distance 0) are not reported.
//
// Inputs:
//
//	ctx - Context for tracing. Cancellation does not stop the expansion;
//	      the work budget bounds it.
//	req - The analysis. When GraphIndex is nil a transient index is built
//	      once and shared by every seed.
//
// Outputs:
//
//	*ImpactResult - Never nil. Problems surface as warnings.
//
// Thread Safety:
//
//	Safe for concurrent use with distinct requests.
func BuildImpact(ctx context.Context, req ImpactRequest) *ImpactResult {
	start := time.Now()
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	caps := req.Caps.Normalize()

	res := &ImpactResult{
		Direction: NormalizeImpactDirection(req.Direction),
		Depth:     1,
		Impacted:  []ImpactedNode{},
	}
	if req.Depth != nil {
		res.Depth = max(*req.Depth, 0)
	}

	warn := newWarningSink()
	var trunc []TruncationRecord
	seedRef, seeds := impactSeeds(req, caps, warn, &trunc)
	res.Seed = seedRef
	if len(seeds) == 0 {
		res.Truncation = nilIfEmpty(trunc)
		res.Warnings = warn.result()
		res.Stats.ElapsedMs = time.Since(start).Milliseconds()
		return res
	}

	filter := newEdgeFilter(req.EdgeFilters)
	ix := resolveIndex(ctx, Request{
		GraphIndex:     req.GraphIndex,
		GraphRelations: req.GraphRelations,
		SymbolEdges:    req.SymbolEdges,
		CallSites:      req.CallSites,
		RepoRoot:       req.RepoRoot,
	}, filter, warn, logger)

	dir := graph.DirOut
	if res.Direction == ImpactUpstream {
		dir = graph.DirIn
	}
	b := budget.New(caps.MaxWorkUnits, caps.MaxWallClockMs)
	depth := res.Depth

	impacted := make(map[string]*ImpactedNode)
	truncSeen := make(map[string]bool)
	for _, r := range trunc {
		truncSeen[r.Scope+"\x00"+r.Cap] = true
	}
	for i := range seeds {
		nb := Build(ctx, Request{
			Seed:         &seeds[i],
			GraphIndex:   ix,
			Direction:    dir,
			Depth:        &depth,
			EdgeFilters:  req.EdgeFilters,
			Caps:         req.Caps,
			IncludePaths: true,
			WorkBudget:   b,
			RepoRoot:     req.RepoRoot,
			Logger:       logger,
		})
		for _, w := range nb.Warnings {
			warn.add(w.Code, w.Message, w.Message, w.Data)
		}
		for _, r := range nb.Truncation {
			if key := r.Scope + "\x00" + r.Cap; !truncSeen[key] {
				truncSeen[key] = true
				trunc = append(trunc, r)
			}
		}
		res.Stats.ArtifactsUsed.GraphRelations = res.Stats.ArtifactsUsed.GraphRelations || nb.Stats.ArtifactsUsed.GraphRelations
		res.Stats.ArtifactsUsed.SymbolEdges = res.Stats.ArtifactsUsed.SymbolEdges || nb.Stats.ArtifactsUsed.SymbolEdges
		res.Stats.ArtifactsUsed.CallSites = res.Stats.ArtifactsUsed.CallSites || nb.Stats.ArtifactsUsed.CallSites

		for j := range nb.Nodes {
			mergeImpacted(impacted, &nb.Nodes[j])
		}
		for j := range nb.Paths {
			mergeWitness(impacted, &nb.Paths[j])
		}
	}

	for _, n := range impacted {
		n.Partial = n.WitnessPath == nil
		res.Impacted = append(res.Impacted, *n)
	}
	slices.SortFunc(res.Impacted, func(a, b ImpactedNode) int {
		return graph.CompareNodes(
			&graph.Node{Ref: a.Ref, Distance: a.Distance, Confidence: a.Confidence},
			&graph.Node{Ref: b.Ref, Distance: b.Distance, Confidence: b.Confidence},
		)
	})

	res.Truncation = nilIfEmpty(trunc)
	res.Warnings = warn.result()
	res.Stats.Counts.Impacted = len(res.Impacted)
	res.Stats.Counts.WorkUnitsUsed = b.Used()
	res.Stats.ElapsedMs = time.Since(start).Milliseconds()

	logger.Debug("impact analysis complete",
		"direction", res.Direction,
		"seeds", len(seeds),
		"impacted", len(res.Impacted),
		"work_units", res.Stats.Counts.WorkUnitsUsed,
	)
	return res
}

// impactSeeds returns the reported seed and the seeds to expand.
func impactSeeds(req ImpactRequest, caps graph.Caps, warn *warningSink, trunc *[]TruncationRecord) (*Seed, []Seed) {
	if s := req.Seed; s != nil {
		if s.Ref != nil {
			return s, []Seed{*s}
		}
		var out []Seed
		if s.Resolved != nil {
			if ref, ok := candidateRef(s.Resolved); ok {
				out = append(out, RefSeed(ref))
			}
		}
		for i := range s.Candidates {
			if ref, ok := candidateRef(&s.Candidates[i]); ok {
				out = append(out, RefSeed(ref))
			}
		}
		return s, out
	}

	paths := normalizeChangedPaths(req.Changed)
	if len(paths) == 0 {
		warn.add(WarnEmptyChangedSet, "", "No changed paths provided; impact analysis skipped.", nil)
		return nil, nil
	}
	if limit := caps.MaxCandidates; limit != nil && len(paths) > *limit {
		omitted := len(paths) - *limit
		*trunc = append(*trunc, TruncationRecord{
			Scope:    ImpactTruncationScope,
			Cap:      graph.CapMaxCandidates,
			Limit:    *limit,
			Observed: len(paths),
			Omitted:  &omitted,
		})
		paths = paths[:*limit]
	}
	if len(paths) == 0 {
		return nil, nil
	}

	seeds := make([]Seed, 0, len(paths))
	for _, p := range paths {
		seeds = append(seeds, FileSeed(p))
	}
	if len(paths) == 1 {
		return &seeds[0], seeds
	}
	envelope := &Seed{Status: SeedStatusAmbiguous, Candidates: make([]artifact.Candidate, 0, len(paths))}
	for _, p := range paths {
		envelope.Candidates = append(envelope.Candidates, artifact.Candidate{Path: p})
	}
	return envelope, seeds
}

// normalizeChangedPaths trims, drops empties, dedupes and sorts.
func normalizeChangedPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func mergeImpacted(into map[string]*ImpactedNode, n *graph.Node) {
	if n.Distance == 0 {
		return
	}
	key := n.Ref.Key()
	if key == "" {
		return
	}
	cur, ok := into[key]
	if !ok {
		into[key] = &ImpactedNode{Ref: n.Ref, Distance: n.Distance, Confidence: n.Confidence}
		return
	}
	cur.Distance = min(cur.Distance, n.Distance)
	if n.Confidence != nil && (cur.Confidence == nil || *n.Confidence > *cur.Confidence) {
		c := *n.Confidence
		cur.Confidence = &c
	}
}

func mergeWitness(into map[string]*ImpactedNode, p *graph.WitnessPath) {
	cur, ok := into[p.To.Key()]
	if !ok {
		return
	}
	if w := cur.WitnessPath; w == nil || p.Distance < w.Distance ||
		(p.Distance == w.Distance && graph.CompareWitnessPaths(p, w) < 0) {
		cp := *p
		cur.WitnessPath = &cp
	}
}

func nilIfEmpty[T any](list []T) []T {
	if len(list) == 0 {
		return nil
	}
	return list
}
