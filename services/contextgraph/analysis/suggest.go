// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"cmp"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/budget"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/neighborhood"
)

// SuggestTestsScope is the truncation scope of suggest-tests reports.
const SuggestTestsScope = "suggestTests"

// Cap names specific to suggest-tests.
const (
	CapMaxSeeds       = "maxSeeds"
	CapMaxSuggestions = "maxSuggestions"
)

// Fallback scores, used when the import graph yields nothing.
const (
	nameMatchScore     = 0.5
	pathProximityScore = 0.25
)

// excludedDirs are never descended into during test discovery.
var excludedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".testCache":   true,
	".testLogs":    true,
	".diagnostics": true,
	".venv":        true,
	"dist":         true,
	"build":        true,
	"out":          true,
}

var testExtensions = map[string]bool{
	".js": true, ".cjs": true, ".mjs": true, ".ts": true, ".tsx": true, ".jsx": true,
}

// SuggestCaps bounds a suggest-tests run. A nil field is unbounded.
type SuggestCaps struct {
	MaxDepth       *int `json:"maxDepth,omitempty" yaml:"max_depth,omitempty"`
	MaxNodes       *int `json:"maxNodes,omitempty" yaml:"max_nodes,omitempty"`
	MaxEdges       *int `json:"maxEdges,omitempty" yaml:"max_edges,omitempty"`
	MaxWorkUnits   *int `json:"maxWorkUnits,omitempty" yaml:"max_work_units,omitempty"`
	MaxWallClockMs *int `json:"maxWallClockMs,omitempty" yaml:"max_wall_clock_ms,omitempty"`
	MaxCandidates  *int `json:"maxCandidates,omitempty" yaml:"max_candidates,omitempty"`
	MaxSuggestions *int `json:"maxSuggestions,omitempty" yaml:"max_suggestions,omitempty"`
	MaxSeeds       *int `json:"maxSeeds,omitempty" yaml:"max_seeds,omitempty"`
}

func (c SuggestCaps) normalize() SuggestCaps {
	return SuggestCaps{
		MaxDepth:       clamp(c.MaxDepth),
		MaxNodes:       clamp(c.MaxNodes),
		MaxEdges:       clamp(c.MaxEdges),
		MaxWorkUnits:   clamp(c.MaxWorkUnits),
		MaxWallClockMs: clamp(c.MaxWallClockMs),
		MaxCandidates:  clamp(c.MaxCandidates),
		MaxSuggestions: clamp(c.MaxSuggestions),
		MaxSeeds:       clamp(c.MaxSeeds),
	}
}

// SuggestRequest describes one suggest-tests run.
type SuggestRequest struct {
	// Changed lists the changed files, absolute or repo-relative.
	Changed []string

	// Tests is the candidate test list. Nil discovers tests under RepoRoot.
	Tests []string

	// TestPatterns restricts discovered tests to matching globs.
	TestPatterns []string

	RepoRoot       string
	GraphRelations *artifact.GraphRelations
	Caps           SuggestCaps
	Logger         *slog.Logger
}

// Suggestion is one suggested test.
type Suggestion struct {
	TestPath    string             `json:"testPath"`
	Score       float64            `json:"score"`
	Reason      string             `json:"reason"`
	WitnessPath *graph.WitnessPath `json:"witnessPath"`
}

// SuggestReport is the output of SuggestTests. Changed and Suggestions are
// never nil.
type SuggestReport struct {
	Changed     []string                        `json:"changed"`
	Suggestions []Suggestion                    `json:"suggestions"`
	Truncation  []neighborhood.TruncationRecord `json:"truncation"`
	Warnings    []neighborhood.Warning          `json:"warnings"`
}

// SuggestTests ranks tests likely to exercise a change.
//
// Description:
//
//	Walks the import graph backwards from the changed files and scores
//	every reachable test by 1/(distance+1). When the graph is missing or
//	reaches no test, falls back to name and directory heuristics: a test
//	whose path contains a changed file's base name scores 0.5, a test
//	under a changed file's directory scores 0.25.
//
// Inputs:
//
//	ctx - Cancels test discovery.
//	req - The run. Without Tests, RepoRoot is required.
//
// Outputs:
//
//	*SuggestReport - Suggestions sorted by score descending, then path.
//	error - ErrRepoRootRequired, or a discovery failure.
//
// Thread Safety:
//
//	Safe for concurrent use.
func SuggestTests(ctx context.Context, req SuggestRequest) (*SuggestReport, error) {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	caps := req.Caps.normalize()
	trunc := newRecorder(SuggestTestsScope)
	var warnings []neighborhood.Warning

	seeds := normalizePaths(req.Changed, req.RepoRoot)
	if caps.MaxSeeds != nil && len(seeds) > *caps.MaxSeeds {
		trunc.record(CapMaxSeeds, *caps.MaxSeeds, len(seeds), len(seeds)-*caps.MaxSeeds)
		seeds = seeds[:*caps.MaxSeeds]
	}

	var tests []string
	if req.Tests != nil {
		tests = normalizePaths(req.Tests, req.RepoRoot)
	} else {
		if req.RepoRoot == "" {
			return nil, ErrRepoRootRequired
		}
		var err error
		tests, err = discoverTests(ctx, req.RepoRoot, compilePatterns(req.TestPatterns), caps.MaxCandidates, trunc)
		if err != nil {
			return nil, fmt.Errorf("discovering tests under %s: %w", req.RepoRoot, err)
		}
	}
	if len(tests) == 0 {
		warnings = append(warnings, neighborhood.Warning{
			Code: WarnNoTestsFound, Message: "No tests were discovered for suggestion.",
		})
	}

	var suggestions []Suggestion
	graphAvailable := req.GraphRelations != nil && req.GraphRelations.ImportGraph != nil
	if graphAvailable && len(seeds) > 0 && len(tests) > 0 {
		incoming := importersByPath(req.GraphRelations.ImportGraph, req.RepoRoot)
		visited := walkImporters(seeds, incoming, caps, trunc)
		for _, t := range tests {
			trail, ok := visited[t]
			if !ok {
				continue
			}
			d := len(trail) - 1
			suggestions = append(suggestions, Suggestion{
				TestPath:    t,
				Score:       1 / float64(d+1),
				Reason:      fmt.Sprintf("graph distance %d", d),
				WitnessPath: fileWitness(trail),
			})
		}
	}

	if len(suggestions) == 0 && len(tests) > 0 {
		if graphAvailable {
			warnings = append(warnings, neighborhood.Warning{
				Code: WarnGraphNoMatches, Message: "No graph-based suggestions; falling back to path heuristics.",
			})
		} else {
			warnings = append(warnings, neighborhood.Warning{
				Code: WarnGraphRelationsMissing, Message: "Graph relations missing; falling back to path heuristics.",
			})
		}
		suggestions = fallbackSuggestions(seeds, tests)
	}

	slices.SortFunc(suggestions, func(a, b Suggestion) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.TestPath, b.TestPath)
	})
	if limit := caps.MaxSuggestions; limit != nil && len(suggestions) > *limit {
		trunc.record(CapMaxSuggestions, *limit, len(suggestions), len(suggestions)-*limit)
		suggestions = suggestions[:*limit]
	}

	logger.Debug("suggest-tests complete",
		"changed", len(seeds),
		"tests", len(tests),
		"suggestions", len(suggestions),
	)
	if suggestions == nil {
		suggestions = []Suggestion{}
	}
	return &SuggestReport{
		Changed:     seeds,
		Suggestions: suggestions,
		Truncation:  trunc.result(),
		Warnings:    warnings,
	}, nil
}

// normalizePaths maps paths onto sorted, unique repo-relative paths.
func normalizePaths(paths []string, repoRoot string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = graph.NormalizeImportPath(strings.TrimSpace(p), repoRoot); p != "" {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// isTestFile reports whether a repo-relative POSIX path names a test.
func isTestFile(rel string) bool {
	base := path.Base(rel)
	if !testExtensions[strings.ToLower(path.Ext(base))] {
		return false
	}
	return strings.Contains(base, ".test.") ||
		strings.Contains(base, "_test.") ||
		strings.Contains("/"+rel, "/__tests__/") ||
		strings.Contains("/"+rel, "/tests/")
}

func discoverTests(ctx context.Context, root string, patterns *patternSet, maxCandidates *int, trunc *recorder) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !isTestFile(rel) {
			return nil
		}
		if patterns != nil && !patterns.matches(rel) {
			return nil
		}
		found = append(found, rel)
		if maxCandidates != nil && len(found) >= *maxCandidates {
			trunc.record(graph.CapMaxCandidates, *maxCandidates, len(found), -1)
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(found)
	return found, nil
}

// importersByPath maps each file to the sorted files importing it.
func importersByPath(g *artifact.Graph, repoRoot string) map[string][]string {
	byID := make(map[string]*artifact.GraphNode, len(g.Nodes))
	for i := range g.Nodes {
		if id := g.Nodes[i].ID; id != "" {
			byID[id] = &g.Nodes[i]
		}
	}
	filePath := func(n *artifact.GraphNode, id string) string {
		if n != nil && n.File != "" {
			return graph.NormalizeImportPath(n.File, repoRoot)
		}
		return graph.NormalizeImportPath(id, repoRoot)
	}

	incoming := make(map[string][]string)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if n.ID == "" {
			continue
		}
		from := filePath(n, n.ID)
		for _, toID := range n.Out {
			to := filePath(byID[toID], toID)
			if from != "" && to != "" {
				incoming[to] = append(incoming[to], from)
			}
		}
	}
	for k, list := range incoming {
		slices.Sort(list)
		incoming[k] = slices.Compact(list)
	}
	return incoming
}

// walkImporters runs a breadth-first walk over importers and returns the
// trail from a seed to every visited file.
func walkImporters(seeds []string, incoming map[string][]string, caps SuggestCaps, trunc *recorder) map[string][]string {
	type item struct {
		path  string
		trail []string
	}
	visited := make(map[string][]string, len(seeds))
	queue := make([]item, 0, len(seeds))
	for _, s := range seeds {
		visited[s] = []string{s}
		queue = append(queue, item{path: s, trail: visited[s]})
	}

	b := budget.New(caps.MaxWorkUnits, caps.MaxWallClockMs)
	edges := 0
	for head := 0; head < len(queue); head++ {
		cur := queue[head]
		dist := len(cur.trail) - 1
		if caps.MaxDepth != nil && dist >= *caps.MaxDepth {
			continue
		}
		for _, next := range incoming[cur.path] {
			if caps.MaxEdges != nil && edges >= *caps.MaxEdges {
				trunc.record(graph.CapMaxEdges, *caps.MaxEdges, edges, -1)
				return visited
			}
			if st := b.Consume(1); st.Stop {
				trunc.record(st.Reason, st.Limit, st.Observed(), -1)
				return visited
			}
			edges++
			if _, ok := visited[next]; ok {
				continue
			}
			trail := append(slices.Clone(cur.trail), next)
			visited[next] = trail
			queue = append(queue, item{path: next, trail: trail})
			if caps.MaxNodes != nil && len(visited) >= *caps.MaxNodes {
				trunc.record(graph.CapMaxNodes, *caps.MaxNodes, len(visited), -1)
				return visited
			}
		}
	}
	return visited
}

func fileWitness(trail []string) *graph.WitnessPath {
	if len(trail) == 0 {
		return nil
	}
	nodes := make([]graph.NodeRef, 0, len(trail))
	for _, p := range trail {
		nodes = append(nodes, graph.FileRef(p))
	}
	return &graph.WitnessPath{
		To:       graph.FileRef(trail[len(trail)-1]),
		Distance: len(trail) - 1,
		Nodes:    nodes,
	}
}

func fallbackSuggestions(changed, tests []string) []Suggestion {
	type meta struct{ base, dir string }
	metas := make([]meta, 0, len(changed))
	for _, c := range changed {
		metas = append(metas, meta{
			base: strings.TrimSuffix(path.Base(c), path.Ext(c)),
			dir:  path.Dir(c),
		})
	}

	var out []Suggestion
	for _, t := range tests {
		var best *Suggestion
		for _, m := range metas {
			if m.base != "" && strings.Contains(t, m.base) {
				best = &Suggestion{TestPath: t, Score: nameMatchScore, Reason: "name match: " + m.base}
				break
			}
			if m.dir != "." && strings.HasPrefix(t, m.dir+"/") {
				best = &Suggestion{TestPath: t, Score: pathProximityScore, Reason: "path proximity: " + m.dir}
			}
		}
		if best != nil {
			out = append(out, *best)
		}
	}
	return out
}
