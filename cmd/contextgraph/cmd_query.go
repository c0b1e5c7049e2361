// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/contextgraph/services/contextgraph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/neighborhood"
)

var errNoSeed = errors.New("at least one of --chunk, --file or --symbol is required")

type queryFlags struct {
	chunks        []string
	files         []string
	symbols       []string
	direction     string
	depth         int
	graphs        []string
	edgeTypes     []string
	minConfidence float64
	includePaths  bool
	repoRoot      string
	pretty        bool

	maxDepth, maxFanout, maxNodes, maxEdges, maxPaths int
	maxCandidates, maxWorkUnits, maxWallClockMs        int
}

func newQueryCmd(st *cliState) *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Expand a neighborhood and print it as JSON",
		Long: `Expand the neighborhood around one or more seeds.

Several seeds are expanded independently and unioned. Caps left unset take
the configured traversal defaults.

Examples:
  contextgraph query --index-dir .index --chunk c1
  contextgraph query --index-dir .index --file src/app.js --direction in --depth 2
  contextgraph query --index-dir .index --symbol sym:auth.Validate --graphs symbolEdges --paths`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, st, f)
		},
	}

	fl := cmd.Flags()
	fl.StringSliceVar(&f.chunks, "chunk", nil, "Seed chunk UID (repeatable)")
	fl.StringSliceVar(&f.files, "file", nil, "Seed file path (repeatable)")
	fl.StringSliceVar(&f.symbols, "symbol", nil, "Seed symbol ID (repeatable)")
	fl.StringVar(&f.direction, "direction", "", "Edge direction: in, out or both")
	fl.IntVar(&f.depth, "depth", 0, "BFS depth")
	fl.StringSliceVar(&f.graphs, "graphs", nil, "Graphs to follow: callGraph, usageGraph, importGraph, symbolEdges")
	fl.StringSliceVar(&f.edgeTypes, "edge-types", nil, "Edge types to follow")
	fl.Float64Var(&f.minConfidence, "min-confidence", 0, "Drop scored edges below this confidence")
	fl.BoolVar(&f.includePaths, "paths", false, "Include witness paths")
	fl.StringVar(&f.repoRoot, "repo-root", "", "Repository root for file seeds")
	fl.BoolVar(&f.pretty, "pretty", false, "Indent JSON output")

	fl.IntVar(&f.maxDepth, "max-depth", 0, "Cap: maximum depth")
	fl.IntVar(&f.maxFanout, "max-fanout", 0, "Cap: edges followed per node")
	fl.IntVar(&f.maxNodes, "max-nodes", 0, "Cap: nodes returned")
	fl.IntVar(&f.maxEdges, "max-edges", 0, "Cap: edges returned")
	fl.IntVar(&f.maxPaths, "max-paths", 0, "Cap: witness paths returned")
	fl.IntVar(&f.maxCandidates, "max-candidates", 0, "Cap: candidates per symbol ref")
	fl.IntVar(&f.maxWorkUnits, "max-work-units", 0, "Cap: edge expansions")
	fl.IntVar(&f.maxWallClockMs, "max-wall-clock-ms", 0, "Cap: wall clock in milliseconds")
	return cmd
}

// request maps flags onto an HTTP-equivalent request. Only flags the user
// set are carried so unset ones fall back to configuration.
func (f *queryFlags) request(cmd *cobra.Command) (*contextgraph.NeighborhoodRequest, error) {
	req := &contextgraph.NeighborhoodRequest{
		Direction:    f.direction,
		IncludePaths: f.includePaths,
	}
	for _, uid := range f.chunks {
		req.Seeds = append(req.Seeds, neighborhood.ChunkSeed(uid))
	}
	for _, p := range f.files {
		req.Seeds = append(req.Seeds, neighborhood.FileSeed(p))
	}
	for _, id := range f.symbols {
		req.Seeds = append(req.Seeds, neighborhood.SymbolSeed(id))
	}
	if len(req.Seeds) == 0 {
		return nil, errNoSeed
	}

	changed := cmd.Flags().Changed
	if changed("depth") {
		d := f.depth
		req.Depth = &d
	}
	if len(f.graphs) > 0 || len(f.edgeTypes) > 0 || changed("min-confidence") {
		req.EdgeFilters = &neighborhood.EdgeFilters{Graphs: f.graphs, EdgeTypes: f.edgeTypes}
		if changed("min-confidence") {
			mc := f.minConfidence
			req.EdgeFilters.MinConfidence = &mc
		}
	}

	setCap := func(flag string, v int, dst **int) {
		if changed(flag) {
			*dst = graph.Cap(v)
		}
	}
	setCap("max-depth", f.maxDepth, &req.Caps.MaxDepth)
	setCap("max-fanout", f.maxFanout, &req.Caps.MaxFanoutPerNode)
	setCap("max-nodes", f.maxNodes, &req.Caps.MaxNodes)
	setCap("max-edges", f.maxEdges, &req.Caps.MaxEdges)
	setCap("max-paths", f.maxPaths, &req.Caps.MaxPaths)
	setCap("max-candidates", f.maxCandidates, &req.Caps.MaxCandidates)
	setCap("max-work-units", f.maxWorkUnits, &req.Caps.MaxWorkUnits)
	setCap("max-wall-clock-ms", f.maxWallClockMs, &req.Caps.MaxWallClockMs)
	return req, nil
}

func runQuery(cmd *cobra.Command, st *cliState, f *queryFlags) error {
	req, err := f.request(cmd)
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, snap, err := st.openService(ctx, f.repoRoot)
	if err != nil {
		return err
	}
	defer snap.Close()

	res, err := svc.Neighborhood(ctx, req)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		st.logger.Warn("neighborhood warning", "code", w.Code, "message", w.Message)
	}
	return writeJSON(cmd.OutOrStdout(), res, f.pretty)
}
