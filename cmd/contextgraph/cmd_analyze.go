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
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/contextgraph/services/contextgraph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/analysis"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/neighborhood"
)

var (
	errNoChange = errors.New("at least one of --changed, --chunk or --symbol is required")

	// errViolations is returned by architecture --fail-on-violation.
	errViolations = errors.New("architecture rules violated")
)

type impactFlags struct {
	changed   []string
	chunk     string
	symbol    string
	direction string
	depth     int
	graphs    []string
	edgeTypes []string
	repoRoot  string
	pretty    bool

	maxDepth, maxFanout, maxNodes, maxCandidates, maxWorkUnits int
}

func newImpactCmd(st *cliState) *cobra.Command {
	f := &impactFlags{}
	cmd := &cobra.Command{
		Use:   "impact",
		Short: "Report the nodes a change affects",
		Long: `Report the nodes reachable from a change.

Downstream follows outgoing edges (what the change reaches); upstream
follows incoming edges (what depends on the change). Several changed files
are expanded separately and merged, keeping each node's shortest path.

Examples:
  contextgraph impact --index-dir .index --changed src/auth.js --direction upstream --depth 2
  contextgraph impact --index-dir .index --chunk c1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImpact(cmd, st, f)
		},
	}

	fl := cmd.Flags()
	fl.StringSliceVar(&f.changed, "changed", nil, "Changed file path (repeatable)")
	fl.StringVar(&f.chunk, "chunk", "", "Seed chunk UID instead of changed files")
	fl.StringVar(&f.symbol, "symbol", "", "Seed symbol ID instead of changed files")
	fl.StringVar(&f.direction, "direction", neighborhood.ImpactDownstream, "upstream or downstream")
	fl.IntVar(&f.depth, "depth", 0, "BFS depth")
	fl.StringSliceVar(&f.graphs, "graphs", nil, "Graphs to follow")
	fl.StringSliceVar(&f.edgeTypes, "edge-types", nil, "Edge types to follow")
	fl.StringVar(&f.repoRoot, "repo-root", "", "Repository root for changed paths")
	fl.BoolVar(&f.pretty, "pretty", false, "Indent JSON output")

	fl.IntVar(&f.maxDepth, "max-depth", 0, "Cap: maximum depth")
	fl.IntVar(&f.maxFanout, "max-fanout", 0, "Cap: edges followed per node")
	fl.IntVar(&f.maxNodes, "max-nodes", 0, "Cap: nodes per seed")
	fl.IntVar(&f.maxCandidates, "max-candidates", 0, "Cap: changed files expanded")
	fl.IntVar(&f.maxWorkUnits, "max-work-units", 0, "Cap: edge expansions over all seeds")
	return cmd
}

func (f *impactFlags) request(cmd *cobra.Command) (*contextgraph.ImpactRequest, error) {
	req := &contextgraph.ImpactRequest{Changed: f.changed, Direction: f.direction}
	switch {
	case f.chunk != "":
		s := neighborhood.ChunkSeed(f.chunk)
		req.Seed = &s
	case f.symbol != "":
		s := neighborhood.SymbolSeed(f.symbol)
		req.Seed = &s
	case len(f.changed) == 0:
		return nil, errNoChange
	}

	changed := cmd.Flags().Changed
	if changed("depth") {
		d := f.depth
		req.Depth = &d
	}
	if len(f.graphs) > 0 || len(f.edgeTypes) > 0 {
		req.EdgeFilters = &neighborhood.EdgeFilters{Graphs: f.graphs, EdgeTypes: f.edgeTypes}
	}
	setCap := func(flag string, v int, dst **int) {
		if changed(flag) {
			*dst = graph.Cap(v)
		}
	}
	setCap("max-depth", f.maxDepth, &req.Caps.MaxDepth)
	setCap("max-fanout", f.maxFanout, &req.Caps.MaxFanoutPerNode)
	setCap("max-nodes", f.maxNodes, &req.Caps.MaxNodes)
	setCap("max-candidates", f.maxCandidates, &req.Caps.MaxCandidates)
	setCap("max-work-units", f.maxWorkUnits, &req.Caps.MaxWorkUnits)
	return req, nil
}

func runImpact(cmd *cobra.Command, st *cliState, f *impactFlags) error {
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

	res, err := svc.Impact(ctx, req)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		st.logger.Warn("impact warning", "code", w.Code, "message", w.Message)
	}
	return writeJSON(cmd.OutOrStdout(), res, f.pretty)
}

type suggestFlags struct {
	changed  []string
	tests    []string
	patterns []string
	repoRoot string
	pretty   bool

	maxDepth, maxNodes, maxEdges, maxWorkUnits int
	maxCandidates, maxSuggestions, maxSeeds    int
}

func newSuggestTestsCmd(st *cliState) *cobra.Command {
	f := &suggestFlags{}
	cmd := &cobra.Command{
		Use:   "suggest-tests",
		Short: "Rank tests likely to exercise a change",
		Long: `Rank tests by import-graph distance from the changed files.

Without --tests, test files are discovered under the repository root. When
the import graph reaches no test, tests sharing a name or directory with a
changed file are suggested instead.

Examples:
  contextgraph suggest-tests --index-dir .index --repo-root . --changed src/auth.js
  contextgraph suggest-tests --index-dir .index --changed src/auth.js --tests test/auth.test.js`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuggestTests(cmd, st, f)
		},
	}

	fl := cmd.Flags()
	fl.StringSliceVar(&f.changed, "changed", nil, "Changed file path (repeatable)")
	fl.StringSliceVar(&f.tests, "tests", nil, "Candidate test path (repeatable); skips discovery")
	fl.StringSliceVar(&f.patterns, "test-pattern", nil, "Glob restricting discovered tests (repeatable)")
	fl.StringVar(&f.repoRoot, "repo-root", "", "Repository root for discovery and changed paths")
	fl.BoolVar(&f.pretty, "pretty", false, "Indent JSON output")

	fl.IntVar(&f.maxDepth, "max-depth", 0, "Cap: import hops")
	fl.IntVar(&f.maxNodes, "max-nodes", 0, "Cap: files visited")
	fl.IntVar(&f.maxEdges, "max-edges", 0, "Cap: import edges walked")
	fl.IntVar(&f.maxWorkUnits, "max-work-units", 0, "Cap: work units")
	fl.IntVar(&f.maxCandidates, "max-candidates", 0, "Cap: tests discovered")
	fl.IntVar(&f.maxSuggestions, "max-suggestions", 0, "Cap: suggestions returned")
	fl.IntVar(&f.maxSeeds, "max-seeds", 0, "Cap: changed files considered")
	_ = cmd.MarkFlagRequired("changed")
	return cmd
}

func (f *suggestFlags) request(cmd *cobra.Command) *contextgraph.SuggestTestsRequest {
	req := &contextgraph.SuggestTestsRequest{Changed: f.changed, TestPatterns: f.patterns}
	if cmd.Flags().Changed("tests") {
		req.Tests = f.tests
		if req.Tests == nil {
			req.Tests = []string{}
		}
	}
	changed := cmd.Flags().Changed
	setCap := func(flag string, v int, dst **int) {
		if changed(flag) {
			*dst = graph.Cap(v)
		}
	}
	setCap("max-depth", f.maxDepth, &req.Caps.MaxDepth)
	setCap("max-nodes", f.maxNodes, &req.Caps.MaxNodes)
	setCap("max-edges", f.maxEdges, &req.Caps.MaxEdges)
	setCap("max-work-units", f.maxWorkUnits, &req.Caps.MaxWorkUnits)
	setCap("max-candidates", f.maxCandidates, &req.Caps.MaxCandidates)
	setCap("max-suggestions", f.maxSuggestions, &req.Caps.MaxSuggestions)
	setCap("max-seeds", f.maxSeeds, &req.Caps.MaxSeeds)
	return req
}

func runSuggestTests(cmd *cobra.Command, st *cliState, f *suggestFlags) error {
	req := f.request(cmd)
	if err := req.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, snap, err := st.openService(ctx, f.repoRoot)
	if err != nil {
		return err
	}
	defer snap.Close()

	res, err := svc.SuggestTests(ctx, req)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		st.logger.Warn("suggest-tests warning", "code", w.Code, "message", w.Message)
	}
	return writeJSON(cmd.OutOrStdout(), res, f.pretty)
}

type architectureFlags struct {
	rulesPath       string
	repoRoot        string
	failOnViolation bool
	pretty          bool

	maxViolations, maxEdgesExamined int
}

func newArchitectureCmd(st *cliState) *cobra.Command {
	f := &architectureFlags{}
	cmd := &cobra.Command{
		Use:   "architecture",
		Short: "Check architecture rules against the call and import graphs",
		Long: `Check forbiddenImport, forbiddenCall and layering rules.

The rules file is YAML or JSON with version 1 and a rules list. Paths are
matched with gitignore-style globs.

Examples:
  contextgraph architecture --index-dir .index --rules architecture.yaml
  contextgraph architecture --index-dir .index --rules rules.json --fail-on-violation`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArchitecture(cmd, st, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.rulesPath, "rules", "", "Rules file (YAML or JSON)")
	fl.StringVar(&f.repoRoot, "repo-root", "", "Repository root for absolute graph ids")
	fl.BoolVar(&f.failOnViolation, "fail-on-violation", false, "Exit non-zero when a rule is violated")
	fl.BoolVar(&f.pretty, "pretty", false, "Indent JSON output")
	fl.IntVar(&f.maxViolations, "max-violations", 0, "Cap: violations reported")
	fl.IntVar(&f.maxEdgesExamined, "max-edges-examined", 0, "Cap: edges examined")
	_ = cmd.MarkFlagRequired("rules")
	return cmd
}

func runArchitecture(cmd *cobra.Command, st *cliState, f *architectureFlags) error {
	data, err := os.ReadFile(f.rulesPath)
	if err != nil {
		return fmt.Errorf("reading rules: %w", err)
	}
	rules, err := analysis.ParseArchitectureRules(data)
	if err != nil {
		return err
	}
	req := &contextgraph.ArchitectureRequest{Rules: rules}
	if cmd.Flags().Changed("max-violations") {
		req.Caps.MaxViolations = graph.Cap(f.maxViolations)
	}
	if cmd.Flags().Changed("max-edges-examined") {
		req.Caps.MaxEdgesExamined = graph.Cap(f.maxEdgesExamined)
	}

	ctx := cmd.Context()
	svc, snap, err := st.openService(ctx, f.repoRoot)
	if err != nil {
		return err
	}
	defer snap.Close()

	res, err := svc.Architecture(ctx, req)
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		st.logger.Warn("architecture warning", "code", w.Code, "message", w.Message)
	}
	if err := writeJSON(cmd.OutOrStdout(), res, f.pretty); err != nil {
		return err
	}
	if f.failOnViolation && len(res.Violations) > 0 {
		return fmt.Errorf("%w: %d violation(s)", errViolations, len(res.Violations))
	}
	return nil
}
