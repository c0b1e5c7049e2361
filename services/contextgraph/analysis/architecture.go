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
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
	"github.com/AleutianAI/contextgraph/services/contextgraph/neighborhood"
)

// ArchitectureScope is the truncation scope of architecture reports.
const ArchitectureScope = "architecture"

// Cap names specific to architecture checks.
const (
	CapMaxViolations    = "maxViolations"
	CapMaxEdgesExamined = "maxEdgesExamined"
)

// RulesVersion is the only supported rules document version.
const RulesVersion = 1

// Rule types.
const (
	RuleForbiddenImport = "forbiddenImport"
	RuleForbiddenCall   = "forbiddenCall"
	RuleLayering        = "layering"
)

// Layer is one layer of a layering rule. Earlier layers may not import
// later ones.
type Layer struct {
	Name  string       `json:"name" yaml:"name"`
	Match PathSelector `json:"match" yaml:"match"`
}

// Rule is one architecture rule.
//
// forbiddenImport and forbiddenCall flag edges whose source matches From
// and whose target matches To. layering flags imports from an earlier layer
// into a later one.
type Rule struct {
	ID       string       `json:"id" yaml:"id"`
	Type     string       `json:"type" yaml:"type"`
	Severity string       `json:"severity,omitempty" yaml:"severity,omitempty"`
	Message  string       `json:"message,omitempty" yaml:"message,omitempty"`
	From     PathSelector `json:"from,omitzero" yaml:"from,omitempty"`
	To       PathSelector `json:"to,omitzero" yaml:"to,omitempty"`
	Layers   []Layer      `json:"layers,omitempty" yaml:"layers,omitempty"`
}

// RuleSet is an architecture rules document.
type RuleSet struct {
	Version int    `json:"version" yaml:"version"`
	Rules   []Rule `json:"rules" yaml:"rules"`
}

// Validate checks the document version and the presence of a rules list.
func (rs *RuleSet) Validate() error {
	if rs == nil {
		return fmt.Errorf("%w: empty document", ErrInvalidRules)
	}
	if rs.Version != RulesVersion {
		return fmt.Errorf("%w: version must be %d, got %d", ErrInvalidRules, RulesVersion, rs.Version)
	}
	if rs.Rules == nil {
		return fmt.Errorf("%w: missing rules list", ErrInvalidRules)
	}
	return nil
}

// ParseArchitectureRules decodes a YAML or JSON rules document and
// validates it.
func ParseArchitectureRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRules, err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// ArchitectureCaps bounds an architecture check.
type ArchitectureCaps struct {
	MaxViolations    *int `json:"maxViolations,omitempty" yaml:"max_violations,omitempty"`
	MaxEdgesExamined *int `json:"maxEdgesExamined,omitempty" yaml:"max_edges_examined,omitempty"`
}

// ArchitectureRequest describes one architecture check.
type ArchitectureRequest struct {
	Rules          []Rule
	GraphRelations *artifact.GraphRelations
	RepoRoot       string
	Caps           ArchitectureCaps
	Logger         *slog.Logger
}

// RuleSummary counts the violations of one rule.
type RuleSummary struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Severity   string `json:"severity,omitempty"`
	Violations int    `json:"violations"`
}

// ViolationEdge is the offending edge.
type ViolationEdge struct {
	EdgeType string        `json:"edgeType"`
	From     graph.NodeRef `json:"from"`
	To       graph.NodeRef `json:"to"`
}

// Violation is one rule breach.
type Violation struct {
	RuleID   string          `json:"ruleId"`
	Edge     ViolationEdge   `json:"edge"`
	Evidence *graph.Evidence `json:"evidence,omitempty"`
}

// ArchitectureReport is the output of CheckArchitecture. Rules and
// Violations are never nil.
type ArchitectureReport struct {
	Rules      []RuleSummary                   `json:"rules"`
	Violations []Violation                     `json:"violations"`
	Truncation []neighborhood.TruncationRecord `json:"truncation"`
	Warnings   []neighborhood.Warning          `json:"warnings"`
}

type compiledLayer struct {
	name  string
	match selector
}

type compiledRule struct {
	Rule
	from, to selector
	layers   []compiledLayer
	layerOf  map[string]int
}

// layer returns the index of the first layer matching p, or -1.
func (r *compiledRule) layer(p string) int {
	if i, ok := r.layerOf[p]; ok {
		return i
	}
	idx := -1
	for i, l := range r.layers {
		if l.match.matches(p) {
			idx = i
			break
		}
	}
	r.layerOf[p] = idx
	return idx
}

// CheckArchitecture evaluates rules against the call and import graphs.
//
// Description:
//
//	Compiles the rules, then walks every edge of the call graph for
//	forbiddenCall rules and every edge of the import graph for
//	forbiddenImport and layering rules. Nodes are visited in id order and
//	each out list in sorted order, so violations come out in a stable
//	order. Call rules match the files of the chunks at either end.
//
// Inputs:
//
//	ctx - Carried to the log record; the caps bound the work.
//	req - The check.
//
// Outputs:
//
//	*ArchitectureReport - Never nil. Malformed rules surface as warnings.
//
// Thread Safety:
//
//	Safe for concurrent use.
func CheckArchitecture(ctx context.Context, req ArchitectureRequest) *ArchitectureReport {
	logger := req.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxViolations := clamp(req.Caps.MaxViolations)
	maxEdges := clamp(req.Caps.MaxEdgesExamined)

	c := &checker{
		trunc:         newRecorder(ArchitectureScope),
		maxViolations: maxViolations,
		maxEdges:      maxEdges,
		repoRoot:      req.RepoRoot,
		summaryByID:   make(map[string]int),
		report:        &ArchitectureReport{Rules: []RuleSummary{}, Violations: []Violation{}},
	}
	rules := c.compile(req.Rules)

	if req.GraphRelations == nil {
		if len(rules) > 0 {
			c.warnings = append(c.warnings, neighborhood.Warning{
				Code:    WarnGraphRelationsMissing,
				Message: "Graph relations artifact is missing; architecture rules were skipped.",
			})
		}
		return c.finish()
	}

	var callRules, importRules, layerRules []*compiledRule
	for _, r := range rules {
		switch r.Type {
		case RuleForbiddenCall:
			callRules = append(callRules, r)
		case RuleForbiddenImport:
			importRules = append(importRules, r)
		case RuleLayering:
			layerRules = append(layerRules, r)
		}
	}

	if len(callRules) > 0 {
		c.walk(req.GraphRelations.CallGraph, graph.EdgeCall, func(from, to graph.NodeRef, fromPath, toPath string) {
			for _, r := range callRules {
				if c.stopped {
					return
				}
				if r.from.matches(fromPath) && r.to.matches(toPath) {
					c.violate(r, graph.EdgeCall, from, to, r.Message)
				}
			}
		})
	}
	if len(importRules)+len(layerRules) > 0 && !c.stopped {
		c.walk(req.GraphRelations.ImportGraph, graph.EdgeImport, func(from, to graph.NodeRef, fromPath, toPath string) {
			for _, r := range importRules {
				if c.stopped {
					return
				}
				if r.from.matches(fromPath) && r.to.matches(toPath) {
					c.violate(r, graph.EdgeImport, from, to, r.Message)
				}
			}
			for _, r := range layerRules {
				if c.stopped {
					return
				}
				fi, ti := r.layer(fromPath), r.layer(toPath)
				if fi >= 0 && ti >= 0 && fi < ti {
					note := fmt.Sprintf("Layering violation: %s -> %s", r.layers[fi].name, r.layers[ti].name)
					c.violate(r, graph.EdgeImport, from, to, note)
				}
			}
		})
	}

	res := c.finish()
	logger.DebugContext(ctx, "architecture check complete",
		"rules", len(res.Rules),
		"violations", len(res.Violations),
		"edges_examined", c.edges,
	)
	return res
}

type checker struct {
	trunc         *recorder
	warnings      []neighborhood.Warning
	maxViolations *int
	maxEdges      *int
	repoRoot      string

	summaryByID map[string]int
	report      *ArchitectureReport
	edges       int
	stopped     bool
}

func (c *checker) compile(rules []Rule) []*compiledRule {
	var out []*compiledRule
	for _, r := range rules {
		r.ID, r.Type = strings.TrimSpace(r.ID), strings.TrimSpace(r.Type)
		if r.ID == "" || r.Type == "" {
			continue
		}
		cr := &compiledRule{Rule: r}
		switch r.Type {
		case RuleForbiddenImport, RuleForbiddenCall:
			cr.from, cr.to = r.From.compile(), r.To.compile()
		case RuleLayering:
			for _, l := range r.Layers {
				if name := strings.TrimSpace(l.Name); name != "" {
					cr.layers = append(cr.layers, compiledLayer{name: name, match: l.Match.compile()})
				}
			}
			if len(cr.layers) == 0 {
				c.warnings = append(c.warnings, neighborhood.Warning{
					Code:    WarnInvalidRule,
					Message: fmt.Sprintf("Layering rule %s has no valid layers.", r.ID),
					Data:    map[string]any{"ruleId": r.ID},
				})
				continue
			}
			cr.layerOf = make(map[string]int)
		default:
			c.warnings = append(c.warnings, neighborhood.Warning{
				Code:    WarnUnknownRuleType,
				Message: fmt.Sprintf("Unknown rule type %s (%s).", r.Type, r.ID),
				Data:    map[string]any{"ruleId": r.ID},
			})
			continue
		}
		c.summaryByID[r.ID] = len(c.report.Rules)
		c.report.Rules = append(c.report.Rules, RuleSummary{ID: r.ID, Type: r.Type, Severity: r.Severity})
		out = append(out, cr)
	}
	return out
}

// walk visits the edges of g in node id order. Call graph ends are chunk
// refs, import graph ends are file refs; paths come from node files when
// known, else from ids.
func (c *checker) walk(g *artifact.Graph, edgeType string, visit func(from, to graph.NodeRef, fromPath, toPath string)) {
	if g == nil || c.stopped {
		return
	}
	byID := make(map[string]*artifact.GraphNode, len(g.Nodes))
	ids := make([]string, 0, len(g.Nodes))
	for i := range g.Nodes {
		id := g.Nodes[i].ID
		if id == "" {
			continue
		}
		if _, dup := byID[id]; !dup {
			ids = append(ids, id)
		}
		byID[id] = &g.Nodes[i]
	}
	slices.Sort(ids)

	pathOf := func(n *artifact.GraphNode, id string) string {
		if n != nil && n.File != "" {
			return graph.NormalizeImportPath(n.File, c.repoRoot)
		}
		return graph.NormalizeImportPath(id, c.repoRoot)
	}
	refOf := func(p, id string) graph.NodeRef {
		if edgeType == graph.EdgeImport {
			return graph.FileRef(p)
		}
		return graph.ChunkRef(id)
	}

	for _, id := range ids {
		from := byID[id]
		out := slices.Clone(from.Out)
		slices.Sort(out)
		for _, toID := range out {
			if toID == "" {
				continue
			}
			if c.limitReached() {
				c.stopped = true
				return
			}
			c.edges++
			fromPath, toPath := pathOf(from, id), pathOf(byID[toID], toID)
			if fromPath == "" || toPath == "" {
				continue
			}
			visit(refOf(fromPath, id), refOf(toPath, toID), fromPath, toPath)
			if c.stopped {
				return
			}
		}
	}
}

func (c *checker) limitReached() bool {
	if c.maxViolations != nil && len(c.report.Violations) >= *c.maxViolations {
		c.trunc.record(CapMaxViolations, *c.maxViolations, len(c.report.Violations), -1)
		return true
	}
	if c.maxEdges != nil && c.edges >= *c.maxEdges {
		c.trunc.record(CapMaxEdgesExamined, *c.maxEdges, c.edges, -1)
		return true
	}
	return false
}

func (c *checker) violate(r *compiledRule, edgeType string, from, to graph.NodeRef, note string) {
	if c.maxViolations != nil && len(c.report.Violations) >= *c.maxViolations {
		c.trunc.record(CapMaxViolations, *c.maxViolations, len(c.report.Violations), -1)
		c.stopped = true
		return
	}
	v := Violation{RuleID: r.ID, Edge: ViolationEdge{EdgeType: edgeType, From: from, To: to}}
	if note != "" {
		v.Evidence = &graph.Evidence{Note: note}
	}
	c.report.Violations = append(c.report.Violations, v)
	c.report.Rules[c.summaryByID[r.ID]].Violations++
}

func (c *checker) finish() *ArchitectureReport {
	c.report.Truncation = c.trunc.result()
	if len(c.warnings) > 0 {
		c.report.Warnings = c.warnings
	}
	return c.report
}
