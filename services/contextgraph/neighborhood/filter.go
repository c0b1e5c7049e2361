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
	"math"
	"strings"

	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
)

// ParseList splits comma-separated entries, trims them and drops empties.
func ParseList(values ...string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// edgeFilter is the normalised form of EdgeFilters.
type edgeFilter struct {
	graphs        map[string]bool
	graphList     []string
	edgeTypes     map[string]bool
	typeList      []string
	minConfidence *float64
}

func newEdgeFilter(f *EdgeFilters) edgeFilter {
	var out edgeFilter
	if f == nil {
		return out
	}
	if list := ParseList(f.Graphs...); len(list) > 0 {
		out.graphs = make(map[string]bool, len(list))
		for _, g := range list {
			if !out.graphs[g] {
				out.graphs[g] = true
				out.graphList = append(out.graphList, g)
			}
		}
	}
	if list := ParseList(f.EdgeTypes...); len(list) > 0 {
		out.edgeTypes = make(map[string]bool, len(list))
		for _, t := range list {
			t = strings.ToLower(t)
			if !out.edgeTypes[t] {
				out.edgeTypes[t] = true
				out.typeList = append(out.typeList, t)
			}
		}
	}
	out.minConfidence = finiteOrNil(f.MinConfidence)
	return out
}

func (f edgeFilter) graph(name string) bool {
	return f.graphs == nil || f.graphs[name]
}

func (f edgeFilter) edgeType(t string) bool {
	return f.edgeTypes == nil || f.edgeTypes[strings.ToLower(t)]
}

// wantsRelations reports whether any relation graph is allowed.
func (f edgeFilter) wantsRelations() bool {
	return f.graph(graph.GraphCall) || f.graph(graph.GraphUsage) || f.graph(graph.GraphImport)
}

// validate emits warnings for filters that cannot match anything.
func (f edgeFilter) validate(ix *graph.Index, warn *warningSink) {
	var unknownGraphs []string
	for _, g := range f.graphList {
		if !graph.IsKnownGraph(g) {
			unknownGraphs = append(unknownGraphs, g)
		}
	}
	if len(unknownGraphs) > 0 {
		warn.add(WarnUnknownGraphFilter, "", "Edge filter names unknown graphs; they are ignored.",
			map[string]any{"graphs": unknownGraphs})
	}
	if f.edgeTypes == nil {
		return
	}

	symbolTypes := append([]string{graph.EdgeSymbol}, ix.SymbolEdgeTypes()...)
	known := map[string]bool{graph.EdgeCall: true, graph.EdgeUsage: true, graph.EdgeImport: true}
	for _, t := range symbolTypes {
		known[t] = true
	}
	var unknownTypes []string
	for _, t := range f.typeList {
		if !known[t] {
			unknownTypes = append(unknownTypes, t)
		}
	}
	if len(unknownTypes) > 0 {
		warn.add(WarnUnknownEdgeTypeFilter, "", "Edge filter names unknown edge types.",
			map[string]any{"edgeTypes": unknownTypes})
	}

	producible := map[string]bool{}
	for _, g := range []string{graph.GraphCall, graph.GraphUsage, graph.GraphImport} {
		if f.graph(g) {
			producible[graph.EdgeTypeForGraph(g)] = true
		}
	}
	if f.graph(graph.GraphSymbolEdges) {
		for _, t := range symbolTypes {
			producible[t] = true
		}
	}
	for _, t := range f.typeList {
		if producible[t] {
			return
		}
	}
	warn.add(WarnEdgeTypeFilterNoMatch, "", "No enabled graph can produce the requested edge types.",
		map[string]any{"edgeTypes": f.typeList})
}

func finiteOrNil(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	x := *v
	return &x
}
