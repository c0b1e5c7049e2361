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
	"cmp"
	"slices"

	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
)

type unioned struct {
	nodes []graph.Node
	edges []graph.Edge
	paths []graph.WitnessPath
}

// union merges per-seed results. A node keeps its smallest distance, a
// duplicate edge is replaced only by one with strictly higher confidence
// and each target keeps its smallest witness path. Caps are re-applied to
// the merged lists in canonical order.
func union(parts []*partial, caps graph.Caps, trunc *truncationRecorder, includePaths bool) unioned {
	if len(parts) == 1 {
		p := parts[0]
		return unioned{nodes: p.nodes, edges: p.edges, paths: p.paths}
	}

	nodeIdx := make(map[string]int)
	var nodes []graph.Node
	edgeIdx := make(map[string]int)
	var edges []graph.Edge
	pathIdx := make(map[string]int)
	var paths []graph.WitnessPath

	for _, p := range parts {
		for _, n := range p.nodes {
			key := n.Ref.Key()
			if i, ok := nodeIdx[key]; ok {
				if n.Distance < nodes[i].Distance {
					nodes[i].Distance = n.Distance
				}
				continue
			}
			nodeIdx[key] = len(nodes)
			nodes = append(nodes, n)
		}
		for _, e := range p.edges {
			key := graph.EdgeKey(&e)
			if i, ok := edgeIdx[key]; ok {
				if graph.CompareConfidenceDesc(e.Confidence, edges[i].Confidence) < 0 {
					edges[i] = e
				}
				continue
			}
			edgeIdx[key] = len(edges)
			edges = append(edges, e)
		}
		if !includePaths {
			continue
		}
		for _, wp := range p.paths {
			key := wp.To.Key()
			if i, ok := pathIdx[key]; ok {
				if graph.CompareWitnessPaths(&wp, &paths[i]) < 0 {
					paths[i] = wp
				}
				continue
			}
			pathIdx[key] = len(paths)
			paths = append(paths, wp)
		}
	}

	if limit := caps.MaxNodes; limit != nil && len(nodes) > *limit {
		slices.SortFunc(nodes, func(a, b graph.Node) int {
			return cmp.Or(cmp.Compare(a.Distance, b.Distance), graph.CompareNodes(&a, &b))
		})
		trunc.record(graph.CapMaxNodes, *limit, len(nodes), len(nodes)-*limit, "")
		nodes = nodes[:*limit]
	}
	slices.SortFunc(nodes, func(a, b graph.Node) int { return graph.CompareNodes(&a, &b) })

	slices.SortFunc(edges, func(a, b graph.Edge) int { return graph.CompareEdges(&a, &b) })
	if limit := caps.MaxEdges; limit != nil && len(edges) > *limit {
		trunc.record(graph.CapMaxEdges, *limit, len(edges), len(edges)-*limit, "")
		edges = edges[:*limit]
	}

	out := unioned{nodes: nodes, edges: edges}
	if out.nodes == nil {
		out.nodes = []graph.Node{}
	}
	if out.edges == nil {
		out.edges = []graph.Edge{}
	}
	if includePaths {
		kept := make(map[string]bool, len(nodes))
		for _, n := range nodes {
			kept[n.Ref.Key()] = true
		}
		paths = slices.DeleteFunc(paths, func(wp graph.WitnessPath) bool { return !kept[wp.To.Key()] })
		slices.SortFunc(paths, func(a, b graph.WitnessPath) int { return graph.CompareWitnessPaths(&a, &b) })
		out.paths = capPaths(paths, caps, trunc)
		if out.paths == nil {
			out.paths = []graph.WitnessPath{}
		}
	}
	return out
}
