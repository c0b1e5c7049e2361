// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"slices"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
)

// csrRows is compressed sparse row adjacency over an id table.
// Row i spans edges[offsets[i]:offsets[i+1]]; each row is sorted ascending
// and duplicate-free, so neighbor order matches the sorted id order.
type csrRows struct {
	offsets []uint32
	edges   []uint32
}

func (c *csrRows) row(i uint32) []uint32 {
	return c.edges[c.offsets[i]:c.offsets[i+1]]
}

func (c *csrRows) bytes() int {
	return 4 * (len(c.offsets) + len(c.edges))
}

// deriveCsr builds forward CSR from the out lists of adj. The id table
// covers every neighbor, so no edge is dropped.
func deriveCsr(ids []string, idToIndex map[string]uint32, adj map[string]*adjacency) *csrRows {
	offsets := make([]uint32, len(ids)+1)
	edges := make([]uint32, 0)
	for i, id := range ids {
		if a := adj[id]; a != nil {
			// a.out is sorted by id, and ids are sorted, so indexes ascend.
			for _, n := range a.out {
				if idx, ok := idToIndex[n]; ok {
					edges = append(edges, idx)
				}
			}
		}
		offsets[i+1] = uint32(len(edges))
	}
	return &csrRows{offsets: offsets, edges: edges}
}

// withExtraEdges merges edges keyed by source id into rows.
func withExtraEdges(rows *csrRows, idToIndex map[string]uint32, extra map[string][]string) *csrRows {
	if len(extra) == 0 {
		return rows
	}
	n := len(rows.offsets) - 1
	add := make([][]uint32, n)
	for from, targets := range extra {
		i, ok := idToIndex[from]
		if !ok {
			continue
		}
		for _, to := range targets {
			if j, ok := idToIndex[to]; ok {
				add[i] = append(add[i], j)
			}
		}
	}
	offsets := make([]uint32, n+1)
	edges := make([]uint32, 0, len(rows.edges))
	for i := range n {
		row := rows.row(uint32(i))
		if len(add[i]) > 0 {
			slices.Sort(add[i])
			row = mergeRows(row, slices.Compact(add[i]))
		}
		edges = append(edges, row...)
		offsets[i+1] = uint32(len(edges))
	}
	return &csrRows{offsets: offsets, edges: edges}
}

// reverseCsr derives incoming adjacency with a counting sort. Sources are
// visited in ascending order so every reverse row is sorted.
func reverseCsr(fwd *csrRows) *csrRows {
	nodeCount := len(fwd.offsets) - 1
	if nodeCount <= 0 {
		return &csrRows{offsets: []uint32{0}}
	}
	indegree := make([]uint32, nodeCount)
	for _, target := range fwd.edges {
		if int(target) < nodeCount {
			indegree[target]++
		}
	}
	offsets := make([]uint32, nodeCount+1)
	for i := 0; i < nodeCount; i++ {
		offsets[i+1] = offsets[i] + indegree[i]
	}
	edges := make([]uint32, offsets[nodeCount])
	cursor := slices.Clone(offsets[:nodeCount])
	for source := 0; source < nodeCount; source++ {
		for _, target := range fwd.row(uint32(source)) {
			if int(target) >= nodeCount {
				continue
			}
			edges[cursor[target]] = uint32(source)
			cursor[target]++
		}
	}
	return &csrRows{offsets: offsets, edges: edges}
}

// checkCsrCompatible verifies the CSR artifact was generated alongside the
// graph relations being indexed.
func checkCsrCompatible(rel *artifact.GraphRelations, csr *artifact.GraphRelationsCsr) error {
	if rel == nil || csr == nil {
		return fmt.Errorf("missing payload: %w", ErrCsrIncompatible)
	}
	if rel.Version != csr.Version {
		return fmt.Errorf("version %d vs %d: %w", csr.Version, rel.Version, ErrCsrIncompatible)
	}
	if rel.GeneratedAt != "" && csr.GeneratedAt != "" && rel.GeneratedAt != csr.GeneratedAt {
		return fmt.Errorf("generatedAt %q vs %q: %w", csr.GeneratedAt, rel.GeneratedAt, ErrCsrIncompatible)
	}
	return nil
}

// loadCsr validates a CSR artifact graph against the index's id table and
// returns normalised rows.
//
// The node list must equal ids exactly. Offsets must start at zero, never
// decrease and end at len(edges). Every edge must index into ids. Rows are
// re-sorted and deduplicated so the artifact cannot reorder neighbors.
func loadCsr(g *artifact.CsrGraph, ids []string) (*csrRows, error) {
	if g == nil {
		return nil, fmt.Errorf("graph absent: %w", ErrCsrMalformed)
	}
	if !slices.Equal(g.Nodes, ids) {
		return nil, fmt.Errorf("node table differs (%d vs %d ids): %w", len(g.Nodes), len(ids), ErrCsrMalformed)
	}
	n := len(ids)
	if len(g.Offsets) != n+1 {
		return nil, fmt.Errorf("offsets length %d, want %d: %w", len(g.Offsets), n+1, ErrCsrMalformed)
	}
	if g.Offsets[0] != 0 || int(g.Offsets[n]) != len(g.Edges) {
		return nil, fmt.Errorf("offsets do not span edges: %w", ErrCsrMalformed)
	}
	for i := 0; i < n; i++ {
		if g.Offsets[i] > g.Offsets[i+1] {
			return nil, fmt.Errorf("offsets decrease at row %d: %w", i, ErrCsrMalformed)
		}
	}
	for _, e := range g.Edges {
		if int(e) >= n {
			return nil, fmt.Errorf("edge %d out of range: %w", e, ErrCsrMalformed)
		}
	}

	offsets := make([]uint32, n+1)
	edges := make([]uint32, 0, len(g.Edges))
	for i := 0; i < n; i++ {
		row := slices.Clone(g.Edges[g.Offsets[i]:g.Offsets[i+1]])
		slices.Sort(row)
		edges = append(edges, slices.Compact(row)...)
		offsets[i+1] = uint32(len(edges))
	}
	return &csrRows{offsets: offsets, edges: edges}, nil
}

// mergeRows merges two sorted, duplicate-free index rows.
func mergeRows(a, b []uint32) []uint32 {
	out := make([]uint32, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
