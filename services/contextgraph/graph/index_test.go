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
	"context"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
)

// graphFromEdges builds a node-list graph with consistent out and in lists.
func graphFromEdges(edges [][2]string) *artifact.Graph {
	index := map[string]int{}
	g := &artifact.Graph{}
	node := func(id string) *artifact.GraphNode {
		if i, ok := index[id]; ok {
			return &g.Nodes[i]
		}
		index[id] = len(g.Nodes)
		g.Nodes = append(g.Nodes, artifact.GraphNode{ID: id})
		return &g.Nodes[len(g.Nodes)-1]
	}
	for _, e := range edges {
		node(e[0])
		node(e[1])
	}
	for _, e := range edges {
		from, to := node(e[0]), node(e[1])
		from.Out = append(from.Out, e[1])
		to.In = append(to.In, e[0])
	}
	return g
}

// csrArtifactFor encodes g the way an upstream indexer would.
func csrArtifactFor(g *artifact.Graph) *artifact.CsrGraph {
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	slices.Sort(ids)
	pos := map[string]uint32{}
	for i, id := range ids {
		pos[id] = uint32(i)
	}
	byID := map[string]artifact.GraphNode{}
	for _, n := range g.Nodes {
		byID[n.ID] = n
	}
	out := &artifact.CsrGraph{Nodes: ids, Offsets: []uint32{0}}
	for _, id := range ids {
		for _, n := range byID[id].Out {
			out.Edges = append(out.Edges, pos[n])
		}
		out.Offsets = append(out.Offsets, uint32(len(out.Edges)))
	}
	return out
}

func permuteGraph(g *artifact.Graph, seed int64) *artifact.Graph {
	r := rand.New(rand.NewSource(seed))
	out := &artifact.Graph{Nodes: make([]artifact.GraphNode, len(g.Nodes))}
	for i, n := range g.Nodes {
		n.Out = slices.Clone(n.Out)
		n.In = slices.Clone(n.In)
		r.Shuffle(len(n.Out), func(a, b int) { n.Out[a], n.Out[b] = n.Out[b], n.Out[a] })
		r.Shuffle(len(n.In), func(a, b int) { n.In[a], n.In[b] = n.In[b], n.In[a] })
		out.Nodes[i] = n
	}
	r.Shuffle(len(out.Nodes), func(a, b int) { out.Nodes[a], out.Nodes[b] = out.Nodes[b], out.Nodes[a] })
	return out
}

func sampleEdges() [][2]string {
	return [][2]string{
		{"a", "b"}, {"a", "c"}, {"a", "d"},
		{"b", "c"}, {"b", "e"},
		{"c", "a"}, {"c", "f"},
		{"d", "f"},
		{"e", "a"}, {"e", "b"},
		{"f", "f"},
	}
}

func buildCall(t *testing.T, g *artifact.Graph, csr *artifact.CsrGraph, includeCsr bool) *Index {
	t.Helper()
	b := artifact.Bundle{GraphRelations: &artifact.GraphRelations{Version: 1, CallGraph: g}}
	if csr != nil {
		b.GraphRelationsCsr = &artifact.GraphRelationsCsr{
			Version: 1,
			Graphs:  map[string]*artifact.CsrGraph{artifact.GraphCall: csr},
		}
	}
	ix, err := BuildIndex(context.Background(), b, BuildOptions{IncludeCsr: includeCsr, TraversalCacheSize: 1024})
	require.NoError(t, err)
	return ix
}

func TestBuildIndex_AdjacencySortedUnique(t *testing.T) {
	g := &artifact.Graph{Nodes: []artifact.GraphNode{
		{ID: "a", Out: []string{"c", "b", "c", ""}, In: []string{"z", "b"}},
		{ID: "b"}, {ID: "c"},
	}}
	ix := buildCall(t, g, nil, false)

	assert.Equal(t, []string{"b", "c"}, ix.Neighbors(GraphCall, "a", DirOut))
	assert.Equal(t, []string{"b", "z"}, ix.Neighbors(GraphCall, "a", DirIn))
	assert.Equal(t, []string{"b", "c", "z"}, ix.Neighbors(GraphCall, "a", DirBoth))
	assert.Nil(t, ix.Neighbors(GraphCall, "missing", DirOut))
	assert.Nil(t, ix.Neighbors(GraphUsage, "a", DirOut))
}

func TestBuildIndex_CsrEquivalence(t *testing.T) {
	tests := []struct {
		name       string
		graph      *artifact.Graph
		loadedFrom string
	}{
		{
			name:       "mirrored lists",
			graph:      graphFromEdges(sampleEdges()),
			loadedFrom: CsrSourceArtifact,
		},
		{
			name: "dangling neighbors",
			graph: &artifact.Graph{Nodes: []artifact.GraphNode{
				{ID: "chunk-a", Out: []string{"chunk-c", "chunk-b"}},
			}},
			loadedFrom: CsrSourceDerived,
		},
		{
			name: "one-sided in lists",
			graph: &artifact.Graph{Nodes: []artifact.GraphNode{
				{ID: "a", Out: []string{"b"}},
				{ID: "b", In: []string{"a", "c"}},
				{ID: "c"},
				{ID: "d", In: []string{"a"}},
			}},
			loadedFrom: CsrSourceArtifact,
		},
		{
			name: "in list from unknown node",
			graph: &artifact.Graph{Nodes: []artifact.GraphNode{
				{ID: "b", In: []string{"a"}},
			}},
			loadedFrom: CsrSourceDerived,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			legacy := buildCall(t, tt.graph, nil, false)
			derived := buildCall(t, tt.graph, nil, true)
			loaded := buildCall(t, tt.graph, csrArtifactFor(tt.graph), true)

			require.Equal(t, CsrSourceDerived, derived.CsrInfo().Source())
			require.Equal(t, tt.loadedFrom, loaded.CsrInfo().Source())

			for _, id := range legacy.graphs[GraphCall].ids {
				for _, dir := range []Direction{DirIn, DirOut, DirBoth} {
					want := legacy.Neighbors(GraphCall, id, dir)
					assert.Equal(t, want, derived.Neighbors(GraphCall, id, dir), "derived %s %s", id, dir)
					assert.Equal(t, want, loaded.Neighbors(GraphCall, id, dir), "loaded %s %s", id, dir)
				}
			}
		})
	}
}

func TestBuildIndex_EdgeSetCoversBothLists(t *testing.T) {
	g := &artifact.Graph{Nodes: []artifact.GraphNode{
		{ID: "a", Out: []string{"b"}},
		{ID: "b", In: []string{"a", "c"}},
		{ID: "c"},
		{ID: "d", In: []string{"a"}},
	}}
	for _, includeCsr := range []bool{false, true} {
		ix := buildCall(t, g, nil, includeCsr)
		assert.Equal(t, []string{"b", "d"}, ix.Neighbors(GraphCall, "a", DirOut), "csr=%v", includeCsr)
		assert.Equal(t, []string{"a", "c"}, ix.Neighbors(GraphCall, "b", DirIn), "csr=%v", includeCsr)
		assert.Equal(t, []string{"b"}, ix.Neighbors(GraphCall, "c", DirOut), "csr=%v", includeCsr)
		assert.Equal(t, []string{"a"}, ix.Neighbors(GraphCall, "d", DirBoth), "csr=%v", includeCsr)
	}

	dangling := &artifact.Graph{Nodes: []artifact.GraphNode{{ID: "chunk-a", Out: []string{"chunk-c", "chunk-b"}}}}
	for _, includeCsr := range []bool{false, true} {
		ix := buildCall(t, dangling, nil, includeCsr)
		assert.Equal(t, []string{"chunk-b", "chunk-c"}, ix.Neighbors(GraphCall, "chunk-a", DirOut), "csr=%v", includeCsr)
		assert.Equal(t, []string{"chunk-a"}, ix.Neighbors(GraphCall, "chunk-b", DirIn), "csr=%v", includeCsr)
	}
}

func TestBuildIndex_PermutationInvariant(t *testing.T) {
	g := graphFromEdges(sampleEdges())
	base := buildCall(t, g, nil, false)

	for seed := int64(1); seed <= 5; seed++ {
		perm := permuteGraph(g, seed)
		for _, includeCsr := range []bool{false, true} {
			ix := buildCall(t, perm, nil, includeCsr)
			for _, n := range g.Nodes {
				for _, dir := range []Direction{DirIn, DirOut, DirBoth} {
					assert.Equal(t,
						base.Neighbors(GraphCall, n.ID, dir),
						ix.Neighbors(GraphCall, n.ID, dir),
						"seed=%d csr=%v node=%s dir=%s", seed, includeCsr, n.ID, dir)
				}
			}
		}
	}
}

func TestBuildIndex_CsrArtifactNormalisesRows(t *testing.T) {
	g := graphFromEdges([][2]string{{"a", "b"}, {"a", "c"}})
	csr := &artifact.CsrGraph{
		Nodes:   []string{"a", "b", "c"},
		Offsets: []uint32{0, 3, 3, 3},
		Edges:   []uint32{2, 1, 2},
	}
	ix := buildCall(t, g, csr, true)

	assert.Equal(t, CsrSourceArtifact, ix.CsrInfo().Sources[GraphCall])
	assert.Equal(t, []string{"b", "c"}, ix.Neighbors(GraphCall, "a", DirOut))
	assert.Equal(t, []string{"a"}, ix.Neighbors(GraphCall, "c", DirIn))
}

func TestBuildIndex_CsrRejected(t *testing.T) {
	g := graphFromEdges([][2]string{{"a", "b"}})

	tests := []struct {
		name   string
		mutate func(*artifact.GraphRelationsCsr)
		reason string
	}{
		{
			name:   "node table differs",
			mutate: func(c *artifact.GraphRelationsCsr) { c.Graphs[GraphCall].Nodes = []string{"b", "a"} },
			reason: "node table differs",
		},
		{
			name:   "version mismatch",
			mutate: func(c *artifact.GraphRelationsCsr) { c.Version = 7 },
			reason: "version",
		},
		{
			name:   "edge out of range",
			mutate: func(c *artifact.GraphRelationsCsr) { c.Graphs[GraphCall].Edges = []uint32{9} },
			reason: "out of range",
		},
		{
			name:   "offsets decrease",
			mutate: func(c *artifact.GraphRelationsCsr) { c.Graphs[GraphCall].Offsets = []uint32{0, 1, 0} },
			reason: "offsets",
		},
		{
			name:   "graph missing",
			mutate: func(c *artifact.GraphRelationsCsr) { delete(c.Graphs, GraphCall) },
			reason: "graph absent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			csr := &artifact.GraphRelationsCsr{
				Version: 1,
				Graphs:  map[string]*artifact.CsrGraph{GraphCall: csrArtifactFor(g)},
			}
			tt.mutate(csr)
			b := artifact.Bundle{
				GraphRelations:    &artifact.GraphRelations{Version: 1, CallGraph: g},
				GraphRelationsCsr: csr,
			}
			ix, err := BuildIndex(context.Background(), b, BuildOptions{IncludeCsr: true})
			require.NoError(t, err)

			info := ix.CsrInfo()
			assert.Equal(t, CsrSourceDerived, info.Sources[GraphCall])
			assert.Contains(t, info.RejectReason, tt.reason)
			assert.Equal(t, []string{"b"}, ix.Neighbors(GraphCall, "a", DirOut))
		})
	}
}

func TestBuildIndex_ImportGraphNormalised(t *testing.T) {
	rel := &artifact.GraphRelations{ImportGraph: &artifact.Graph{Nodes: []artifact.GraphNode{
		{ID: "/repo/src/a.js", Out: []string{"./src/b.js", "/repo/src/c.js"}},
		{ID: "src/b.js"},
	}}}
	ix, err := BuildIndex(context.Background(), artifact.Bundle{GraphRelations: rel}, BuildOptions{RepoRoot: "/repo"})
	require.NoError(t, err)

	assert.True(t, ix.HasNode(GraphImport, "src/a.js"))
	assert.False(t, ix.HasNode(GraphImport, "/repo/src/a.js"))
	assert.True(t, ix.HasNode(GraphImport, "src/c.js"), "neighbor without a node row")
	assert.Equal(t, []string{"src/b.js", "src/c.js"}, ix.Neighbors(GraphImport, "src/a.js", DirOut))
}

func TestBuildIndex_ChunkInfoFirstWriterWins(t *testing.T) {
	rel := &artifact.GraphRelations{
		CallGraph: &artifact.Graph{Nodes: []artifact.GraphNode{
			{ID: "a", File: "call.go", Name: "A"},
			{ID: "b"},
		}},
		UsageGraph: &artifact.Graph{Nodes: []artifact.GraphNode{
			{ID: "a", File: "usage.go", Name: "Other"},
			{ID: "b", File: "b.go", Kind: "function"},
		}},
	}
	ix, err := BuildIndex(context.Background(), artifact.Bundle{GraphRelations: rel}, BuildOptions{})
	require.NoError(t, err)

	a, ok := ix.ChunkInfo("a")
	require.True(t, ok)
	assert.Equal(t, ChunkInfo{File: "call.go", Name: "A"}, a)

	b, ok := ix.ChunkInfo("b")
	require.True(t, ok)
	assert.Equal(t, "b.go", b.File)
	assert.Equal(t, "function", b.Kind)
}

func TestBuildIndex_SymbolIndex(t *testing.T) {
	conf := 0.4
	edges := []artifact.SymbolEdge{
		{
			From: artifact.ChunkEndpoint{ChunkUID: "a"},
			To: &artifact.SymbolRef{
				Status:     "resolved",
				Resolved:   &artifact.Candidate{SymbolID: "s1", ChunkUID: "x"},
				Candidates: []artifact.Candidate{{SymbolID: "s2"}},
			},
			Confidence: &conf,
		},
		{
			From: artifact.ChunkEndpoint{ChunkUID: "b"},
			To: &artifact.SymbolRef{
				Status:     "ambiguous",
				Candidates: []artifact.Candidate{{SymbolID: "s9"}, {SymbolID: "s3"}, {ChunkUID: "only-chunk"}},
			},
			Type: "Reference",
		},
		{From: artifact.ChunkEndpoint{ChunkUID: "c"}, To: &artifact.SymbolRef{TargetName: "Nope"}},
		{From: artifact.ChunkEndpoint{}, To: &artifact.SymbolRef{}},
		{From: artifact.ChunkEndpoint{ChunkUID: "d"}},
	}
	ix, err := BuildIndex(context.Background(), artifact.Bundle{SymbolEdges: edges}, BuildOptions{})
	require.NoError(t, err)

	require.True(t, ix.HasSymbolEdges())
	fromA := ix.SymbolsByChunk("a")
	require.Len(t, fromA, 1)
	assert.Equal(t, "s1", fromA[0].SymbolID)
	require.Len(t, fromA[0].Ref.Candidates, 2)
	assert.Equal(t, "s1", fromA[0].Ref.Candidates[0].SymbolID, "resolved prepended")
	assert.Len(t, edges[0].To.Candidates, 1, "artifact not mutated")

	fromB := ix.SymbolsByChunk("b")
	require.Len(t, fromB, 1)
	assert.Equal(t, "s3", fromB[0].SymbolID, "smallest candidate symbol")

	fromC := ix.SymbolsByChunk("c")
	require.Len(t, fromC, 1)
	assert.Empty(t, fromC[0].SymbolID)
	assert.Equal(t, "unresolved", fromC[0].Ref.Status)
	assert.Equal(t, 1, fromC[0].Ref.V)

	assert.Len(t, ix.SymbolsBySymbol("s1"), 1)
	assert.Len(t, ix.SymbolsBySymbol("s3"), 1)
	assert.Empty(t, ix.SymbolsBySymbol("s2"))
	assert.Empty(t, ix.SymbolsByChunk("d"))
	assert.Equal(t, []string{"reference", "symbol"}, ix.SymbolEdgeTypes())
}

func TestBuildIndex_CallSites(t *testing.T) {
	sites := []artifact.CallSite{
		{CallerChunkUID: "a", TargetChunkUID: "b", CallSiteID: "cs3"},
		{CallerChunkUID: "a", TargetChunkUID: "b", CallSiteID: "cs1"},
		{CallerChunkUID: "a", TargetChunkUID: "b", CallSiteID: "cs3"},
		{CallerChunkUID: "a", TargetChunkUID: "c", CallSiteID: ""},
	}
	ix, err := BuildIndex(context.Background(), artifact.Bundle{CallSites: sites}, BuildOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"cs1", "cs3"}, ix.CallSiteIDs("a", "b"))
	assert.Empty(t, ix.CallSiteIDs("a", "c"))
	assert.True(t, ix.HasCallSites())
}

func TestBuildIndex_GraphRestriction(t *testing.T) {
	rel := &artifact.GraphRelations{
		CallGraph:  graphFromEdges([][2]string{{"a", "b"}}),
		UsageGraph: graphFromEdges([][2]string{{"a", "c"}}),
	}
	b := artifact.Bundle{
		GraphRelations: rel,
		SymbolEdges:    []artifact.SymbolEdge{{From: artifact.ChunkEndpoint{ChunkUID: "a"}, To: &artifact.SymbolRef{}}},
	}
	ix, err := BuildIndex(context.Background(), b, BuildOptions{Graphs: []string{GraphCall, "bogus", GraphCall}})
	require.NoError(t, err)

	assert.Equal(t, []string{GraphCall}, ix.Graphs())
	assert.True(t, ix.HasGraph(GraphCall))
	assert.False(t, ix.HasGraph(GraphUsage))
	assert.False(t, ix.HasSymbolEdges())
}

func TestBuildIndex_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rel := &artifact.GraphRelations{CallGraph: graphFromEdges(sampleEdges())}
	_, err := BuildIndex(ctx, artifact.Bundle{GraphRelations: rel}, BuildOptions{})
	assert.ErrorIs(t, err, ErrBuildCancelled)
}

func TestIndex_Rebase(t *testing.T) {
	b := artifact.Bundle{
		GraphRelations: &artifact.GraphRelations{CallGraph: graphFromEdges([][2]string{{"a", "b"}})},
		SymbolEdges:    []artifact.SymbolEdge{{From: artifact.ChunkEndpoint{ChunkUID: "a"}, To: &artifact.SymbolRef{}}},
	}
	ix, err := BuildIndex(context.Background(), b, BuildOptions{RepoRoot: "/old", IncludeCsr: true})
	require.NoError(t, err)

	fresh := &artifact.GraphRelations{CallGraph: graphFromEdges([][2]string{{"a", "b"}, {"a", "c"}})}
	next, err := ix.Rebase(context.Background(), fresh, "/new")
	require.NoError(t, err)

	counts, ok := next.Counts(GraphCall)
	require.True(t, ok)
	assert.Equal(t, GraphCounts{Nodes: 3, Edges: 2}, counts)
	assert.Equal(t, "/new", next.RepoRoot())
	assert.True(t, next.HasSymbolEdges())
	assert.Equal(t, []string{"b", "c"}, next.Neighbors(GraphCall, "a", DirOut))
	assert.Equal(t, CsrSourceDerived, next.CsrInfo().Source())

	old, _ := ix.Counts(GraphCall)
	assert.Equal(t, GraphCounts{Nodes: 2, Edges: 1}, old)
	assert.Equal(t, "/old", ix.RepoRoot())
}

func TestIndex_TraversalCacheBounded(t *testing.T) {
	var edges [][2]string
	for i := 0; i < 500; i++ {
		edges = append(edges, [2]string{fmt.Sprintf("n%03d", i), fmt.Sprintf("n%03d", (i+1)%500)})
	}
	rel := &artifact.GraphRelations{CallGraph: graphFromEdges(edges)}
	ix, err := BuildIndex(context.Background(), artifact.Bundle{GraphRelations: rel}, BuildOptions{IncludeCsr: true})
	require.NoError(t, err)

	for round := 0; round < 5; round++ {
		for i := 0; i < 500; i++ {
			ix.Neighbors(GraphCall, fmt.Sprintf("n%03d", i), DirBoth)
		}
	}
	stats := ix.TraversalCacheStats()
	assert.LessOrEqual(t, stats.Size, DefaultTraversalCacheSize)
	assert.Equal(t, DefaultTraversalCacheSize, stats.Peak)
	assert.Positive(t, stats.Evictions)

	_, hit := ix.NeighborsCached(GraphCall, "n499", DirBoth)
	assert.True(t, hit)
}

func TestTrimCandidates(t *testing.T) {
	ref := &artifact.SymbolRef{
		Resolved:   &artifact.Candidate{SymbolID: "r"},
		Candidates: []artifact.Candidate{{SymbolID: "a"}, {SymbolID: "b"}, {SymbolID: "c"}, {SymbolID: "r"}},
	}

	t.Run("no trim needed", func(t *testing.T) {
		out, trimmed := TrimCandidates(ref, 4)
		assert.False(t, trimmed)
		assert.Same(t, ref, out)
	})

	t.Run("keeps resolved", func(t *testing.T) {
		out, trimmed := TrimCandidates(ref, 2)
		require.True(t, trimmed)
		assert.Equal(t, []artifact.Candidate{{SymbolID: "a"}, {SymbolID: "r"}}, out.Candidates)
		assert.Len(t, ref.Candidates, 4)
	})

	t.Run("zero", func(t *testing.T) {
		out, trimmed := TrimCandidates(ref, 0)
		require.True(t, trimmed)
		assert.Empty(t, out.Candidates)
	})
}
