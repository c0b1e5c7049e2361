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
	"encoding/json"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/budget"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
)

// relGraph builds a node-list graph with consistent out and in lists.
func relGraph(edges ...[2]string) *artifact.Graph {
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

func csrFor(g *artifact.Graph) *artifact.CsrGraph {
	ids := make([]string, 0, len(g.Nodes))
	byID := map[string]artifact.GraphNode{}
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
		byID[n.ID] = n
	}
	slices.Sort(ids)
	pos := map[string]uint32{}
	for i, id := range ids {
		pos[id] = uint32(i)
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

func shuffleGraph(g *artifact.Graph, seed int64) *artifact.Graph {
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

// randomEdges returns a reproducible graph over n chunks.
func randomEdges(n, m int, seed int64) [][2]string {
	r := rand.New(rand.NewSource(seed))
	seen := map[[2]string]bool{}
	var out [][2]string
	for len(out) < m {
		e := [2]string{fmt.Sprintf("c%02d", r.Intn(n)), fmt.Sprintf("c%02d", r.Intn(n))}
		if !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}

func callIndex(t *testing.T, g *artifact.Graph, withCsr bool) *graph.Index {
	t.Helper()
	b := artifact.Bundle{GraphRelations: &artifact.GraphRelations{Version: 1, CallGraph: g}}
	if withCsr {
		b.GraphRelationsCsr = &artifact.GraphRelationsCsr{
			Version: 1,
			Graphs:  map[string]*artifact.CsrGraph{artifact.GraphCall: csrFor(g)},
		}
	}
	ix, err := graph.BuildIndex(context.Background(), b, graph.BuildOptions{IncludeCsr: withCsr})
	require.NoError(t, err)
	return ix
}

func depth(n int) *int { return &n }

func seedOf(s Seed) *Seed { return &s }

func nodeKeys(res *Result) []string {
	out := make([]string, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		out = append(out, n.Ref.Key())
	}
	return out
}

func edgeKeys(res *Result) []string {
	out := make([]string, 0, len(res.Edges))
	for i := range res.Edges {
		out = append(out, graph.EdgeKey(&res.Edges[i]))
	}
	return out
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestBuild_FanoutAndEdgeCapExample(t *testing.T) {
	g := relGraph([2]string{"chunk-a", "chunk-c"}, [2]string{"chunk-a", "chunk-b"})
	ix := callIndex(t, g, false)

	t.Run("fanout cap two keeps both sorted", func(t *testing.T) {
		res := Build(context.Background(), Request{
			GraphRelations: &artifact.GraphRelations{Version: 1, CallGraph: g},
			Seed:  seedOf(ChunkSeed("chunk-a")),
			Depth: depth(1),
			Caps:  graph.Caps{MaxFanoutPerNode: graph.Cap(2)},
		})
		require.Len(t, res.Edges, 2)
		assert.Equal(t, "chunk-b", res.Edges[0].To.ChunkUID)
		assert.Equal(t, "chunk-c", res.Edges[1].To.ChunkUID)
		assert.Empty(t, res.Truncation)
		assert.Equal(t, []string{"chunk:chunk-a", "chunk:chunk-b", "chunk:chunk-c"}, nodeKeys(res))
	})

	t.Run("edge cap one keeps chunk-b", func(t *testing.T) {
		res := Build(context.Background(), Request{
			GraphIndex: ix,
			Seed:       seedOf(ChunkSeed("chunk-a")),
			Depth:      depth(1),
			Caps:       graph.Caps{MaxEdges: graph.Cap(1)},
		})
		require.Len(t, res.Edges, 1)
		assert.Equal(t, "chunk-b", res.Edges[0].To.ChunkUID)
		require.Len(t, res.Truncation, 1)
		rec := res.Truncation[0]
		assert.Equal(t, graph.CapMaxEdges, rec.Cap)
		assert.Equal(t, TruncationScope, rec.Scope)
		assert.Equal(t, 1, rec.Limit)
		assert.Equal(t, 1, rec.Observed)
	})
}

func TestBuild_UnresolvedSeed(t *testing.T) {
	g := relGraph([2]string{"a", "b"})
	cases := []struct {
		name string
		seed *Seed
	}{
		{"no seed", nil},
		{"empty chunk uid", seedOf(ChunkSeed(""))},
		{"empty candidates", &Seed{Status: "unresolved"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Build(context.Background(), Request{
				Seed:           tc.seed,
				GraphRelations: &artifact.GraphRelations{Version: 1, CallGraph: g},
			})
			assert.Empty(t, res.Nodes)
			assert.NotNil(t, res.Nodes)
			assert.NotNil(t, res.Edges)
			assert.Nil(t, res.Paths)
			require.Len(t, res.Warnings, 1)
			assert.Equal(t, WarnUnresolvedSeed, res.Warnings[0].Code)

			out := mustJSON(t, res)
			assert.Contains(t, out, `"nodes":[]`)
			assert.Contains(t, out, `"edges":[]`)
			assert.Contains(t, out, `"paths":null`)
		})
	}
}

func TestBuild_SeedResolution(t *testing.T) {
	ix := callIndex(t, relGraph([2]string{"a", "b"}), false)

	t.Run("resolved candidate wins", func(t *testing.T) {
		seed := &Seed{
			Status:     "resolved",
			Resolved:   &artifact.Candidate{ChunkUID: "b"},
			Candidates: []artifact.Candidate{{ChunkUID: "a"}},
		}
		res := Build(context.Background(), Request{GraphIndex: ix, Seed: seed, Depth: depth(0)})
		assert.Equal(t, []string{"chunk:b"}, nodeKeys(res))
	})

	t.Run("first usable candidate", func(t *testing.T) {
		seed := &Seed{Candidates: []artifact.Candidate{{Name: "x"}, {ChunkUID: "a"}}}
		res := Build(context.Background(), Request{GraphIndex: ix, Seed: seed, Depth: depth(0)})
		assert.Equal(t, []string{"chunk:a"}, nodeKeys(res))
	})

	t.Run("json round trip", func(t *testing.T) {
		var s Seed
		require.NoError(t, json.Unmarshal([]byte(`{"type":"chunk","chunkUid":"a"}`), &s))
		ref, ok := s.Resolve()
		require.True(t, ok)
		assert.Equal(t, graph.ChunkRef("a"), ref)
		assert.JSONEq(t, `{"type":"chunk","chunkUid":"a"}`, mustJSON(t, s))

		require.NoError(t, json.Unmarshal([]byte(`{"status":"resolved","resolved":{"symbolId":"s1"}}`), &s))
		ref, ok = s.Resolve()
		require.True(t, ok)
		assert.Equal(t, graph.SymbolRef("s1"), ref)
	})
}

func TestBuild_Determinism(t *testing.T) {
	edges := randomEdges(20, 60, 7)
	base := relGraph(edges...)
	want := Build(context.Background(), Request{
		GraphIndex:   callIndex(t, base, false),
		Seed:         seedOf(ChunkSeed("c00")),
		Depth:        depth(3),
		IncludePaths: true,
	})
	require.NotEmpty(t, want.Edges)
	wantJSON := mustJSON(t, []any{want.Nodes, want.Edges, want.Paths, want.Truncation, want.Warnings})

	for i := int64(0); i < 5; i++ {
		t.Run(fmt.Sprintf("permutation %d", i), func(t *testing.T) {
			g := shuffleGraph(base, i)
			for _, withCsr := range []bool{false, true} {
				res := Build(context.Background(), Request{
					GraphIndex:   callIndex(t, g, withCsr),
					Seed:         seedOf(ChunkSeed("c00")),
					Depth:        depth(3),
					IncludePaths: true,
				})
				got := mustJSON(t, []any{res.Nodes, res.Edges, res.Paths, res.Truncation, res.Warnings})
				assert.Equal(t, wantJSON, got, "csr=%v", withCsr)
			}
		})
	}

	t.Run("warm cache gives the same result", func(t *testing.T) {
		ix := callIndex(t, base, true)
		req := Request{GraphIndex: ix, Seed: seedOf(ChunkSeed("c00")), Depth: depth(3), IncludePaths: true}
		first := Build(context.Background(), req)
		second := Build(context.Background(), req)
		assert.Greater(t, second.Stats.TraversalCache.Hits, 0)
		assert.Equal(t, mustJSON(t, first.Edges), mustJSON(t, second.Edges))
		assert.Equal(t, mustJSON(t, first.Paths), mustJSON(t, second.Paths))
	})
}

func TestBuild_CsrEquivalence(t *testing.T) {
	g := relGraph(randomEdges(15, 40, 3)...)
	legacy := callIndex(t, g, false)
	csr := callIndex(t, g, true)
	require.Equal(t, graph.CsrSourceArtifact, csr.CsrInfo().Source())

	for _, dir := range []graph.Direction{graph.DirOut, graph.DirIn, graph.DirBoth} {
		t.Run(string(dir), func(t *testing.T) {
			for _, seed := range []string{"c00", "c05", "c10"} {
				req := Request{Seed: seedOf(ChunkSeed(seed)), Depth: depth(2), Direction: dir, IncludePaths: true}
				req.GraphIndex = legacy
				a := Build(context.Background(), req)
				req.GraphIndex = csr
				b := Build(context.Background(), req)
				assert.Equal(t, nodeKeys(a), nodeKeys(b))
				assert.Equal(t, edgeKeys(a), edgeKeys(b))
				assert.Equal(t, mustJSON(t, a.Paths), mustJSON(t, b.Paths))
			}
		})
	}
}

func TestBuild_CsrEquivalenceIrregularLists(t *testing.T) {
	build := func(g *artifact.Graph, withCsr bool) *graph.Index {
		b := artifact.Bundle{GraphRelations: &artifact.GraphRelations{Version: 1, CallGraph: g}}
		ix, err := graph.BuildIndex(context.Background(), b, graph.BuildOptions{IncludeCsr: withCsr})
		require.NoError(t, err)
		return ix
	}

	tests := []struct {
		name      string
		graph     *artifact.Graph
		seed      string
		dir       graph.Direction
		wantEdges int
	}{
		{
			name:      "single node row with dangling targets",
			graph:     &artifact.Graph{Nodes: []artifact.GraphNode{{ID: "chunk-a", Out: []string{"chunk-c", "chunk-b"}}}},
			seed:      "chunk-a",
			dir:       graph.DirOut,
			wantEdges: 2,
		},
		{
			name:      "in list only",
			graph:     &artifact.Graph{Nodes: []artifact.GraphNode{{ID: "b", In: []string{"a"}}}},
			seed:      "b",
			dir:       graph.DirIn,
			wantEdges: 1,
		},
		{
			name: "in list without mirrored out",
			graph: &artifact.Graph{Nodes: []artifact.GraphNode{
				{ID: "a"},
				{ID: "b", In: []string{"a"}},
			}},
			seed:      "a",
			dir:       graph.DirOut,
			wantEdges: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Seed: seedOf(ChunkSeed(tt.seed)), Depth: depth(2), Direction: tt.dir, IncludePaths: true}
			req.GraphIndex = build(tt.graph, false)
			a := Build(context.Background(), req)
			req.GraphIndex = build(tt.graph, true)
			b := Build(context.Background(), req)

			require.Equal(t, graph.CsrSourceDerived, req.GraphIndex.CsrInfo().Source())
			assert.Len(t, a.Edges, tt.wantEdges)
			assert.Equal(t, nodeKeys(a), nodeKeys(b))
			assert.Equal(t, edgeKeys(a), edgeKeys(b))
			assert.Equal(t, mustJSON(t, a.Paths), mustJSON(t, b.Paths))
		})
	}
}

func TestBuild_MultiSeedUnion(t *testing.T) {
	g := relGraph(randomEdges(25, 50, 11)...)
	ix := callIndex(t, g, false)

	for _, pair := range [][2]string{{"c01", "c02"}, {"c03", "c20"}, {"c00", "c00"}} {
		t.Run(pair[0]+"+"+pair[1], func(t *testing.T) {
			one := func(id string) *Result {
				return Build(context.Background(), Request{GraphIndex: ix, Seed: seedOf(ChunkSeed(id)), Depth: depth(2)})
			}
			a, b := one(pair[0]), one(pair[1])
			both := Build(context.Background(), Request{
				GraphIndex: ix,
				Seeds:      []Seed{ChunkSeed(pair[0]), ChunkSeed(pair[1])},
				Depth:      depth(2),
			})

			wantNodes := map[string]int{}
			for _, r := range []*Result{a, b} {
				for _, n := range r.Nodes {
					if d, ok := wantNodes[n.Ref.Key()]; !ok || n.Distance < d {
						wantNodes[n.Ref.Key()] = n.Distance
					}
				}
			}
			gotNodes := map[string]int{}
			for _, n := range both.Nodes {
				gotNodes[n.Ref.Key()] = n.Distance
			}
			assert.Equal(t, wantNodes, gotNodes)

			wantEdges := append(edgeKeys(a), edgeKeys(b)...)
			slices.Sort(wantEdges)
			wantEdges = slices.Compact(wantEdges)
			gotEdges := edgeKeys(both)
			assert.Equal(t, wantEdges, slices.Sorted(slices.Values(gotEdges)))
			assert.True(t, slices.IsSortedFunc(both.Nodes, func(x, y graph.Node) int { return graph.CompareNodes(&x, &y) }))
			assert.True(t, slices.IsSortedFunc(both.Edges, func(x, y graph.Edge) int { return graph.CompareEdges(&x, &y) }))
		})
	}
}

func TestBuild_CapMonotonicity(t *testing.T) {
	g := relGraph(randomEdges(30, 90, 5)...)
	ix := callIndex(t, g, false)
	req := Request{GraphIndex: ix, Seed: seedOf(ChunkSeed("c00")), Depth: depth(3), IncludePaths: true}
	base := Build(context.Background(), req)
	require.Empty(t, base.Truncation)
	require.Greater(t, len(base.Nodes), 4)

	cases := []struct {
		capName string
		caps    graph.Caps
	}{
		{graph.CapMaxNodes, graph.Caps{MaxNodes: graph.Cap(len(base.Nodes) / 2)}},
		{graph.CapMaxEdges, graph.Caps{MaxEdges: graph.Cap(len(base.Edges) / 2)}},
		{graph.CapMaxPaths, graph.Caps{MaxPaths: graph.Cap(len(base.Paths) / 2)}},
		{graph.CapMaxFanoutPerNode, graph.Caps{MaxFanoutPerNode: graph.Cap(1)}},
		{graph.CapMaxDepth, graph.Caps{MaxDepth: graph.Cap(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.capName, func(t *testing.T) {
			tight := req
			tight.Caps = tc.caps
			res := Build(context.Background(), tight)
			assert.LessOrEqual(t, res.Stats.Counts.NodesReturned, base.Stats.Counts.NodesReturned)
			assert.LessOrEqual(t, res.Stats.Counts.EdgesReturned, base.Stats.Counts.EdgesReturned)
			assert.LessOrEqual(t, res.Stats.Counts.PathsReturned, base.Stats.Counts.PathsReturned)
			assert.NotNil(t, res.TruncationFor(tc.capName), "expected %s truncation record", tc.capName)
		})
	}
}

func TestBuild_WorkBudget(t *testing.T) {
	g := relGraph(randomEdges(20, 60, 9)...)
	ix := callIndex(t, g, false)

	t.Run("unit cap stops traversal", func(t *testing.T) {
		res := Build(context.Background(), Request{
			GraphIndex: ix,
			Seed:       seedOf(ChunkSeed("c00")),
			Depth:      depth(4),
			Caps:       graph.Caps{MaxWorkUnits: graph.Cap(2)},
		})
		rec := res.TruncationFor(budget.ReasonMaxWorkUnits)
		require.NotNil(t, rec)
		assert.Equal(t, 2, rec.Limit)
		assert.Equal(t, 3, rec.Observed)
		assert.Nil(t, rec.Omitted)
		assert.Equal(t, 3, res.Stats.Counts.WorkUnitsUsed)
		assert.LessOrEqual(t, len(res.Edges), 2)
	})

	t.Run("shared budget", func(t *testing.T) {
		b := budget.New(graph.Cap(5), nil)
		req := Request{GraphIndex: ix, Seed: seedOf(ChunkSeed("c00")), Depth: depth(4), WorkBudget: b}
		Build(context.Background(), req)
		res := Build(context.Background(), req)
		assert.Empty(t, res.Edges)
		assert.NotNil(t, res.TruncationFor(budget.ReasonMaxWorkUnits))
	})

	t.Run("used without cap", func(t *testing.T) {
		res := Build(context.Background(), Request{GraphIndex: ix, Seed: seedOf(ChunkSeed("c00")), Depth: depth(1)})
		assert.Greater(t, res.Stats.Counts.WorkUnitsUsed, 0)
	})
}

func TestBuild_DepthClamp(t *testing.T) {
	ix := callIndex(t, relGraph([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"c", "d"}), false)

	res := Build(context.Background(), Request{
		GraphIndex: ix,
		Seed:       seedOf(ChunkSeed("a")),
		Depth:      depth(5),
		Direction:  graph.DirOut,
		Caps:       graph.Caps{MaxDepth: graph.Cap(2)},
	})
	assert.Equal(t, []string{"chunk:a", "chunk:b", "chunk:c"}, nodeKeys(res))
	rec := res.TruncationFor(graph.CapMaxDepth)
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.Limit)
	assert.Equal(t, 5, rec.Observed)

	res = Build(context.Background(), Request{GraphIndex: ix, Seed: seedOf(ChunkSeed("a")), Depth: depth(-3)})
	assert.Equal(t, []string{"chunk:a"}, nodeKeys(res))
	assert.Empty(t, res.Edges)
}

func TestBuild_Paths(t *testing.T) {
	ix := callIndex(t, relGraph([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"a", "d"}), false)
	req := Request{
		GraphIndex:   ix,
		Seed:         seedOf(ChunkSeed("a")),
		Depth:        depth(2),
		Direction:    graph.DirOut,
		IncludePaths: true,
	}

	res := Build(context.Background(), req)
	require.Len(t, res.Paths, 3)
	assert.Equal(t, "chunk:b", res.Paths[0].To.Key())
	assert.Equal(t, "chunk:d", res.Paths[1].To.Key())
	last := res.Paths[2]
	assert.Equal(t, "chunk:c", last.To.Key())
	assert.Equal(t, 2, last.Distance)
	assert.Equal(t, []graph.NodeRef{graph.ChunkRef("a"), graph.ChunkRef("b"), graph.ChunkRef("c")}, last.Nodes)
	require.Len(t, last.Edges, 2)
	assert.Equal(t, graph.EdgeCall, last.Edges[1].EdgeType)

	req.Caps = graph.Caps{MaxPaths: graph.Cap(1)}
	res = Build(context.Background(), req)
	require.Len(t, res.Paths, 1)
	assert.Equal(t, "chunk:b", res.Paths[0].To.Key())
	rec := res.TruncationFor(graph.CapMaxPaths)
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.Observed)
	require.NotNil(t, rec.Omitted)
	assert.Equal(t, 2, *rec.Omitted)
	assert.Equal(t, 1, res.Stats.Counts.PathsReturned)
}

func TestBuild_EdgeDedupKeepsHigherConfidence(t *testing.T) {
	low, high := 0.2, 0.9
	ref := func(conf *float64) *artifact.SymbolRef {
		return &artifact.SymbolRef{Status: "resolved", Resolved: &artifact.Candidate{SymbolID: "S"}, Confidence: conf}
	}
	for name, order := range map[string][]float64{"low first": {low, high}, "high first": {high, low}} {
		t.Run(name, func(t *testing.T) {
			var edges []artifact.SymbolEdge
			for _, c := range order {
				edges = append(edges, artifact.SymbolEdge{
					From:       artifact.ChunkEndpoint{ChunkUID: "a"},
					To:         ref(nil),
					Confidence: &c,
				})
			}
			res := Build(context.Background(), Request{
				Seed:        seedOf(ChunkSeed("a")),
				SymbolEdges: edges,
				EdgeFilters: &EdgeFilters{Graphs: []string{graph.GraphSymbolEdges}},
			})
			require.Len(t, res.Edges, 1)
			require.NotNil(t, res.Edges[0].Confidence)
			assert.Equal(t, high, *res.Edges[0].Confidence)
		})
	}
}

func TestBuild_SymbolEdges(t *testing.T) {
	conf := 0.5
	edges := []artifact.SymbolEdge{
		{
			From:   artifact.ChunkEndpoint{ChunkUID: "a"},
			To:     &artifact.SymbolRef{Status: "resolved", Resolved: &artifact.Candidate{SymbolID: "S"}},
			Reason: "import binding",
		},
		{
			From: artifact.ChunkEndpoint{ChunkUID: "b"},
			To: &artifact.SymbolRef{
				Status:     "ambiguous",
				Candidates: []artifact.Candidate{{SymbolID: "S"}, {SymbolID: "T"}, {SymbolID: "U"}},
			},
			Type:       "reference",
			Confidence: &conf,
		},
		{
			From: artifact.ChunkEndpoint{ChunkUID: "c"},
			To:   &artifact.SymbolRef{Status: "unresolved", TargetName: "missing"},
		},
	}

	t.Run("chunk to symbol to chunk", func(t *testing.T) {
		res := Build(context.Background(), Request{
			Seed:        seedOf(ChunkSeed("a")),
			SymbolEdges: edges,
			Depth:       depth(2),
			Caps:        graph.Caps{MaxCandidates: graph.Cap(1)},
		})
		assert.Equal(t, []string{"chunk:a", "chunk:b", "symbol:S"}, nodeKeys(res))
		require.Len(t, res.Edges, 2)
		assert.Equal(t, "chunk:a", res.Edges[0].From.Key())
		assert.Equal(t, "import binding", res.Edges[0].Evidence.Note)
		assert.Equal(t, "chunk:b", res.Edges[1].From.Key())
		assert.Equal(t, "reference", res.Edges[1].EdgeType)
		assert.Len(t, res.Edges[1].ToSymbol.Candidates, 1)
		assert.NotNil(t, res.TruncationFor(graph.CapMaxCandidates))
		assert.True(t, res.Stats.ArtifactsUsed.SymbolEdges)
		assert.True(t, res.HasWarning(WarnMissingGraphRelations))
	})

	t.Run("unresolved target keeps symbol ref", func(t *testing.T) {
		res := Build(context.Background(), Request{Seed: seedOf(ChunkSeed("c")), SymbolEdges: edges})
		require.Len(t, res.Edges, 1)
		assert.True(t, res.Edges[0].To.IsZero())
		assert.Equal(t, "missing", res.Edges[0].ToSymbol.TargetName)
		assert.Equal(t, []string{"chunk:c"}, nodeKeys(res))
	})

	t.Run("min confidence treats unscored as one", func(t *testing.T) {
		minConf := 0.6
		res := Build(context.Background(), Request{
			Seed:        seedOf(SymbolSeed("S")),
			SymbolEdges: edges,
			EdgeFilters: &EdgeFilters{MinConfidence: &minConf},
		})
		assert.Equal(t, []string{"chunk:a", "symbol:S"}, nodeKeys(res))
	})

	t.Run("result does not alias index data", func(t *testing.T) {
		ix, err := graph.BuildIndex(context.Background(), artifact.Bundle{SymbolEdges: edges}, graph.BuildOptions{})
		require.NoError(t, err)
		res := Build(context.Background(), Request{GraphIndex: ix, Seed: seedOf(ChunkSeed("b"))})
		require.Len(t, res.Edges, 1)
		res.Edges[0].ToSymbol.Candidates[0].SymbolID = "mutated"
		again := Build(context.Background(), Request{GraphIndex: ix, Seed: seedOf(ChunkSeed("b"))})
		assert.Equal(t, "S", again.Edges[0].ToSymbol.Candidates[0].SymbolID)
	})
}

func TestBuild_CallSiteEvidence(t *testing.T) {
	var sites []artifact.CallSite
	for i := 0; i < 30; i++ {
		sites = append(sites, artifact.CallSite{CallSiteID: fmt.Sprintf("cs%02d", i), CallerChunkUID: "a", TargetChunkUID: "b"})
	}
	res := Build(context.Background(), Request{
		Seed:           seedOf(ChunkSeed("a")),
		GraphRelations: &artifact.GraphRelations{Version: 1, CallGraph: relGraph([2]string{"a", "b"})},
		CallSites:      sites,
	})
	require.Len(t, res.Edges, 1)
	require.NotNil(t, res.Edges[0].Evidence)
	assert.Len(t, res.Edges[0].Evidence.CallSiteIDs, MaxCallSiteEvidence)
	assert.Equal(t, "cs00", res.Edges[0].Evidence.CallSiteIDs[0])
	assert.True(t, res.Stats.ArtifactsUsed.CallSites)
}

func TestBuild_Imports(t *testing.T) {
	call := &artifact.Graph{Nodes: []artifact.GraphNode{
		{ID: "k0", File: "src/f0.js", Out: []string{"k1", "k2", "k3", "k4"}},
		{ID: "k1", File: "src/f1.js", In: []string{"k0"}},
		{ID: "k2", File: "src/f2.js", In: []string{"k0"}},
		{ID: "k3", File: "src/f3.js", In: []string{"k0"}},
		{ID: "k4", File: "src/f4.js", In: []string{"k0"}},
	}}
	imports := relGraph([2]string{"src/main.js", "src/util.js"})
	rel := &artifact.GraphRelations{Version: 1, CallGraph: call, ImportGraph: imports}

	t.Run("file seed follows imports", func(t *testing.T) {
		res := Build(context.Background(), Request{
			Seed:           seedOf(FileSeed("/repo/src/main.js")),
			RepoRoot:       "/repo",
			GraphRelations: rel,
		})
		assert.Equal(t, []string{"file:src/main.js", "file:src/util.js"}, nodeKeys(res))
		require.Len(t, res.Edges, 1)
		assert.Equal(t, graph.EdgeImport, res.Edges[0].EdgeType)
	})

	t.Run("missing files warn at most three times", func(t *testing.T) {
		res := Build(context.Background(), Request{
			Seed:           seedOf(ChunkSeed("k0")),
			Depth:          depth(2),
			Direction:      graph.DirOut,
			GraphRelations: rel,
		})
		var misses []string
		for _, w := range res.Warnings {
			if w.Code == WarnImportGraphMissingFile {
				misses = append(misses, w.Data["path"].(string))
			}
		}
		assert.Equal(t, []string{"src/f0.js", "src/f1.js", "src/f2.js"}, misses)
	})
}

func TestBuild_Filters(t *testing.T) {
	rel := &artifact.GraphRelations{
		Version:    1,
		CallGraph:  relGraph([2]string{"a", "b"}),
		UsageGraph: relGraph([2]string{"a", "c"}),
	}

	t.Run("graph allow list", func(t *testing.T) {
		res := Build(context.Background(), Request{
			Seed:           seedOf(ChunkSeed("a")),
			GraphRelations: rel,
			EdgeFilters:    &EdgeFilters{Graphs: []string{"usageGraph"}},
		})
		assert.Equal(t, []string{"chunk:a", "chunk:c"}, nodeKeys(res))
		assert.Empty(t, res.Warnings)
	})

	t.Run("edge type allow list is case insensitive", func(t *testing.T) {
		res := Build(context.Background(), Request{
			Seed:           seedOf(ChunkSeed("a")),
			GraphRelations: rel,
			EdgeFilters:    &EdgeFilters{EdgeTypes: []string{"CALL"}},
		})
		assert.Equal(t, []string{"chunk:a", "chunk:b"}, nodeKeys(res))
	})

	t.Run("unknown names warn", func(t *testing.T) {
		res := Build(context.Background(), Request{
			Seed:           seedOf(ChunkSeed("a")),
			GraphRelations: rel,
			EdgeFilters:    &EdgeFilters{Graphs: []string{"callGraph,bogusGraph"}, EdgeTypes: []string{"teleport"}},
		})
		assert.True(t, res.HasWarning(WarnUnknownGraphFilter))
		assert.True(t, res.HasWarning(WarnUnknownEdgeTypeFilter))
		assert.True(t, res.HasWarning(WarnEdgeTypeFilterNoMatch))
		assert.Empty(t, res.Edges)
	})

	t.Run("missing symbol edges only when requested", func(t *testing.T) {
		res := Build(context.Background(), Request{
			Seed:           seedOf(ChunkSeed("a")),
			GraphRelations: rel,
			EdgeFilters:    &EdgeFilters{Graphs: []string{"symbolEdges"}},
		})
		assert.True(t, res.HasWarning(WarnMissingSymbolEdges))
		assert.False(t, res.HasWarning(WarnMissingGraphRelations))

		res = Build(context.Background(), Request{Seed: seedOf(ChunkSeed("a")), GraphRelations: rel})
		assert.False(t, res.HasWarning(WarnMissingSymbolEdges))
	})
}

func TestBuild_StaleIndex(t *testing.T) {
	old := &artifact.GraphRelations{Version: 1, CallGraph: relGraph([2]string{"a", "b"})}
	fresh := &artifact.GraphRelations{Version: 1, CallGraph: relGraph([2]string{"a", "b"}, [2]string{"a", "c"})}
	ix, err := graph.BuildIndex(context.Background(), artifact.Bundle{GraphRelations: old},
		graph.BuildOptions{RepoRoot: "/repo", Graphs: []string{graph.GraphCall}})
	require.NoError(t, err)

	t.Run("count mismatch rebases", func(t *testing.T) {
		res := Build(context.Background(), Request{GraphIndex: ix, GraphRelations: fresh, Seed: seedOf(ChunkSeed("a"))})
		assert.True(t, res.HasWarning(WarnGraphIndexMismatch))
		assert.True(t, res.HasWarning(WarnGraphCountMismatch))
		assert.False(t, res.HasWarning(WarnGraphIndexRepoRoot))
		assert.Equal(t, []string{"chunk:a", "chunk:b", "chunk:c"}, nodeKeys(res))
	})

	t.Run("repo root mismatch", func(t *testing.T) {
		res := Build(context.Background(), Request{
			GraphIndex:     ix,
			GraphRelations: old,
			RepoRoot:       "/elsewhere",
			Seed:           seedOf(ChunkSeed("a")),
		})
		assert.True(t, res.HasWarning(WarnGraphIndexMismatch))
		assert.True(t, res.HasWarning(WarnGraphIndexRepoRoot))
		assert.False(t, res.HasWarning(WarnGraphCountMismatch))
	})

	t.Run("matching relations keep the index", func(t *testing.T) {
		res := Build(context.Background(), Request{GraphIndex: ix, GraphRelations: old, Seed: seedOf(ChunkSeed("a"))})
		assert.Empty(t, res.Warnings)
		assert.Equal(t, []string{"chunk:a", "chunk:b"}, nodeKeys(res))
	})

	t.Run("repo root mismatch without relations", func(t *testing.T) {
		res := Build(context.Background(), Request{
			GraphIndex: ix,
			RepoRoot:   "/elsewhere",
			Seed:       seedOf(ChunkSeed("a")),
		})
		require.True(t, res.HasWarning(WarnGraphIndexRepoRoot))
		assert.False(t, res.HasWarning(WarnGraphIndexMismatch))
		assert.Equal(t, []string{"chunk:a", "chunk:b"}, nodeKeys(res))
	})

	t.Run("same repo root spelled differently", func(t *testing.T) {
		res := Build(context.Background(), Request{
			GraphIndex: ix,
			RepoRoot:   "/repo/",
			Seed:       seedOf(ChunkSeed("a")),
		})
		assert.Empty(t, res.Warnings)
	})
}

func TestBuild_MemoryPlateau(t *testing.T) {
	if testing.Short() {
		t.Skip("long-running")
	}
	g := relGraph(randomEdges(90, 400, 13)...)
	ix := callIndex(t, g, true)

	for i := 0; i < 5000; i++ {
		Build(context.Background(), Request{
			GraphIndex: ix,
			Seed:       seedOf(ChunkSeed(fmt.Sprintf("c%02d", i%90))),
			Depth:      depth(2),
			Direction:  []graph.Direction{graph.DirOut, graph.DirIn, graph.DirBoth}[i%3],
		})
	}
	stats := ix.TraversalCacheStats()
	assert.Equal(t, graph.DefaultTraversalCacheSize, stats.Capacity)
	assert.LessOrEqual(t, stats.Size, stats.Capacity)
	assert.LessOrEqual(t, stats.Peak, stats.Capacity)
	assert.Greater(t, stats.Evictions, int64(0))
}
