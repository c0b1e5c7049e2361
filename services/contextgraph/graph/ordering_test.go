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
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
)

func TestNodeKey(t *testing.T) {
	tests := []struct {
		name string
		ref  NodeRef
		want string
	}{
		{"chunk", ChunkRef("c1"), "chunk:c1"},
		{"file", FileRef("src/a.go"), "file:src/a.go"},
		{"symbol", SymbolRef("sym:x"), "symbol:sym:x"},
		{"empty chunk", NodeRef{Type: RefChunk}, ""},
		{"unknown type", NodeRef{Type: "dir", Path: "x"}, ""},
		{"zero", NodeRef{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NodeKey(tt.ref))
		})
	}
}

func TestEdgeKey(t *testing.T) {
	t.Run("chunk edge", func(t *testing.T) {
		e := &Edge{Graph: GraphCall, EdgeType: EdgeCall, From: ChunkRef("a"), To: ChunkRef("b")}
		assert.Equal(t, "callGraph|chunk:a|call|chunk:b", EdgeKey(e))
	})

	t.Run("unresolved symbol edge", func(t *testing.T) {
		e := &Edge{
			Graph:    GraphSymbolEdges,
			EdgeType: EdgeSymbol,
			From:     ChunkRef("a"),
			ToSymbol: &artifact.SymbolRef{TargetName: "Foo", ImportHint: "pkg", KindHint: "func"},
		}
		assert.Equal(t, "symbolEdges|chunk:a|symbol|symref:Foo|pkg|func", EdgeKey(e))
	})

	t.Run("resolved symbol edge", func(t *testing.T) {
		e := &Edge{
			Graph:    GraphSymbolEdges,
			EdgeType: EdgeSymbol,
			From:     ChunkRef("a"),
			ToSymbol: &artifact.SymbolRef{Resolved: &artifact.Candidate{SymbolID: "s1"}},
		}
		assert.Equal(t, "symbolEdges|chunk:a|symbol|symbol:s1", EdgeKey(e))
	})

	t.Run("malformed from", func(t *testing.T) {
		e := &Edge{Graph: GraphCall, EdgeType: EdgeCall, From: NodeRef{Type: RefChunk}, To: ChunkRef("b")}
		assert.Empty(t, EdgeKey(e))
	})
}

func TestCompareNodes(t *testing.T) {
	nodes := []*Node{
		{Ref: SymbolRef("s"), Distance: 1},
		{Ref: FileRef("b.go"), Distance: 2},
		{Ref: ChunkRef("z"), Distance: 0},
		{Ref: ChunkRef("a"), Distance: 3},
		{Ref: FileRef("a.go"), Distance: 1},
	}
	slices.SortFunc(nodes, CompareNodes)

	var keys []string
	for _, n := range nodes {
		keys = append(keys, NodeKey(n.Ref))
	}
	assert.Equal(t, []string{"chunk:a", "chunk:z", "file:a.go", "file:b.go", "symbol:s"}, keys)
}

func TestCompareEdges(t *testing.T) {
	hi, lo := 0.9, 0.2
	edges := []*Edge{
		{Graph: GraphUsage, EdgeType: EdgeUsage, From: ChunkRef("a"), To: ChunkRef("b")},
		{Graph: GraphCall, EdgeType: EdgeCall, From: ChunkRef("a"), To: ChunkRef("c")},
		{Graph: GraphCall, EdgeType: EdgeCall, From: ChunkRef("a"), To: ChunkRef("b"), Confidence: &lo},
		{Graph: GraphCall, EdgeType: EdgeCall, From: ChunkRef("a"), To: ChunkRef("b")},
		{Graph: GraphCall, EdgeType: EdgeCall, From: ChunkRef("a"), To: ChunkRef("b"), Confidence: &hi},
	}
	slices.SortFunc(edges, CompareEdges)

	assert.Equal(t, "chunk:b", EdgeToKey(edges[0]))
	assert.Equal(t, &hi, edges[0].Confidence)
	assert.Equal(t, &lo, edges[1].Confidence)
	assert.Nil(t, edges[2].Confidence)
	assert.Equal(t, "chunk:c", EdgeToKey(edges[3]))
	assert.Equal(t, GraphUsage, edges[4].Graph)
}

func TestCompareConfidenceDesc(t *testing.T) {
	a, b := 0.5, 0.7
	assert.Equal(t, 0, CompareConfidenceDesc(nil, nil))
	assert.Equal(t, 1, CompareConfidenceDesc(nil, &a))
	assert.Equal(t, -1, CompareConfidenceDesc(&a, nil))
	assert.Equal(t, 1, CompareConfidenceDesc(&a, &b))
	assert.Equal(t, -1, CompareConfidenceDesc(&b, &a))
}

func TestCompareWitnessPaths(t *testing.T) {
	short := &WitnessPath{To: ChunkRef("z"), Distance: 1, Nodes: []NodeRef{ChunkRef("s"), ChunkRef("z")}}
	longA := &WitnessPath{To: ChunkRef("a"), Distance: 2, Nodes: []NodeRef{ChunkRef("s"), ChunkRef("m"), ChunkRef("a")}}
	longB := &WitnessPath{To: ChunkRef("a"), Distance: 2, Nodes: []NodeRef{ChunkRef("s"), ChunkRef("n"), ChunkRef("a")}}

	paths := []*WitnessPath{longB, longA, short}
	slices.SortFunc(paths, CompareWitnessPaths)
	assert.Equal(t, []*WitnessPath{short, longA, longB}, paths)
}

func TestCompareCandidates(t *testing.T) {
	cands := []artifact.Candidate{
		{SymbolID: "b"},
		{SymbolID: "a", ChunkUID: "2"},
		{SymbolID: "a", ChunkUID: "1", Path: "z"},
		{SymbolID: "a", ChunkUID: "1", Path: "y"},
	}
	slices.SortFunc(cands, func(x, y artifact.Candidate) int { return CompareCandidates(&x, &y) })
	assert.Equal(t, "y", cands[0].Path)
	assert.Equal(t, "z", cands[1].Path)
	assert.Equal(t, "2", cands[2].ChunkUID)
	assert.Equal(t, "b", cands[3].SymbolID)
}

func TestNormalizeImportPath(t *testing.T) {
	tests := []struct {
		name, value, root, want string
	}{
		{"empty", "", "/repo", ""},
		{"relative", "src/a.js", "/repo", "src/a.js"},
		{"dot prefix", "./src/a.js", "", "src/a.js"},
		{"absolute under root", "/repo/src/a.js", "/repo", "src/a.js"},
		{"absolute outside root", "/other/a.js", "/repo", "/other/a.js"},
		{"backslashes", `src\lib\a.js`, "", "src/lib/a.js"},
		{"absolute without root", "/repo/a.js", "", "/repo/a.js"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeImportPath(tt.value, tt.root))
		})
	}
}

func TestParseDirection(t *testing.T) {
	assert.Equal(t, DirIn, ParseDirection(" IN "))
	assert.Equal(t, DirOut, ParseDirection("out"))
	assert.Equal(t, DirBoth, ParseDirection("both"))
	assert.Equal(t, DirBoth, ParseDirection("sideways"))
	assert.Equal(t, DirBoth, ParseDirection(""))
}

func TestCaps_Normalize(t *testing.T) {
	in := Caps{MaxNodes: Cap(-3), MaxEdges: Cap(4)}
	out := in.Normalize()

	assert.Equal(t, 0, *out.MaxNodes)
	assert.Equal(t, 4, *out.MaxEdges)
	assert.Nil(t, out.MaxDepth)
	assert.NotSame(t, in.MaxEdges, out.MaxEdges)
	assert.Equal(t, -3, *in.MaxNodes)
}

func TestCaps_Merge(t *testing.T) {
	got := Caps{MaxNodes: Cap(1)}.Merge(Caps{MaxNodes: Cap(9), MaxEdges: Cap(5)})
	assert.Equal(t, 1, *got.MaxNodes)
	assert.Equal(t, 5, *got.MaxEdges)
	assert.Nil(t, got.MaxPaths)
}
