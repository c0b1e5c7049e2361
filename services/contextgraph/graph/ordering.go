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
	"cmp"
	"slices"
	"strings"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
)

// NodeKey returns "chunk:<uid>", "file:<path>" or "symbol:<id>".
// A ref with an unknown type or an empty identity field yields "".
func NodeKey(r NodeRef) string {
	switch r.Type {
	case RefChunk:
		if r.ChunkUID != "" {
			return "chunk:" + r.ChunkUID
		}
	case RefFile:
		if r.Path != "" {
			return "file:" + r.Path
		}
	case RefSymbol:
		if r.SymbolID != "" {
			return "symbol:" + r.SymbolID
		}
	}
	return ""
}

// SymbolRefKey returns the identity of a symbol reference: the resolved
// symbol key when resolution produced a symbol id, otherwise a key built
// from the unresolved name and hints.
func SymbolRefKey(ref *artifact.SymbolRef) string {
	if ref == nil {
		return ""
	}
	if ref.Resolved != nil && ref.Resolved.SymbolID != "" {
		return "symbol:" + ref.Resolved.SymbolID
	}
	return "symref:" + ref.TargetName + "|" + ref.ImportHint + "|" + ref.KindHint
}

// EdgeToKey returns the key of the edge target.
func EdgeToKey(e *Edge) string {
	if k := NodeKey(e.To); k != "" {
		return k
	}
	return SymbolRefKey(e.ToSymbol)
}

// EdgeKey returns the dedup identity (graph, from, edgeType, to), or "" if
// either endpoint is malformed.
func EdgeKey(e *Edge) string {
	from := NodeKey(e.From)
	to := EdgeToKey(e)
	if from == "" || to == "" {
		return ""
	}
	return e.Graph + "|" + from + "|" + e.EdgeType + "|" + to
}

// CompareNodes orders nodes by (type, key, distance).
func CompareNodes(a, b *Node) int {
	if c := cmp.Compare(a.Ref.Type, b.Ref.Type); c != 0 {
		return c
	}
	if c := strings.Compare(NodeKey(a.Ref), NodeKey(b.Ref)); c != 0 {
		return c
	}
	return cmp.Compare(a.Distance, b.Distance)
}

// CompareEdges orders edges by (graph, from key, edgeType, to key,
// confidence descending). Missing confidence sorts after any score. Edges
// equal on all of those are ordered by their evidence so the order is total.
func CompareEdges(a, b *Edge) int {
	if c := strings.Compare(a.Graph, b.Graph); c != 0 {
		return c
	}
	if c := strings.Compare(NodeKey(a.From), NodeKey(b.From)); c != 0 {
		return c
	}
	if c := strings.Compare(a.EdgeType, b.EdgeType); c != 0 {
		return c
	}
	if c := strings.Compare(EdgeToKey(a), EdgeToKey(b)); c != 0 {
		return c
	}
	if c := CompareConfidenceDesc(a.Confidence, b.Confidence); c != 0 {
		return c
	}
	return compareEvidence(a.Evidence, b.Evidence)
}

// CompareConfidenceDesc orders higher scores first and nil last.
func CompareConfidenceDesc(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return cmp.Compare(*b, *a)
}

func compareEvidence(a, b *Evidence) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if c := strings.Compare(a.Note, b.Note); c != 0 {
		return c
	}
	return slices.Compare(a.CallSiteIDs, b.CallSiteIDs)
}

// CompareWitnessPaths orders paths by (distance, target key, node key
// sequence).
func CompareWitnessPaths(a, b *WitnessPath) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	if c := strings.Compare(NodeKey(a.To), NodeKey(b.To)); c != 0 {
		return c
	}
	n := min(len(a.Nodes), len(b.Nodes))
	for i := 0; i < n; i++ {
		if c := strings.Compare(NodeKey(a.Nodes[i]), NodeKey(b.Nodes[i])); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a.Nodes), len(b.Nodes))
}

// CompareCandidates orders symbol candidates by (symbolId, chunkUid, path).
func CompareCandidates(a, b *artifact.Candidate) int {
	if c := strings.Compare(a.SymbolID, b.SymbolID); c != 0 {
		return c
	}
	if c := strings.Compare(a.ChunkUID, b.ChunkUID); c != 0 {
		return c
	}
	return strings.Compare(a.Path, b.Path)
}

// CompareSymbolRefs orders symbol references by key, then target name, then
// candidate list.
func CompareSymbolRefs(a, b *artifact.SymbolRef) int {
	if c := strings.Compare(SymbolRefKey(a), SymbolRefKey(b)); c != 0 {
		return c
	}
	if a == nil || b == nil {
		return 0
	}
	if c := strings.Compare(a.TargetName, b.TargetName); c != 0 {
		return c
	}
	n := min(len(a.Candidates), len(b.Candidates))
	for i := 0; i < n; i++ {
		if c := CompareCandidates(&a.Candidates[i], &b.Candidates[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(a.Candidates), len(b.Candidates))
}
