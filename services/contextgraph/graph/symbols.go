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

// SymbolEntry is one symbol edge as held by the index.
type SymbolEntry struct {
	// Edge is the raw artifact row. Never mutated.
	Edge *artifact.SymbolEdge

	// Ref is the normalised target reference; the resolved candidate is
	// always present in Ref.Candidates when Ref.Resolved is set.
	Ref *artifact.SymbolRef

	// SymbolID is the symbol the edge points at, or "" when unresolvable.
	SymbolID string
}

// NormalizeSymbolRef returns a copy of ref with defaults applied and the
// resolved candidate prepended to the candidate list when it is missing.
func NormalizeSymbolRef(ref *artifact.SymbolRef) *artifact.SymbolRef {
	if ref == nil {
		return nil
	}
	out := *ref
	if out.V == 0 {
		out.V = 1
	}
	if out.Status == "" {
		out.Status = "unresolved"
	}
	out.Candidates = slices.Clone(ref.Candidates)
	if ref.Resolved != nil {
		key := ref.Resolved.IdentityKey()
		found := slices.ContainsFunc(out.Candidates, func(c artifact.Candidate) bool {
			return c.IdentityKey() == key
		})
		if !found {
			out.Candidates = append([]artifact.Candidate{*ref.Resolved}, out.Candidates...)
		}
	}
	if out.Candidates == nil {
		out.Candidates = []artifact.Candidate{}
	}
	return &out
}

// ResolveSymbolID picks the symbol a reference points at: the resolved
// symbol id, else the smallest candidate symbol id by CompareCandidates.
func ResolveSymbolID(ref *artifact.SymbolRef) string {
	if ref == nil {
		return ""
	}
	if ref.Resolved != nil && ref.Resolved.SymbolID != "" {
		return ref.Resolved.SymbolID
	}
	var best *artifact.Candidate
	for i := range ref.Candidates {
		c := &ref.Candidates[i]
		if c.SymbolID == "" {
			continue
		}
		if best == nil || CompareCandidates(c, best) < 0 {
			best = c
		}
	}
	if best == nil {
		return ""
	}
	return best.SymbolID
}

// TrimCandidates limits ref to limit candidates, keeping the resolved
// candidate when present. It returns ref itself when no trimming is needed
// and a copy otherwise.
func TrimCandidates(ref *artifact.SymbolRef, limit int) (*artifact.SymbolRef, bool) {
	if ref == nil || limit < 0 || len(ref.Candidates) <= limit {
		return ref, false
	}
	out := *ref
	kept := slices.Clone(ref.Candidates[:limit])
	if ref.Resolved != nil && limit > 0 {
		key := ref.Resolved.IdentityKey()
		inKept := slices.ContainsFunc(kept, func(c artifact.Candidate) bool {
			return c.IdentityKey() == key
		})
		if !inKept {
			kept[limit-1] = *ref.Resolved
		}
	}
	out.Candidates = kept
	return &out, true
}

type symbolIndex struct {
	byChunk   map[string][]*SymbolEntry
	bySymbol  map[string][]*SymbolEntry
	edgeTypes []string
	count     int
}

func buildSymbolIndex(edges []artifact.SymbolEdge) *symbolIndex {
	idx := &symbolIndex{
		byChunk:  make(map[string][]*SymbolEntry),
		bySymbol: make(map[string][]*SymbolEntry),
	}
	types := make(map[string]struct{})
	for i := range edges {
		e := &edges[i]
		if e.From.ChunkUID == "" || e.To == nil {
			continue
		}
		ref := NormalizeSymbolRef(e.To)
		entry := &SymbolEntry{Edge: e, Ref: ref, SymbolID: ResolveSymbolID(ref)}
		idx.byChunk[e.From.ChunkUID] = append(idx.byChunk[e.From.ChunkUID], entry)
		if entry.SymbolID != "" {
			idx.bySymbol[entry.SymbolID] = append(idx.bySymbol[entry.SymbolID], entry)
		}
		types[strings.ToLower(e.EdgeType())] = struct{}{}
		idx.count++
	}
	for _, list := range idx.byChunk {
		slices.SortStableFunc(list, compareSymbolEntries)
	}
	for _, list := range idx.bySymbol {
		slices.SortStableFunc(list, compareSymbolEntries)
	}
	for t := range types {
		idx.edgeTypes = append(idx.edgeTypes, t)
	}
	slices.Sort(idx.edgeTypes)
	return idx
}

func compareSymbolEntries(a, b *SymbolEntry) int {
	if c := strings.Compare(a.Edge.EdgeType(), b.Edge.EdgeType()); c != 0 {
		return c
	}
	if c := CompareSymbolRefs(a.Ref, b.Ref); c != 0 {
		return c
	}
	if c := CompareConfidenceDesc(a.Edge.Confidence, b.Edge.Confidence); c != 0 {
		return c
	}
	if c := strings.Compare(a.Edge.Reason, b.Edge.Reason); c != 0 {
		return c
	}
	return cmp.Compare(a.Edge.From.ChunkUID, b.Edge.From.ChunkUID)
}

// callSiteKey joins caller and callee uids.
func callSiteKey(caller, callee string) string {
	return caller + "|" + callee
}

// buildCallSiteIndex groups call-site ids by caller|callee. Ids are sorted
// and deduplicated so evidence does not depend on artifact row order.
func buildCallSiteIndex(sites []artifact.CallSite) map[string][]string {
	out := make(map[string][]string)
	for i := range sites {
		s := &sites[i]
		if s.CallerChunkUID == "" || s.TargetChunkUID == "" || s.CallSiteID == "" {
			continue
		}
		key := callSiteKey(s.CallerChunkUID, s.TargetChunkUID)
		out[key] = append(out[key], s.CallSiteID)
	}
	for k, ids := range out {
		slices.Sort(ids)
		out[k] = slices.Compact(ids)
	}
	return out
}
