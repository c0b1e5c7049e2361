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
	"slices"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/budget"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
)

type queued struct {
	ref      graph.NodeRef
	key      string
	distance int
}

type parentLink struct {
	parent string
	edge   graph.PathEdge
}

type candidate struct {
	edge graph.Edge
	next graph.NodeRef
}

// traversal is the state of one single-seed BFS. Not safe for concurrent
// use; one is created per seed per call.
type traversal struct {
	ix           *graph.Index
	caps         graph.Caps
	depth        int
	dir          graph.Direction
	filter       edgeFilter
	repoRoot     string
	includePaths bool
	budget       budget.WorkBudget
	trunc        *truncationRecorder
	warn         *warningSink

	nodes       map[string]*graph.Node
	edgeIndex   map[string]int
	edges       []graph.Edge
	parents     map[string]parentLink
	discovered  []string
	queue       []queued
	head        int
	cacheCounts CacheCounts
}

func newTraversal(
	ix *graph.Index,
	caps graph.Caps,
	depth int,
	req Request,
	filter edgeFilter,
	repoRoot string,
	b budget.WorkBudget,
	trunc *truncationRecorder,
	warn *warningSink,
) *traversal {
	return &traversal{
		ix:           ix,
		caps:         caps,
		depth:        depth,
		dir:          graph.ParseDirection(string(req.Direction)),
		filter:       filter,
		repoRoot:     repoRoot,
		includePaths: req.IncludePaths,
		budget:       b,
		trunc:        trunc,
		warn:         warn,
		nodes:        make(map[string]*graph.Node),
		edgeIndex:    make(map[string]int),
		parents:      make(map[string]parentLink),
	}
}

// run performs the BFS from seed.
func (t *traversal) run(seed graph.NodeRef) {
	t.addNode(seed, 0)

	for t.head < len(t.queue) {
		cur := t.queue[t.head]
		t.head++
		if cur.distance >= t.depth {
			continue
		}

		cands := t.collect(cur.ref)
		slices.SortStableFunc(cands, func(a, b candidate) int {
			return graph.CompareEdges(&a.edge, &b.edge)
		})
		if limit := t.caps.MaxFanoutPerNode; limit != nil && len(cands) > *limit {
			t.trunc.record(graph.CapMaxFanoutPerNode, *limit, len(cands), len(cands)-*limit, cur.key)
			cands = cands[:*limit]
		}

		if !t.expand(cur, cands) {
			// Abandon the rest of the queue so every run that stops at
			// the same logical point returns the same partial result.
			t.queue = t.queue[:t.head]
		}
	}
}

// expand applies the surviving candidates of one node. It returns false
// when traversal must stop.
func (t *traversal) expand(cur queued, cands []candidate) bool {
	for i := range cands {
		c := &cands[i]

		st := t.budget.Consume(1)
		if st.Stop {
			t.trunc.record(st.Reason, st.Limit, st.Observed(), -1, "")
			return false
		}
		if minConf := t.filter.minConfidence; minConf != nil && c.edge.Confidence != nil && *c.edge.Confidence < *minConf {
			continue
		}
		if !t.addEdge(c.edge) && t.edgesFull() {
			return false
		}

		next := graph.NormalizeFileRef(c.next, t.repoRoot)
		key := next.Key()
		if key == "" {
			continue
		}
		if _, ok := t.nodes[key]; ok {
			continue
		}
		if t.addNode(next, cur.distance+1) {
			to := c.edge.To
			if to.IsZero() {
				to = next
			}
			t.parents[key] = parentLink{
				parent: cur.key,
				edge:   graph.PathEdge{From: c.edge.From, To: to, EdgeType: c.edge.EdgeType},
			}
			t.discovered = append(t.discovered, key)
		}
	}
	return true
}

// addNode records a new node and queues it while depth remains.
func (t *traversal) addNode(ref graph.NodeRef, distance int) bool {
	key := ref.Key()
	if key == "" {
		return false
	}
	if _, ok := t.nodes[key]; ok {
		return false
	}
	if limit := t.caps.MaxNodes; limit != nil && len(t.nodes) >= *limit {
		t.trunc.record(graph.CapMaxNodes, *limit, len(t.nodes), 1, key)
		return false
	}

	n := t.nodeMeta(ref)
	n.Distance = distance
	t.nodes[key] = n
	if distance < t.depth {
		t.queue = append(t.queue, queued{ref: ref, key: key, distance: distance})
	}
	return true
}

// addEdge records e. A duplicate replaces the kept edge only when its
// confidence is strictly higher. It returns true only for a new edge.
func (t *traversal) addEdge(e graph.Edge) bool {
	key := graph.EdgeKey(&e)
	if key == "" {
		return false
	}
	if i, ok := t.edgeIndex[key]; ok {
		if graph.CompareConfidenceDesc(e.Confidence, t.edges[i].Confidence) < 0 {
			t.edges[i] = e
		}
		return false
	}
	if t.edgesFull() {
		limit := *t.caps.MaxEdges
		t.trunc.record(graph.CapMaxEdges, limit, len(t.edges), 1, "")
		return false
	}
	t.edgeIndex[key] = len(t.edges)
	t.edges = append(t.edges, e)
	return true
}

func (t *traversal) edgesFull() bool {
	return t.caps.MaxEdges != nil && len(t.edges) >= *t.caps.MaxEdges
}

func (t *traversal) nodeMeta(ref graph.NodeRef) *graph.Node {
	n := &graph.Node{Ref: ref}
	switch ref.Type {
	case graph.RefChunk:
		if info, ok := t.ix.ChunkInfo(ref.ChunkUID); ok {
			n.File, n.Kind, n.Name, n.Signature = info.File, info.Kind, info.Name, info.Signature
		}
	case graph.RefFile:
		n.File = ref.Path
		id := graph.NormalizeImportPath(ref.Path, t.repoRoot)
		if raw, ok := t.ix.Node(graph.GraphImport, id); ok && raw.File != "" {
			n.File = graph.NormalizeImportPath(raw.File, t.repoRoot)
		}
	case graph.RefSymbol:
		n.Name = ref.SymbolID
	}
	n.Label = n.Name
	if n.Label == "" {
		n.Label = n.File
	}
	return n
}

func (t *traversal) neighbors(g, id string) []string {
	out, hit := t.ix.NeighborsCached(g, id, t.dir)
	if hit {
		t.cacheCounts.Hits++
	} else {
		t.cacheCounts.Misses++
	}
	return out
}

// collect gathers edge candidates for ref from every enabled graph whose
// node type matches.
func (t *traversal) collect(ref graph.NodeRef) []candidate {
	var out []candidate

	if ref.Type == graph.RefChunk {
		for _, g := range []string{graph.GraphCall, graph.GraphUsage} {
			edgeType := graph.EdgeTypeForGraph(g)
			if !t.filter.graph(g) || !t.ix.HasGraph(g) || !t.filter.edgeType(edgeType) {
				continue
			}
			for _, id := range t.neighbors(g, ref.ChunkUID) {
				to := graph.ChunkRef(id)
				e := graph.Edge{Graph: g, EdgeType: edgeType, From: ref, To: to}
				if g == graph.GraphCall {
					e.Evidence = t.callEvidence(ref.ChunkUID, id)
				}
				out = append(out, candidate{edge: e, next: to})
			}
		}
	}

	if t.filter.graph(graph.GraphImport) && t.ix.HasGraph(graph.GraphImport) {
		out = t.collectImports(ref, out)
	}

	if t.filter.graph(graph.GraphSymbolEdges) && t.ix.HasSymbolEdges() {
		out = t.collectSymbols(ref, out)
	}
	return out
}

func (t *traversal) collectImports(ref graph.NodeRef, out []candidate) []candidate {
	var source string
	switch ref.Type {
	case graph.RefFile:
		source = graph.NormalizeImportPath(ref.Path, t.repoRoot)
	case graph.RefChunk:
		if info, ok := t.ix.ChunkInfo(ref.ChunkUID); ok {
			source = graph.NormalizeImportPath(info.File, t.repoRoot)
		}
	}
	if source == "" {
		return out
	}
	if !t.ix.HasNode(graph.GraphImport, source) {
		t.warn.importMiss(source)
		return out
	}
	if !t.filter.edgeType(graph.EdgeImport) {
		return out
	}

	from := ref
	if ref.Type == graph.RefFile {
		from = graph.FileRef(source)
	}
	for _, id := range t.neighbors(graph.GraphImport, source) {
		to := graph.FileRef(id)
		out = append(out, candidate{
			edge: graph.Edge{Graph: graph.GraphImport, EdgeType: graph.EdgeImport, From: from, To: to},
			next: to,
		})
	}
	return out
}

// collectSymbols follows symbol edges: outgoing from a chunk to the symbol
// it references, incoming from a symbol back to each referencing chunk.
func (t *traversal) collectSymbols(ref graph.NodeRef, out []candidate) []candidate {
	var entries []*graph.SymbolEntry
	incoming := false
	switch ref.Type {
	case graph.RefChunk:
		if t.dir != graph.DirIn {
			entries = t.ix.SymbolsByChunk(ref.ChunkUID)
		}
	case graph.RefSymbol:
		if t.dir != graph.DirOut {
			entries = t.ix.SymbolsBySymbol(ref.SymbolID)
			incoming = true
		}
	}

	for _, entry := range entries {
		edgeType := entry.Edge.EdgeType()
		if !t.filter.edgeType(edgeType) {
			continue
		}
		conf := finiteOrNil(entry.Edge.Confidence)
		if minConf := t.filter.minConfidence; minConf != nil {
			effective := 1.0
			if conf != nil {
				effective = *conf
			}
			if effective < *minConf {
				continue
			}
		}

		from := graph.ChunkRef(entry.Edge.From.ChunkUID)
		var to graph.NodeRef
		if entry.SymbolID != "" {
			to = graph.SymbolRef(entry.SymbolID)
		}
		e := graph.Edge{
			Graph:      graph.GraphSymbolEdges,
			EdgeType:   edgeType,
			From:       from,
			To:         to,
			ToSymbol:   t.symbolRefForEdge(entry.Ref),
			Confidence: conf,
		}
		if entry.Edge.Reason != "" {
			e.Evidence = &graph.Evidence{Note: entry.Edge.Reason}
		}
		next := to
		if incoming {
			next = from
		}
		out = append(out, candidate{edge: e, next: next})
	}
	return out
}

// symbolRefForEdge copies ref for the result, trimming candidates to
// maxCandidates.
func (t *traversal) symbolRefForEdge(ref *artifact.SymbolRef) *artifact.SymbolRef {
	if ref == nil {
		return nil
	}
	if limit := t.caps.MaxCandidates; limit != nil {
		if trimmed, ok := graph.TrimCandidates(ref, *limit); ok {
			t.trunc.record(graph.CapMaxCandidates, *limit, len(ref.Candidates), len(ref.Candidates)-*limit, "")
			return trimmed
		}
	}
	out := *ref
	out.Candidates = slices.Clone(ref.Candidates)
	if ref.Resolved != nil {
		resolved := *ref.Resolved
		out.Resolved = &resolved
	}
	return &out
}

func (t *traversal) callEvidence(caller, callee string) *graph.Evidence {
	ids := t.ix.CallSiteIDs(caller, callee)
	if len(ids) == 0 {
		return nil
	}
	return &graph.Evidence{CallSiteIDs: slices.Clone(ids[:min(len(ids), MaxCallSiteEvidence)])}
}

// partial is the sorted output of one traversal.
type partial struct {
	nodes []graph.Node
	edges []graph.Edge
	paths []graph.WitnessPath
}

// finish sorts the traversal output and, when requested, rebuilds witness
// paths from parent pointers.
func (t *traversal) finish() *partial {
	p := &partial{
		nodes: make([]graph.Node, 0, len(t.nodes)),
		edges: slices.Clone(t.edges),
	}
	for _, n := range t.nodes {
		p.nodes = append(p.nodes, *n)
	}
	slices.SortFunc(p.nodes, func(a, b graph.Node) int { return graph.CompareNodes(&a, &b) })
	slices.SortFunc(p.edges, func(a, b graph.Edge) int { return graph.CompareEdges(&a, &b) })
	if p.edges == nil {
		p.edges = []graph.Edge{}
	}

	if t.includePaths {
		p.paths = make([]graph.WitnessPath, 0, len(t.discovered))
		for _, key := range t.discovered {
			if wp, ok := t.buildPath(key); ok {
				p.paths = append(p.paths, wp)
			}
		}
		slices.SortFunc(p.paths, func(a, b graph.WitnessPath) int { return graph.CompareWitnessPaths(&a, &b) })
		p.paths = capPaths(p.paths, t.caps, t.trunc)
	}
	return p
}

func (t *traversal) buildPath(key string) (graph.WitnessPath, bool) {
	target, ok := t.nodes[key]
	if !ok {
		return graph.WitnessPath{}, false
	}
	var nodes []graph.NodeRef
	var edges []graph.PathEdge
	cursor := key
	for steps := 0; cursor != "" && steps < maxPathWalk; steps++ {
		if n, ok := t.nodes[cursor]; ok {
			nodes = append(nodes, n.Ref)
		}
		link, ok := t.parents[cursor]
		if !ok {
			break
		}
		edges = append(edges, link.edge)
		cursor = link.parent
	}
	slices.Reverse(nodes)
	slices.Reverse(edges)
	return graph.WitnessPath{
		To:       target.Ref,
		Distance: max(0, len(nodes)-1),
		Nodes:    nodes,
		Edges:    edges,
	}, true
}

func capPaths(paths []graph.WitnessPath, caps graph.Caps, trunc *truncationRecorder) []graph.WitnessPath {
	if limit := caps.MaxPaths; limit != nil && len(paths) > *limit {
		trunc.record(graph.CapMaxPaths, *limit, len(paths), len(paths)-*limit, "")
		return paths[:*limit]
	}
	return paths
}
