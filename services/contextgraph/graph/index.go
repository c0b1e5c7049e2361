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
	"slices"
	"sync"
	"time"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/cache"
)

// DefaultTraversalCacheSize bounds the per-index neighbor cache.
const DefaultTraversalCacheSize = 32

// CSR sources reported by CsrInfo.
const (
	CsrSourceArtifact = "artifact"
	CsrSourceDerived  = "derived"
)

// BuildOptions configures BuildIndex.
type BuildOptions struct {
	// RepoRoot is used to normalise import-graph paths.
	RepoRoot string

	// IndexSignature identifies the artifact set the index was built from.
	IndexSignature string

	// IncludeCsr enables CSR adjacency, loaded from the CSR artifact when it
	// is present and valid, derived otherwise.
	IncludeCsr bool

	// Graphs restricts the graphs indexed. Nil or empty indexes all of
	// KnownGraphs. Unknown names are ignored.
	Graphs []string

	// TraversalCacheSize bounds the neighbor cache. <= 0 uses
	// DefaultTraversalCacheSize.
	TraversalCacheSize int
}

// GraphCounts are the node and edge counts of one relation graph as
// declared by (or derived from) the artifact.
type GraphCounts struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// CsrInfo describes how CSR adjacency was obtained.
type CsrInfo struct {
	// Enabled is true when the index was built with IncludeCsr.
	Enabled bool `json:"enabled"`

	// Sources maps graph name to CsrSourceArtifact or CsrSourceDerived.
	Sources map[string]string `json:"sources,omitempty"`

	// RejectReason is the first reason the CSR artifact was not used.
	RejectReason string `json:"rejectReason,omitempty"`

	// Bytes is the approximate size of all CSR arrays.
	Bytes int `json:"bytes"`
}

// Source summarises Sources: "artifact", "derived", "mixed" or "".
func (c CsrInfo) Source() string {
	out := ""
	for _, s := range c.Sources {
		switch {
		case out == "":
			out = s
		case out != s:
			return "mixed"
		}
	}
	return out
}

type adjacency struct {
	out  []string
	in   []string
	both []string
}

// relationGraph is the indexed form of one call, usage or import graph.
type relationGraph struct {
	name      string
	nodes     map[string]*artifact.GraphNode
	ids       []string
	idToIndex map[string]uint32
	adj       map[string]*adjacency
	counts    GraphCounts

	// inOnly holds edges, keyed by source, that appear only in a target's
	// in list. A CSR artifact encodes out lists alone and misses them.
	inOnly map[string][]string

	csr         *csrRows
	reverseOnce sync.Once
	reverse     *csrRows
}

type traversalKey struct {
	graph string
	dir   Direction
	id    string
}

// Index is the immutable lookup structure traversal runs against.
//
// Description:
//
//	Holds, per relation graph, a sorted id table, sorted adjacency lists
//	and optional CSR adjacency; merged chunk metadata; symbol edges indexed
//	by source chunk and by resolved symbol; and call-site evidence keyed by
//	caller|callee.
//
// Thread Safety: Safe for concurrent use. Nothing is mutated after
// BuildIndex returns except the internally locked traversal cache and the
// once-only reverse CSR derivation.
type Index struct {
	opts         BuildOptions
	enabled      map[string]bool
	graphs       map[string]*relationGraph
	hasRelations bool
	chunkInfo    map[string]ChunkInfo
	symbols      *symbolIndex
	callSites    map[string][]string
	csrInfo      CsrInfo
	traversal    *cache.LRU[traversalKey, []string]
	builtAt      time.Time
	buildTime    time.Duration
}

// BuildIndex materialises an Index from decoded artifacts.
//
// Description:
//
//	Every artifact in b is optional. Missing relations leave the relation
//	graphs empty; missing symbol edges or call sites leave those indexes
//	empty. When IncludeCsr is set and a compatible CSR artifact is present,
//	each graph's CSR is loaded and validated; any failure falls back to
//	deriving CSR from the adjacency lists and is recorded in CsrInfo.
//
// Inputs:
//   - ctx: Context for tracing and cancellation between graphs.
//   - b: Decoded artifacts. Never mutated.
//   - opts: Build options.
//
// Outputs:
//   - *Index: The index. Nil on error.
//   - error: ErrBuildCancelled if ctx is done.
//
// Thread Safety: Safe for concurrent use; builds share nothing.
func BuildIndex(ctx context.Context, b artifact.Bundle, opts BuildOptions) (*Index, error) {
	ctx, span := startBuildSpan(ctx, opts.IndexSignature, opts.IncludeCsr)
	defer span.End()
	start := time.Now()

	ix := newIndex(opts)
	if err := ix.buildRelations(ctx, b.GraphRelations, b.GraphRelationsCsr); err != nil {
		recordBuildMetrics(ctx, time.Since(start), 0, opts.IncludeCsr, false)
		return nil, err
	}
	if ix.enabled[GraphSymbolEdges] {
		ix.symbols = buildSymbolIndex(b.SymbolEdges)
	} else {
		ix.symbols = buildSymbolIndex(nil)
	}
	if ix.enabled[GraphCall] {
		ix.callSites = buildCallSiteIndex(b.CallSites)
	} else {
		ix.callSites = map[string][]string{}
	}

	ix.buildTime = time.Since(start)
	nodes, edges := ix.totals()
	setBuildSpanResult(span, nodes, edges, ix.csrInfo.Source())
	recordBuildMetrics(ctx, ix.buildTime, nodes, opts.IncludeCsr, true)
	return ix, nil
}

func newIndex(opts BuildOptions) *Index {
	if opts.TraversalCacheSize <= 0 {
		opts.TraversalCacheSize = DefaultTraversalCacheSize
	}
	opts.Graphs = NormalizeGraphList(opts.Graphs)
	enabled := make(map[string]bool, len(opts.Graphs))
	for _, g := range opts.Graphs {
		enabled[g] = true
	}
	return &Index{
		opts:      opts,
		enabled:   enabled,
		graphs:    make(map[string]*relationGraph),
		chunkInfo: make(map[string]ChunkInfo),
		csrInfo:   CsrInfo{Enabled: opts.IncludeCsr},
		traversal: cache.New[traversalKey, []string](opts.TraversalCacheSize),
		builtAt:   time.Now(),
	}
}

// NormalizeGraphList returns the sorted, unique known graph names in names,
// or all of KnownGraphs when names contains none.
func NormalizeGraphList(names []string) []string {
	out := make([]string, 0, len(KnownGraphs))
	for _, n := range names {
		if IsKnownGraph(n) {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return slices.Clone(KnownGraphs)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (ix *Index) buildRelations(ctx context.Context, rel *artifact.GraphRelations, csr *artifact.GraphRelationsCsr) error {
	ix.hasRelations = rel != nil
	if rel == nil {
		return nil
	}

	var csrErr error
	if ix.opts.IncludeCsr {
		if csr == nil {
			csrErr = fmt.Errorf("%s absent", artifact.NameGraphRelationsCsr)
		} else {
			csrErr = checkCsrCompatible(rel, csr)
		}
		ix.csrInfo.Sources = make(map[string]string)
	}

	for _, name := range artifact.RelationGraphs {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrBuildCancelled, err)
		}
		raw := rel.Graph(name)
		if raw == nil || !ix.enabled[name] {
			continue
		}
		g := buildRelationGraph(name, raw, ix.opts.RepoRoot)
		ix.graphs[name] = g
		if ix.opts.IncludeCsr {
			ix.attachCsr(ctx, g, csr, csrErr)
		}
	}

	// Chunk metadata comes from the call graph first, then usage; the first
	// writer for a chunk wins.
	for _, name := range []string{GraphCall, GraphUsage} {
		raw := rel.Graph(name)
		if raw == nil {
			continue
		}
		for i := range raw.Nodes {
			n := &raw.Nodes[i]
			if n.ID == "" || !n.HasMeta() {
				continue
			}
			if _, ok := ix.chunkInfo[n.ID]; ok {
				continue
			}
			ix.chunkInfo[n.ID] = ChunkInfo{File: n.File, Kind: n.Kind, Name: n.Name, Signature: n.Signature}
		}
	}
	return nil
}

func (ix *Index) attachCsr(ctx context.Context, g *relationGraph, csr *artifact.GraphRelationsCsr, compatErr error) {
	err := compatErr
	if err == nil {
		var rows *csrRows
		rows, err = loadCsr(csr.Graphs[g.name], g.ids)
		if err == nil {
			g.csr = withExtraEdges(rows, g.idToIndex, g.inOnly)
			ix.csrInfo.Sources[g.name] = CsrSourceArtifact
			ix.csrInfo.Bytes += rows.bytes()
			return
		}
		recordCsrRejection(ctx, g.name)
	}
	if ix.csrInfo.RejectReason == "" && err != nil {
		ix.csrInfo.RejectReason = fmt.Sprintf("%s: %v", g.name, err)
	}
	g.csr = deriveCsr(g.ids, g.idToIndex, g.adj)
	ix.csrInfo.Sources[g.name] = CsrSourceDerived
	ix.csrInfo.Bytes += g.csr.bytes()
}

func buildRelationGraph(name string, raw *artifact.Graph, repoRoot string) *relationGraph {
	normalize := func(id string) string { return id }
	if name == GraphImport {
		normalize = func(id string) string { return NormalizeImportPath(id, repoRoot) }
	}

	g := &relationGraph{
		name:   name,
		nodes:  make(map[string]*artifact.GraphNode, len(raw.Nodes)),
		adj:    make(map[string]*adjacency, len(raw.Nodes)),
		inOnly: make(map[string][]string),
	}
	g.counts.Nodes, g.counts.Edges = raw.Counts()

	for i := range raw.Nodes {
		n := &raw.Nodes[i]
		if n.ID == "" {
			continue
		}
		id := normalize(n.ID)
		if id == "" {
			continue
		}
		g.nodes[id] = n
	}

	// One edge set serves every direction: an edge exists when the source
	// lists the target in out or the target lists the source in in.
	out := make(map[string][]string, len(g.nodes))
	for id, n := range g.nodes {
		out[id] = sortedUnique(n.Out, normalize)
	}
	for id, n := range g.nodes {
		for _, from := range sortedUnique(n.In, normalize) {
			if _, found := slices.BinarySearch(out[from], id); !found {
				g.inOnly[from] = append(g.inOnly[from], id)
			}
		}
	}
	for from, targets := range g.inOnly {
		slices.Sort(targets)
		out[from] = mergeSorted(out[from], targets)
	}

	// Neighbors without a node row of their own still get an id.
	in := make(map[string][]string, len(out))
	idSet := make(map[string]struct{}, len(out))
	for id := range g.nodes {
		idSet[id] = struct{}{}
	}
	for from, targets := range out {
		idSet[from] = struct{}{}
		for _, to := range targets {
			idSet[to] = struct{}{}
			in[to] = append(in[to], from)
		}
	}

	g.ids = make([]string, 0, len(idSet))
	for id := range idSet {
		g.ids = append(g.ids, id)
	}
	slices.Sort(g.ids)
	g.idToIndex = make(map[string]uint32, len(g.ids))
	for i, id := range g.ids {
		g.idToIndex[id] = uint32(i)
	}

	for _, id := range g.ids {
		o, i := out[id], in[id]
		if o == nil {
			o = []string{}
		}
		if i == nil {
			i = []string{}
		}
		slices.Sort(i)
		g.adj[id] = &adjacency{out: o, in: i, both: mergeSorted(o, i)}
	}
	return g
}

func sortedUnique(values []string, normalize func(string) string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if n := normalize(v); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func mergeSorted(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
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

// Rebase builds an index over fresh relations and repoRoot while keeping
// the receiver's symbol and call-site indexes.
//
// Description:
//
//	Used when a cached index is stale relative to relations supplied by
//	the caller. CSR, when enabled, is always derived because the CSR
//	artifact belongs to the stale relations.
//
// Outputs:
//   - *Index: A new index. The receiver is unchanged.
//   - error: ErrBuildCancelled if ctx is done.
func (ix *Index) Rebase(ctx context.Context, rel *artifact.GraphRelations, repoRoot string) (*Index, error) {
	opts := ix.opts
	opts.RepoRoot = repoRoot
	next := newIndex(opts)
	if err := next.buildRelations(ctx, rel, nil); err != nil {
		return nil, err
	}
	if next.csrInfo.Enabled {
		next.csrInfo.RejectReason = "rebased onto fresh graph relations"
	}
	next.symbols = ix.symbols
	next.callSites = ix.callSites
	next.buildTime = time.Since(next.builtAt)
	return next, nil
}

// Neighbors returns the sorted, unique neighbor ids of id in graph.
//
// Description:
//
//	Served from the traversal cache when possible. Both representations
//	share one edge set (out lists plus unmirrored in lists), so CSR and
//	adjacency lists return identical neighbors for every direction. With
//	CSR the "in" direction is the reverse of the forward rows.
//
// Outputs:
//   - []string: Neighbor ids. Shared with the cache; callers must not
//     modify it. Nil when the graph or node is absent.
func (ix *Index) Neighbors(graph, id string, dir Direction) []string {
	out, _ := ix.NeighborsCached(graph, id, dir)
	return out
}

// NeighborsCached is Neighbors that also reports whether the traversal
// cache served the lookup.
func (ix *Index) NeighborsCached(graph, id string, dir Direction) ([]string, bool) {
	g := ix.graphs[graph]
	if g == nil {
		return nil, false
	}
	key := traversalKey{graph: graph, dir: dir, id: id}
	if v, ok := ix.traversal.Get(key); ok {
		return v, true
	}
	v := g.neighbors(id, dir)
	ix.traversal.Set(key, v)
	return v, false
}

func (g *relationGraph) neighbors(id string, dir Direction) []string {
	if g.csr == nil {
		a := g.adj[id]
		if a == nil {
			return nil
		}
		switch dir {
		case DirOut:
			return a.out
		case DirIn:
			return a.in
		default:
			return a.both
		}
	}

	idx, ok := g.idToIndex[id]
	if !ok {
		return nil
	}
	var rows []uint32
	switch dir {
	case DirOut:
		rows = g.csr.row(idx)
	case DirIn:
		rows = g.reverseRows().row(idx)
	default:
		rows = mergeRows(g.csr.row(idx), g.reverseRows().row(idx))
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = g.ids[r]
	}
	return out
}

func (g *relationGraph) reverseRows() *csrRows {
	g.reverseOnce.Do(func() {
		g.reverse = reverseCsr(g.csr)
	})
	return g.reverse
}

// RepoRoot returns the repo root the import graph was normalised against.
func (ix *Index) RepoRoot() string { return ix.opts.RepoRoot }

// Signature returns the index signature the index was built for.
func (ix *Index) Signature() string { return ix.opts.IndexSignature }

// Graphs returns the graph names this index was built for.
func (ix *Index) Graphs() []string { return slices.Clone(ix.opts.Graphs) }

// IncludesCsr reports whether CSR adjacency is in use.
func (ix *Index) IncludesCsr() bool { return ix.opts.IncludeCsr }

// HasRelations reports whether graph_relations was supplied.
func (ix *Index) HasRelations() bool { return ix.hasRelations }

// HasGraph reports whether graph holds at least one node.
func (ix *Index) HasGraph(graph string) bool {
	g := ix.graphs[graph]
	return g != nil && len(g.ids) > 0
}

// HasNode reports whether graph contains id, either as a node row or as
// the neighbor of one.
func (ix *Index) HasNode(graph, id string) bool {
	g := ix.graphs[graph]
	if g == nil {
		return false
	}
	_, ok := g.idToIndex[id]
	return ok
}

// Node returns the raw node for id in graph.
func (ix *Index) Node(graph, id string) (*artifact.GraphNode, bool) {
	g := ix.graphs[graph]
	if g == nil {
		return nil, false
	}
	n, ok := g.nodes[id]
	return n, ok
}

// Counts returns the declared counts of graph. ok is false when the graph
// was not indexed.
func (ix *Index) Counts(graph string) (GraphCounts, bool) {
	g := ix.graphs[graph]
	if g == nil {
		return GraphCounts{}, false
	}
	return g.counts, true
}

// ChunkInfo returns merged metadata for a chunk.
func (ix *Index) ChunkInfo(uid string) (ChunkInfo, bool) {
	info, ok := ix.chunkInfo[uid]
	return info, ok
}

// HasSymbolEdges reports whether any symbol edge was indexed.
func (ix *Index) HasSymbolEdges() bool { return ix.symbols.count > 0 }

// HasCallSites reports whether any call-site row was indexed.
func (ix *Index) HasCallSites() bool { return len(ix.callSites) > 0 }

// SymbolsByChunk returns symbol edges originating at a chunk, sorted.
// The slice is shared and must not be modified.
func (ix *Index) SymbolsByChunk(uid string) []*SymbolEntry {
	return ix.symbols.byChunk[uid]
}

// SymbolsBySymbol returns symbol edges resolving to a symbol, sorted.
// The slice is shared and must not be modified.
func (ix *Index) SymbolsBySymbol(id string) []*SymbolEntry {
	return ix.symbols.bySymbol[id]
}

// SymbolEdgeTypes returns the lower-cased edge types seen in symbol edges.
func (ix *Index) SymbolEdgeTypes() []string {
	return slices.Clone(ix.symbols.edgeTypes)
}

// CallSiteIDs returns the sorted call-site ids for caller -> callee.
// The slice is shared and must not be modified.
func (ix *Index) CallSiteIDs(caller, callee string) []string {
	return ix.callSites[callSiteKey(caller, callee)]
}

// CsrInfo describes the CSR adjacency in use.
func (ix *Index) CsrInfo() CsrInfo {
	info := ix.csrInfo
	if info.Sources != nil {
		sources := make(map[string]string, len(info.Sources))
		for k, v := range info.Sources {
			sources[k] = v
		}
		info.Sources = sources
	}
	return info
}

// TraversalCacheStats returns the neighbor cache counters.
func (ix *Index) TraversalCacheStats() cache.Stats {
	return ix.traversal.Stats()
}

// IndexStats summarises an index.
type IndexStats struct {
	Graphs         map[string]GraphCounts `json:"graphs"`
	SymbolEdges    int                    `json:"symbolEdges"`
	CallSitePairs  int                    `json:"callSitePairs"`
	ChunkInfo      int                    `json:"chunkInfo"`
	Csr            CsrInfo                `json:"csr"`
	TraversalCache cache.Stats            `json:"traversalCache"`
	BuiltAt        time.Time              `json:"builtAt"`
	BuildMs        int64                  `json:"buildMs"`
}

// Stats returns a summary of the index.
func (ix *Index) Stats() IndexStats {
	graphs := make(map[string]GraphCounts, len(ix.graphs))
	for name, g := range ix.graphs {
		graphs[name] = g.counts
	}
	return IndexStats{
		Graphs:         graphs,
		SymbolEdges:    ix.symbols.count,
		CallSitePairs:  len(ix.callSites),
		ChunkInfo:      len(ix.chunkInfo),
		Csr:            ix.CsrInfo(),
		TraversalCache: ix.TraversalCacheStats(),
		BuiltAt:        ix.builtAt,
		BuildMs:        ix.buildTime.Milliseconds(),
	}
}

func (ix *Index) totals() (nodes, edges int) {
	for _, g := range ix.graphs {
		nodes += g.counts.Nodes
		edges += g.counts.Edges
	}
	return nodes, edges
}
