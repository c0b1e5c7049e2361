// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artifact defines the raw, decoded index artifacts consumed by the
// graph index and the neighborhood builder, and the sources they are read from.
//
// # Artifacts
//
// An index directory carries up to four graph artifacts:
//
//	graph_relations      call, usage and import graphs (node lists)
//	graph_relations_csr  precomputed CSR adjacency for the three graphs
//	symbol_edges         chunk -> symbol reference edges
//	call_sites           call-site evidence rows
//
// Every artifact is optional. Consumers degrade with warnings when one is
// absent; only I/O and decode failures surface as errors.
//
// # Ownership
//
// Decoded values are treated as immutable once handed to the graph package.
// Nothing downstream mutates a Bundle.
package artifact

// Artifact names as they appear in an index directory or snapshot.
const (
	NameGraphRelations    = "graph_relations"
	NameGraphRelationsCsr = "graph_relations_csr"
	NameSymbolEdges       = "symbol_edges"
	NameCallSites         = "call_sites"
)

// Names lists every artifact a graph index can be built from.
var Names = []string{NameGraphRelations, NameGraphRelationsCsr, NameSymbolEdges, NameCallSites}

// Graph names used inside graph_relations and graph_relations_csr.
const (
	GraphCall   = "callGraph"
	GraphUsage  = "usageGraph"
	GraphImport = "importGraph"
)

// RelationGraphs lists the node-list graphs in their canonical order.
var RelationGraphs = []string{GraphCall, GraphUsage, GraphImport}

// GraphNode is one node of a call, usage or import graph.
type GraphNode struct {
	// ID is the chunk uid (call/usage) or file path (import).
	ID string `json:"id"`

	// File is the file containing the chunk, if known.
	File string `json:"file,omitempty"`

	// Kind is the chunk kind (function, class, ...), if known.
	Kind string `json:"kind,omitempty"`

	// Name is the chunk display name, if known.
	Name string `json:"name,omitempty"`

	// Signature is the chunk signature, if known.
	Signature string `json:"signature,omitempty"`

	// Out lists ids this node points to.
	Out []string `json:"out,omitempty"`

	// In lists ids pointing at this node.
	In []string `json:"in,omitempty"`
}

// HasMeta reports whether the node carries any chunk metadata.
func (n *GraphNode) HasMeta() bool {
	return n.File != "" || n.Kind != "" || n.Name != "" || n.Signature != ""
}

// Graph is one node-list graph.
type Graph struct {
	NodeCount int         `json:"nodeCount"`
	EdgeCount int         `json:"edgeCount"`
	Nodes     []GraphNode `json:"nodes"`
}

// Counts returns the declared node and edge counts, deriving them from the
// node list when the artifact left them at zero.
func (g *Graph) Counts() (nodes, edges int) {
	if g == nil {
		return 0, 0
	}
	nodes, edges = g.NodeCount, g.EdgeCount
	if nodes == 0 {
		nodes = len(g.Nodes)
	}
	if edges == 0 {
		for i := range g.Nodes {
			edges += len(g.Nodes[i].Out)
		}
	}
	return nodes, edges
}

// GraphRelations is the decoded graph_relations artifact.
type GraphRelations struct {
	Version     int    `json:"version"`
	GeneratedAt string `json:"generatedAt,omitempty"`
	CallGraph   *Graph `json:"callGraph,omitempty"`
	UsageGraph  *Graph `json:"usageGraph,omitempty"`
	ImportGraph *Graph `json:"importGraph,omitempty"`
}

// Graph returns the named graph, or nil.
func (r *GraphRelations) Graph(name string) *Graph {
	if r == nil {
		return nil
	}
	switch name {
	case GraphCall:
		return r.CallGraph
	case GraphUsage:
		return r.UsageGraph
	case GraphImport:
		return r.ImportGraph
	default:
		return nil
	}
}

// CsrGraph is one graph of the graph_relations_csr artifact.
//
// Nodes must be sorted ascending; row i of the adjacency spans
// Edges[Offsets[i]:Offsets[i+1]] and holds indexes into Nodes.
type CsrGraph struct {
	Nodes   []string `json:"nodes"`
	Offsets []uint32 `json:"offsets"`
	Edges   []uint32 `json:"edges"`
}

// GraphRelationsCsr is the decoded graph_relations_csr artifact.
type GraphRelationsCsr struct {
	Version     int                  `json:"version"`
	GeneratedAt string               `json:"generatedAt,omitempty"`
	Graphs      map[string]*CsrGraph `json:"graphs"`
}

// Candidate is one possible resolution of a symbol reference.
type Candidate struct {
	SymbolID   string   `json:"symbolId,omitempty"`
	ChunkUID   string   `json:"chunkUid,omitempty"`
	Path       string   `json:"path,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Name       string   `json:"name,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// IdentityKey joins the identity fields of the candidate.
func (c *Candidate) IdentityKey() string {
	return c.SymbolID + ":" + c.ChunkUID + ":" + c.Path
}

// IsZero reports whether the candidate carries no identity at all.
func (c *Candidate) IsZero() bool {
	return c.SymbolID == "" && c.ChunkUID == "" && c.Path == ""
}

// SymbolRef is the target side of a symbol edge.
type SymbolRef struct {
	V          int         `json:"v"`
	Status     string      `json:"status"`
	TargetName string      `json:"targetName,omitempty"`
	KindHint   string      `json:"kindHint,omitempty"`
	ImportHint string      `json:"importHint,omitempty"`
	Candidates []Candidate `json:"candidates"`
	Resolved   *Candidate  `json:"resolved,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Confidence *float64    `json:"confidence,omitempty"`
}

// ChunkEndpoint is the source side of a symbol edge.
type ChunkEndpoint struct {
	ChunkUID string `json:"chunkUid"`
}

// SymbolEdge links a chunk to a (possibly unresolved) symbol reference.
type SymbolEdge struct {
	From       ChunkEndpoint `json:"from"`
	To         *SymbolRef    `json:"to"`
	Type       string        `json:"type,omitempty"`
	Confidence *float64      `json:"confidence,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// EdgeType returns the edge type, defaulting to "symbol".
func (e *SymbolEdge) EdgeType() string {
	if e.Type == "" {
		return "symbol"
	}
	return e.Type
}

// CallSite is one call-site evidence row.
type CallSite struct {
	CallerChunkUID string `json:"callerChunkUid"`
	TargetChunkUID string `json:"targetChunkUid"`
	CallSiteID     string `json:"callSiteId"`
}

// Bundle groups the artifacts needed to build a graph index.
// Any field may be nil.
type Bundle struct {
	GraphRelations    *GraphRelations
	GraphRelationsCsr *GraphRelationsCsr
	SymbolEdges       []SymbolEdge
	CallSites         []CallSite
}
