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
	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
)

// RefType discriminates NodeRef.
type RefType string

const (
	RefChunk  RefType = "chunk"
	RefFile   RefType = "file"
	RefSymbol RefType = "symbol"
)

// Graph names. The first three match graph_relations; symbol edges are
// addressed as a fourth graph.
const (
	GraphCall        = artifact.GraphCall
	GraphUsage       = artifact.GraphUsage
	GraphImport      = artifact.GraphImport
	GraphSymbolEdges = "symbolEdges"
)

// KnownGraphs lists every traversable graph in canonical order.
var KnownGraphs = []string{GraphCall, GraphUsage, GraphImport, GraphSymbolEdges}

// IsKnownGraph reports whether name is a traversable graph.
func IsKnownGraph(name string) bool {
	for _, g := range KnownGraphs {
		if g == name {
			return true
		}
	}
	return false
}

// Edge types emitted by the relation graphs. Symbol edges carry their own
// type, defaulting to EdgeSymbol.
const (
	EdgeCall   = "call"
	EdgeUsage  = "usage"
	EdgeImport = "import"
	EdgeSymbol = "symbol"
)

// EdgeTypeForGraph returns the edge type of a relation graph.
func EdgeTypeForGraph(graph string) string {
	switch graph {
	case GraphCall:
		return EdgeCall
	case GraphUsage:
		return EdgeUsage
	case GraphImport:
		return EdgeImport
	default:
		return ""
	}
}

// Direction selects which adjacency is followed.
type Direction string

const (
	DirIn   Direction = "in"
	DirOut  Direction = "out"
	DirBoth Direction = "both"
)

// ParseDirection normalises a direction string. Anything unrecognised
// becomes DirBoth.
func ParseDirection(s string) Direction {
	switch Direction(trimLower(s)) {
	case DirIn:
		return DirIn
	case DirOut:
		return DirOut
	default:
		return DirBoth
	}
}

// NodeRef identifies a node in any graph.
//
// Exactly one identity field is meaningful, selected by Type.
type NodeRef struct {
	Type     RefType `json:"type"`
	ChunkUID string  `json:"chunkUid,omitempty"`
	Path     string  `json:"path,omitempty"`
	SymbolID string  `json:"symbolId,omitempty"`
}

// ChunkRef returns a chunk reference.
func ChunkRef(uid string) NodeRef { return NodeRef{Type: RefChunk, ChunkUID: uid} }

// FileRef returns a file reference.
func FileRef(path string) NodeRef { return NodeRef{Type: RefFile, Path: path} }

// SymbolRef returns a symbol reference.
func SymbolRef(id string) NodeRef { return NodeRef{Type: RefSymbol, SymbolID: id} }

// Key returns the identity key, or "" for a malformed ref.
func (r NodeRef) Key() string {
	return NodeKey(r)
}

// IsZero reports whether the ref is the zero value.
func (r NodeRef) IsZero() bool {
	return r == NodeRef{}
}

// Evidence explains why an edge exists.
type Evidence struct {
	// CallSiteIDs lists call sites backing a call edge, capped.
	CallSiteIDs []string `json:"callSiteIds,omitempty"`

	// Note carries the symbol edge reason.
	Note string `json:"note,omitempty"`
}

// Edge is one traversed edge.
//
// For symbol edges To holds the resolved symbol when one could be
// determined and ToSymbol always holds the (trimmed) symbol reference.
type Edge struct {
	Graph      string              `json:"graph"`
	EdgeType   string              `json:"edgeType"`
	From       NodeRef             `json:"from"`
	To         NodeRef             `json:"to,omitzero"`
	ToSymbol   *artifact.SymbolRef `json:"toSymbol,omitempty"`
	Confidence *float64            `json:"confidence"`
	Evidence   *Evidence           `json:"evidence,omitempty"`
}

// Node is one discovered node.
type Node struct {
	Ref        NodeRef  `json:"ref"`
	Distance   int      `json:"distance"`
	Label      string   `json:"label,omitempty"`
	File       string   `json:"file,omitempty"`
	Kind       string   `json:"kind,omitempty"`
	Name       string   `json:"name,omitempty"`
	Signature  string   `json:"signature,omitempty"`
	Confidence *float64 `json:"confidence"`
}

// PathEdge is one hop of a witness path.
type PathEdge struct {
	From     NodeRef `json:"from"`
	To       NodeRef `json:"to"`
	EdgeType string  `json:"edgeType"`
}

// WitnessPath is the chain from a seed to a discovered node.
type WitnessPath struct {
	To       NodeRef    `json:"to"`
	Distance int        `json:"distance"`
	Nodes    []NodeRef  `json:"nodes"`
	Edges    []PathEdge `json:"edges,omitempty"`
}

// ChunkInfo is chunk metadata merged from the call and usage graphs.
type ChunkInfo struct {
	File      string `json:"file,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Name      string `json:"name,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// Caps bounds a traversal. A nil field is unbounded.
type Caps struct {
	MaxDepth         *int `json:"maxDepth,omitempty" yaml:"max_depth,omitempty"`
	MaxFanoutPerNode *int `json:"maxFanoutPerNode,omitempty" yaml:"max_fanout_per_node,omitempty"`
	MaxNodes         *int `json:"maxNodes,omitempty" yaml:"max_nodes,omitempty"`
	MaxEdges         *int `json:"maxEdges,omitempty" yaml:"max_edges,omitempty"`
	MaxPaths         *int `json:"maxPaths,omitempty" yaml:"max_paths,omitempty"`
	MaxCandidates    *int `json:"maxCandidates,omitempty" yaml:"max_candidates,omitempty"`
	MaxWorkUnits     *int `json:"maxWorkUnits,omitempty" yaml:"max_work_units,omitempty"`
	MaxWallClockMs   *int `json:"maxWallClockMs,omitempty" yaml:"max_wall_clock_ms,omitempty"`
}

// Cap names as reported in truncation records.
const (
	CapMaxDepth         = "maxDepth"
	CapMaxFanoutPerNode = "maxFanoutPerNode"
	CapMaxNodes         = "maxNodes"
	CapMaxEdges         = "maxEdges"
	CapMaxPaths         = "maxPaths"
	CapMaxCandidates    = "maxCandidates"
)

// Cap returns a pointer to n for building Caps literals.
func Cap(n int) *int { return &n }

// Normalize returns a copy with negative limits clamped to zero. The
// receiver is not modified and no pointer is shared with it.
func (c Caps) Normalize() Caps {
	return Caps{
		MaxDepth:         clampCap(c.MaxDepth),
		MaxFanoutPerNode: clampCap(c.MaxFanoutPerNode),
		MaxNodes:         clampCap(c.MaxNodes),
		MaxEdges:         clampCap(c.MaxEdges),
		MaxPaths:         clampCap(c.MaxPaths),
		MaxCandidates:    clampCap(c.MaxCandidates),
		MaxWorkUnits:     clampCap(c.MaxWorkUnits),
		MaxWallClockMs:   clampCap(c.MaxWallClockMs),
	}
}

// Merge returns c with every nil field taken from defaults.
func (c Caps) Merge(defaults Caps) Caps {
	pick := func(v, d *int) *int {
		if v != nil {
			return v
		}
		return d
	}
	return Caps{
		MaxDepth:         pick(c.MaxDepth, defaults.MaxDepth),
		MaxFanoutPerNode: pick(c.MaxFanoutPerNode, defaults.MaxFanoutPerNode),
		MaxNodes:         pick(c.MaxNodes, defaults.MaxNodes),
		MaxEdges:         pick(c.MaxEdges, defaults.MaxEdges),
		MaxPaths:         pick(c.MaxPaths, defaults.MaxPaths),
		MaxCandidates:    pick(c.MaxCandidates, defaults.MaxCandidates),
		MaxWorkUnits:     pick(c.MaxWorkUnits, defaults.MaxWorkUnits),
		MaxWallClockMs:   pick(c.MaxWallClockMs, defaults.MaxWallClockMs),
	}
}

func clampCap(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	if n < 0 {
		n = 0
	}
	return &n
}
