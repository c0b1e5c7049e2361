// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artifact

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ctxCheckInterval is how many rows are decoded between context checks.
const ctxCheckInterval = 1024

// graphRelationsRow is one JSONL row of a sharded graph_relations artifact.
// A row carries either a node for a named graph or header metadata.
type graphRelationsRow struct {
	Graph       string     `json:"graph,omitempty"`
	Node        *GraphNode `json:"node,omitempty"`
	Version     *int       `json:"version,omitempty"`
	GeneratedAt string     `json:"generatedAt,omitempty"`
}

// LoadGraphRelations decodes the graph_relations artifact.
//
// Description:
//
//	Accepts either a single JSON document or JSONL rows of the form
//	{"graph": "callGraph", "node": {...}} with optional header rows
//	{"version": 2, "generatedAt": "..."}. Node and edge counts missing from
//	the payload are derived from the node lists.
//
// Inputs:
//   - ctx: Context for cancellation between rows.
//   - src: Artifact source.
//
// Outputs:
//   - *GraphRelations: The decoded payload.
//   - error: ErrArtifactMissing, ErrMalformedArtifact, or an I/O/JSON error.
func LoadGraphRelations(ctx context.Context, src Source) (*GraphRelations, error) {
	rc, p, err := src.Open(ctx, NameGraphRelations)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if p.Format == FormatJSON {
		var rel GraphRelations
		if err := json.NewDecoder(rc).Decode(&rel); err != nil {
			return nil, fmt.Errorf("decode %s: %w", NameGraphRelations, err)
		}
		finalizeRelations(&rel)
		return &rel, nil
	}

	rel := &GraphRelations{Version: 1}
	n := 0
	err = decodeLines(ctx, rc, func(line []byte) error {
		n++
		var row graphRelationsRow
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("decode %s row %d: %w", NameGraphRelations, n, err)
		}
		if row.Version != nil {
			rel.Version = *row.Version
		}
		if row.GeneratedAt != "" {
			rel.GeneratedAt = row.GeneratedAt
		}
		if row.Node == nil {
			return nil
		}
		g := relationsGraphFor(rel, row.Graph)
		if g == nil {
			return fmt.Errorf("%s row %d: unknown graph %q: %w", NameGraphRelations, n, row.Graph, ErrMalformedArtifact)
		}
		g.Nodes = append(g.Nodes, *row.Node)
		return nil
	})
	if err != nil {
		return nil, err
	}
	finalizeRelations(rel)
	return rel, nil
}

// relationsGraphFor returns the graph for a JSONL row, allocating on first use.
func relationsGraphFor(rel *GraphRelations, name string) *Graph {
	switch name {
	case GraphCall:
		if rel.CallGraph == nil {
			rel.CallGraph = &Graph{}
		}
		return rel.CallGraph
	case GraphUsage:
		if rel.UsageGraph == nil {
			rel.UsageGraph = &Graph{}
		}
		return rel.UsageGraph
	case GraphImport:
		if rel.ImportGraph == nil {
			rel.ImportGraph = &Graph{}
		}
		return rel.ImportGraph
	default:
		return nil
	}
}

func finalizeRelations(rel *GraphRelations) {
	if rel.Version == 0 {
		rel.Version = 1
	}
	for _, g := range []*Graph{rel.CallGraph, rel.UsageGraph, rel.ImportGraph} {
		if g == nil {
			continue
		}
		g.NodeCount, g.EdgeCount = g.Counts()
	}
}

// LoadGraphRelationsCsr decodes the graph_relations_csr artifact.
//
// Outputs:
//   - *GraphRelationsCsr: The decoded payload.
//   - error: ErrUnsupportedFormat for JSONL payloads, or an I/O/JSON error.
func LoadGraphRelationsCsr(ctx context.Context, src Source) (*GraphRelationsCsr, error) {
	rc, p, err := src.Open(ctx, NameGraphRelationsCsr)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if p.Format != FormatJSON {
		return nil, fmt.Errorf("%s as %s: %w", NameGraphRelationsCsr, p.Format, ErrUnsupportedFormat)
	}
	var csr GraphRelationsCsr
	if err := json.NewDecoder(rc).Decode(&csr); err != nil {
		return nil, fmt.Errorf("decode %s: %w", NameGraphRelationsCsr, err)
	}
	if csr.Version == 0 {
		csr.Version = 1
	}
	return &csr, nil
}

// LoadSymbolEdges decodes the symbol_edges artifact (JSON array or JSONL).
func LoadSymbolEdges(ctx context.Context, src Source) ([]SymbolEdge, error) {
	return loadRows[SymbolEdge](ctx, src, NameSymbolEdges)
}

// LoadCallSites decodes the call_sites artifact (JSON array or JSONL).
func LoadCallSites(ctx context.Context, src Source) ([]CallSite, error) {
	return loadRows[CallSite](ctx, src, NameCallSites)
}

// loadRows decodes an array-shaped artifact row by row.
func loadRows[T any](ctx context.Context, src Source, name string) ([]T, error) {
	rc, p, err := src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	rows := make([]T, 0)
	if p.Format == FormatJSONL {
		n := 0
		err := decodeLines(ctx, rc, func(line []byte) error {
			n++
			var row T
			if err := json.Unmarshal(line, &row); err != nil {
				return fmt.Errorf("decode %s row %d: %w", name, n, err)
			}
			rows = append(rows, row)
			return nil
		})
		if err != nil {
			return nil, err
		}
		return rows, nil
	}

	dec := json.NewDecoder(rc)
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("%s: expected JSON array: %w", name, ErrMalformedArtifact)
	}
	for dec.More() {
		if len(rows)%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var row T
		if err := dec.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode %s row %d: %w", name, len(rows)+1, err)
		}
		rows = append(rows, row)
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return rows, nil
}

// decodeLines calls fn for every non-blank line of r.
func decodeLines(ctx context.Context, r io.Reader, fn func(line []byte) error) error {
	br := bufio.NewReaderSize(r, 64<<10)
	count := 0
	for {
		line, err := br.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			count++
			if count%ctxCheckInterval == 0 {
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
			}
			if ferr := fn(line); ferr != nil {
				return ferr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
