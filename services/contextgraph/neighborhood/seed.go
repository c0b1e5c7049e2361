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
	"encoding/json"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
)

// Seed is either a typed node reference or a resolver payload.
//
// A resolver payload carries a status, an optional resolved candidate and
// a candidate list. Resolution prefers the resolved candidate (chunk, then
// symbol, then file) and falls back to the first usable candidate.
type Seed struct {
	Ref        *graph.NodeRef       `json:"-"`
	Status     string               `json:"status,omitempty"`
	Resolved   *artifact.Candidate  `json:"resolved,omitempty"`
	Candidates []artifact.Candidate `json:"candidates,omitempty"`
}

// RefSeed wraps a typed reference.
func RefSeed(ref graph.NodeRef) Seed {
	return Seed{Ref: &ref}
}

// ChunkSeed seeds a chunk.
func ChunkSeed(uid string) Seed { return RefSeed(graph.ChunkRef(uid)) }

// FileSeed seeds a file.
func FileSeed(path string) Seed { return RefSeed(graph.FileRef(path)) }

// SymbolSeed seeds a symbol.
func SymbolSeed(id string) Seed { return RefSeed(graph.SymbolRef(id)) }

type seedJSON struct {
	Type       graph.RefType        `json:"type,omitempty"`
	ChunkUID   string               `json:"chunkUid,omitempty"`
	Path       string               `json:"path,omitempty"`
	SymbolID   string               `json:"symbolId,omitempty"`
	Status     string               `json:"status,omitempty"`
	Resolved   *artifact.Candidate  `json:"resolved,omitempty"`
	Candidates []artifact.Candidate `json:"candidates,omitempty"`
}

// UnmarshalJSON accepts {"type": ..., "chunkUid": ...} or a resolver
// payload.
func (s *Seed) UnmarshalJSON(data []byte) error {
	var raw seedJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Seed{Status: raw.Status, Resolved: raw.Resolved, Candidates: raw.Candidates}
	if raw.Type != "" {
		s.Ref = &graph.NodeRef{Type: raw.Type, ChunkUID: raw.ChunkUID, Path: raw.Path, SymbolID: raw.SymbolID}
	}
	return nil
}

// MarshalJSON writes the form UnmarshalJSON reads.
func (s Seed) MarshalJSON() ([]byte, error) {
	raw := seedJSON{Status: s.Status, Resolved: s.Resolved, Candidates: s.Candidates}
	if s.Ref != nil {
		raw.Type, raw.ChunkUID, raw.Path, raw.SymbolID = s.Ref.Type, s.Ref.ChunkUID, s.Ref.Path, s.Ref.SymbolID
	}
	return json.Marshal(raw)
}

// Resolve maps the seed onto a node reference. ok is false when nothing
// usable is present, including a typed ref with an empty identity.
func (s *Seed) Resolve() (graph.NodeRef, bool) {
	if s == nil {
		return graph.NodeRef{}, false
	}
	if s.Ref != nil {
		return *s.Ref, s.Ref.Key() != ""
	}
	if s.Status != "" && s.Resolved != nil {
		if ref, ok := candidateRef(s.Resolved); ok {
			return ref, true
		}
	}
	for i := range s.Candidates {
		if ref, ok := candidateRef(&s.Candidates[i]); ok {
			return ref, true
		}
	}
	return graph.NodeRef{}, false
}

func candidateRef(c *artifact.Candidate) (graph.NodeRef, bool) {
	switch {
	case c.ChunkUID != "":
		return graph.ChunkRef(c.ChunkUID), true
	case c.SymbolID != "":
		return graph.SymbolRef(c.SymbolID), true
	case c.Path != "":
		return graph.FileRef(c.Path), true
	}
	return graph.NodeRef{}, false
}
