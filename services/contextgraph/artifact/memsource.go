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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// MemSource is an in-memory Source.
//
// Used for tests, for callers that already hold decoded payloads, and as the
// staging area when importing artifacts into a snapshot.
//
// Thread Safety: Safe for concurrent use.
type MemSource struct {
	mu    sync.RWMutex
	items map[string]memItem
	opens atomic.Int64
}

type memItem struct {
	format Format
	data   []byte
}

// NewMemSource creates an empty in-memory source.
func NewMemSource() *MemSource {
	return &MemSource{items: make(map[string]memItem)}
}

// Put stores raw bytes for an artifact.
func (s *MemSource) Put(name string, format Format, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[name] = memItem{format: format, data: data}
}

// PutJSON marshals v and stores it as a JSON artifact.
func (s *MemSource) PutJSON(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	s.Put(name, FormatJSON, data)
	return nil
}

// Delete removes an artifact.
func (s *MemSource) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, name)
}

// Opens returns how many times Open succeeded. Tests use it to observe
// artifact cache behaviour.
func (s *MemSource) Opens() int64 {
	return s.opens.Load()
}

// Presence implements Source.
func (s *MemSource) Presence(name string) Presence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[name]
	if !ok {
		return Presence{Name: name, Format: FormatMissing}
	}
	return Presence{
		Name:     name,
		Format:   item.format,
		Location: "mem:" + name,
		Size:     int64(len(item.data)),
	}
}

// Open implements Source.
func (s *MemSource) Open(ctx context.Context, name string) (io.ReadCloser, Presence, error) {
	if err := ctx.Err(); err != nil {
		return nil, Presence{}, err
	}
	p := s.Presence(name)
	if !p.Exists() {
		return nil, p, fmt.Errorf("%s: %w", name, ErrArtifactMissing)
	}
	s.mu.RLock()
	data := s.items[name].data
	s.mu.RUnlock()
	s.opens.Add(1)
	return io.NopCloser(bytes.NewReader(data)), p, nil
}
