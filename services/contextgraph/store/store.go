// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/contextgraph/services/contextgraph/artifact"
	"github.com/AleutianAI/contextgraph/services/contextgraph/cache"
	"github.com/AleutianAI/contextgraph/services/contextgraph/graph"
)

// Default cache bounds.
const (
	DefaultIndexCacheSize    = 3
	DefaultArtifactCacheSize = 4
)

// Options configures a Store.
type Options struct {
	// IndexDir is the artifact directory. Required unless Source is set.
	IndexDir string

	// Source overrides the directory source (snapshots, tests).
	Source artifact.Source

	// MaxArtifactBytes caps a decompressed artifact. <= 0 uses
	// artifact.DefaultMaxBytes.
	MaxArtifactBytes int64

	// IndexCacheSize bounds cached indexes. <= 0 uses DefaultIndexCacheSize.
	IndexCacheSize int

	// ArtifactCacheSize bounds cached artifacts. <= 0 uses
	// DefaultArtifactCacheSize.
	ArtifactCacheSize int

	// Logger receives diagnostics. Nil uses slog.Default().
	Logger *slog.Logger
}

// LoadOptions selects the index to load.
type LoadOptions struct {
	RepoRoot       string   `json:"repoRoot,omitempty"`
	IndexSignature string   `json:"indexSignature,omitempty"`
	Graphs         []string `json:"graphs,omitempty"`
	IncludeCsr     bool     `json:"includeCsr,omitempty"`
}

// BuildInfo describes the most recent index build.
type BuildInfo struct {
	ID              string                       `json:"id"`
	At              time.Time                    `json:"at"`
	CacheKey        string                       `json:"cacheKey,omitempty"`
	IncludeCsr      bool                         `json:"includeCsr"`
	CsrSource       string                       `json:"csrSource,omitempty"`
	CsrRejectReason string                       `json:"csrRejectReason,omitempty"`
	CsrBytes        int                          `json:"csrBytes"`
	ArtifactLoadMs  int64                        `json:"artifactLoadMs"`
	BuildMs         int64                        `json:"buildMs"`
	Graphs          map[string]graph.GraphCounts `json:"graphs"`
}

// Stats is a snapshot of store telemetry.
type Stats struct {
	IndexCache    cache.Stats `json:"indexCache"`
	ArtifactCache cache.Stats `json:"artifactCache"`
	Builds        int64       `json:"builds"`
	LastBuild     *BuildInfo  `json:"lastBuild"`
}

// Store loads artifacts and caches built graph indexes.
//
// Thread Safety: Safe for concurrent use. Concurrent loads of the same
// index share one build; concurrent loads of the same artifact share one
// decode.
type Store struct {
	src    artifact.Source
	dir    string
	logger *slog.Logger

	indexes   *cache.LRU[string, *graph.Index]
	artifacts *cache.LRU[string, any]

	indexFlight    singleflight.Group
	artifactFlight singleflight.Group

	mu        sync.Mutex
	presence  map[string]artifact.Presence
	used      map[string]bool
	builds    int64
	lastBuild *BuildInfo
}

// New creates a Store.
//
// Inputs:
//   - opts: Store options. IndexDir or Source is required.
//
// Outputs:
//   - *Store: The store.
//   - error: ErrIndexDirRequired when no artifact location is configured.
func New(opts Options) (*Store, error) {
	src := opts.Source
	dir := opts.IndexDir
	if src == nil {
		if dir == "" {
			return nil, ErrIndexDirRequired
		}
		ds, err := artifact.NewDirSource(dir, opts.MaxArtifactBytes)
		if err != nil {
			return nil, fmt.Errorf("open index dir: %w", err)
		}
		src = ds
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	indexSize := opts.IndexCacheSize
	if indexSize <= 0 {
		indexSize = DefaultIndexCacheSize
	}
	artifactSize := opts.ArtifactCacheSize
	if artifactSize <= 0 {
		artifactSize = DefaultArtifactCacheSize
	}

	return &Store{
		src:    src,
		dir:    dir,
		logger: logger.With("component", "graph_store"),
		indexes: cache.New[string, *graph.Index](indexSize, cache.WithEvictFunc[string, *graph.Index](func(string, *graph.Index) {
			recordEviction(cacheIndex)
		})),
		artifacts: cache.New[string, any](artifactSize, cache.WithEvictFunc[string, any](func(string, any) {
			recordEviction(cacheArtifact)
		})),
		presence: make(map[string]artifact.Presence),
		used:     make(map[string]bool),
	}, nil
}

// CacheKey returns the index cache key for opts, or "" when opts carries
// no index signature. An empty key disables index caching.
func CacheKey(opts LoadOptions) string {
	if opts.IndexSignature == "" {
		return ""
	}
	graphs := slices.Clone(opts.Graphs)
	slices.Sort(graphs)
	graphs = slices.Compact(graphs)
	payload, _ := json.Marshal(struct {
		Namespace      string   `json:"namespace"`
		IndexSignature string   `json:"indexSignature"`
		RepoRoot       string   `json:"repoRoot"`
		Graphs         []string `json:"graphs"`
		IncludeCsr     bool     `json:"includeCsr"`
	}{"graph-index", opts.IndexSignature, opts.RepoRoot, graphs, opts.IncludeCsr})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// LoadGraphIndex returns a cached index for opts or builds one.
//
// Description:
//
//	Looks up the index cache by CacheKey(opts). On a miss the artifacts
//	needed by the requested graphs are loaded in parallel (each through
//	the artifact cache) and an index is built. A missing or unreadable
//	CSR artifact degrades to derived CSR; any other load failure is
//	returned.
//
// Inputs:
//   - ctx: Cancels the caller's wait. A cached build is shared by all
//     waiters and runs to completion; an uncached build (empty signature)
//     is cancelled with ctx.
//   - opts: Which index to load.
//
// Outputs:
//   - *graph.Index: The index. Shared; callers must not mutate it.
//   - error: Artifact load or build failure.
//
// Thread Safety: Safe for concurrent use.
func (s *Store) LoadGraphIndex(ctx context.Context, opts LoadOptions) (*graph.Index, error) {
	ctx, span := startLoadSpan(ctx, opts)
	defer span.End()

	key := CacheKey(opts)
	if key == "" {
		ix, err := s.build(ctx, opts, key)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return ix, err
	}

	if ix, ok := s.indexes.Get(key); ok {
		recordLookup(cacheIndex, true)
		span.SetAttributes(attribute.Bool("store.cache_hit", true))
		return ix, nil
	}
	recordLookup(cacheIndex, false)
	span.SetAttributes(attribute.Bool("store.cache_hit", false))

	// The build is shared by every waiter, so it must not inherit one
	// caller's cancellation. A cancelled caller stops waiting instead.
	buildCtx := context.WithoutCancel(ctx)
	ch := s.indexFlight.DoChan(key, func() (any, error) {
		if ix, ok := s.indexes.Peek(key); ok {
			return ix, nil
		}
		ix, err := s.build(buildCtx, opts, key)
		if err != nil {
			return nil, err
		}
		s.indexes.Set(key, ix)
		cacheSize.WithLabelValues(cacheIndex).Set(float64(s.indexes.Len()))
		return ix, nil
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		r.Err = ctx.Err()
	}
	v, err := r.Val, r.Err
	span.SetAttributes(attribute.Bool("store.shared_build", r.Shared))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return v.(*graph.Index), nil
}

func (s *Store) build(ctx context.Context, opts LoadOptions, key string) (*graph.Index, error) {
	graphs := graph.NormalizeGraphList(opts.Graphs)
	wants := make(map[string]bool, len(graphs))
	for _, g := range graphs {
		wants[g] = true
	}
	wantRelations := wants[graph.GraphCall] || wants[graph.GraphUsage] || wants[graph.GraphImport]

	var b artifact.Bundle
	loadStart := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	if wantRelations && s.HasArtifact(artifact.NameGraphRelations) {
		g.Go(func() error {
			rel, err := loadArtifact(gctx, s, artifact.NameGraphRelations, artifact.LoadGraphRelations)
			b.GraphRelations = rel
			return err
		})
	}
	if opts.IncludeCsr && wantRelations && s.HasArtifact(artifact.NameGraphRelationsCsr) {
		g.Go(func() error {
			csr, err := loadArtifact(gctx, s, artifact.NameGraphRelationsCsr, artifact.LoadGraphRelationsCsr)
			if err != nil {
				s.logger.Warn("csr artifact unusable, deriving adjacency", "error", err)
				return nil
			}
			b.GraphRelationsCsr = csr
			return nil
		})
	}
	if wants[graph.GraphSymbolEdges] && s.HasArtifact(artifact.NameSymbolEdges) {
		g.Go(func() error {
			rows, err := loadArtifact(gctx, s, artifact.NameSymbolEdges, artifact.LoadSymbolEdges)
			b.SymbolEdges = rows
			return err
		})
	}
	if wants[graph.GraphCall] && s.HasArtifact(artifact.NameCallSites) {
		g.Go(func() error {
			rows, err := loadArtifact(gctx, s, artifact.NameCallSites, artifact.LoadCallSites)
			b.CallSites = rows
			return err
		})
	}
	if err := g.Wait(); err != nil {
		indexBuildsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("load graph artifacts: %w", err)
	}
	loadMs := time.Since(loadStart).Milliseconds()

	buildStart := time.Now()
	ix, err := graph.BuildIndex(ctx, b, graph.BuildOptions{
		RepoRoot:       opts.RepoRoot,
		IndexSignature: opts.IndexSignature,
		IncludeCsr:     opts.IncludeCsr,
		Graphs:         graphs,
	})
	if err != nil {
		indexBuildsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("build graph index: %w", err)
	}
	indexBuildsTotal.WithLabelValues("success").Inc()

	csrInfo := ix.CsrInfo()
	info := &BuildInfo{
		ID:              uuid.NewString(),
		At:              time.Now().UTC(),
		CacheKey:        key,
		IncludeCsr:      opts.IncludeCsr,
		CsrSource:       csrInfo.Source(),
		CsrRejectReason: csrInfo.RejectReason,
		CsrBytes:        csrInfo.Bytes,
		ArtifactLoadMs:  loadMs,
		BuildMs:         time.Since(buildStart).Milliseconds(),
		Graphs:          make(map[string]graph.GraphCounts),
	}
	for _, name := range graphs {
		if counts, ok := ix.Counts(name); ok {
			info.Graphs[name] = counts
		}
	}

	s.mu.Lock()
	s.builds++
	s.lastBuild = info
	s.mu.Unlock()

	s.logger.Info("graph index built",
		"build_id", info.ID,
		"graphs", graphs,
		"csr_source", info.CsrSource,
		"artifact_load_ms", info.ArtifactLoadMs,
		"build_ms", info.BuildMs,
	)
	return ix, nil
}

// loadArtifact returns the decoded artifact from the artifact cache,
// decoding it once on a miss.
func loadArtifact[T any](ctx context.Context, s *Store, name string, load func(context.Context, artifact.Source) (T, error)) (T, error) {
	if v, ok := s.artifacts.Get(name); ok {
		recordLookup(cacheArtifact, true)
		return v.(T), nil
	}
	recordLookup(cacheArtifact, false)

	v, err, _ := s.artifactFlight.Do(name, func() (any, error) {
		if v, ok := s.artifacts.Peek(name); ok {
			return v, nil
		}
		start := time.Now()
		out, err := load(context.WithoutCancel(ctx), s.src)
		artifactLoadDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		s.artifacts.Set(name, out)
		cacheSize.WithLabelValues(cacheArtifact).Set(float64(s.artifacts.Len()))

		s.mu.Lock()
		s.used[name] = true
		s.mu.Unlock()
		return out, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// HasArtifact reports whether the named artifact is present. Presence is
// cached until the artifact is invalidated.
func (s *Store) HasArtifact(name string) bool {
	s.mu.Lock()
	p, ok := s.presence[name]
	s.mu.Unlock()
	if !ok {
		p = s.src.Presence(name)
		s.mu.Lock()
		s.presence[name] = p
		s.mu.Unlock()
	}
	return p.Exists()
}

// ArtifactsUsed returns the sorted names of artifacts decoded so far.
func (s *Store) ArtifactsUsed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.used))
	for name := range s.used {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Stats returns cache and build telemetry.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		IndexCache:    s.indexes.Stats(),
		ArtifactCache: s.artifacts.Stats(),
		Builds:        s.builds,
	}
	if s.lastBuild != nil {
		lb := *s.lastBuild
		st.LastBuild = &lb
	}
	return st
}

// Invalidate drops the named artifacts and every cached index. Telemetry
// counters are kept.
func (s *Store) Invalidate(names ...string) {
	for _, key := range s.indexes.Keys() {
		s.indexes.Delete(key)
	}
	s.mu.Lock()
	for _, name := range names {
		delete(s.presence, name)
		s.artifacts.Delete(name)
	}
	s.mu.Unlock()
	cacheSize.WithLabelValues(cacheIndex).Set(float64(s.indexes.Len()))
	cacheSize.WithLabelValues(cacheArtifact).Set(float64(s.artifacts.Len()))
}

// Purge empties both caches and resets their telemetry.
func (s *Store) Purge() {
	s.indexes.Purge()
	s.artifacts.Purge()
	s.mu.Lock()
	clear(s.presence)
	s.mu.Unlock()
	cacheSize.WithLabelValues(cacheIndex).Set(0)
	cacheSize.WithLabelValues(cacheArtifact).Set(0)
}

// Source returns the artifact source.
func (s *Store) Source() artifact.Source {
	return s.src
}

// GraphRelations returns the decoded graph_relations artifact through the
// artifact cache. It returns nil and no error when the artifact is absent.
func (s *Store) GraphRelations(ctx context.Context) (*artifact.GraphRelations, error) {
	if !s.HasArtifact(artifact.NameGraphRelations) {
		return nil, nil
	}
	return loadArtifact(ctx, s, artifact.NameGraphRelations, artifact.LoadGraphRelations)
}
