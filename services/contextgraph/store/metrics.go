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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("contextgraph.store")

// Cache label values.
const (
	cacheIndex    = "index"
	cacheArtifact = "artifact"
)

var (
	cacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contextgraph_store_cache_events_total",
		Help: "Store cache lookups and evictions by cache and event",
	}, []string{"cache", "event"})

	cacheSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "contextgraph_store_cache_entries",
		Help: "Current number of entries per store cache",
	}, []string{"cache"})

	artifactLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "contextgraph_store_artifact_load_duration_seconds",
		Help:    "Time spent decoding one artifact",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
	}, []string{"artifact"})

	indexBuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "contextgraph_store_index_builds_total",
		Help: "Graph index builds by outcome",
	}, []string{"outcome"})
)

func recordLookup(cache string, hit bool) {
	event := "miss"
	if hit {
		event = "hit"
	}
	cacheEvents.WithLabelValues(cache, event).Inc()
}

func recordEviction(cache string) {
	cacheEvents.WithLabelValues(cache, "eviction").Inc()
}

func startLoadSpan(ctx context.Context, opts LoadOptions) (context.Context, trace.Span) {
	return tracer.Start(ctx, "GraphStore.LoadGraphIndex",
		trace.WithAttributes(
			attribute.String("store.index_signature", opts.IndexSignature),
			attribute.StringSlice("store.graphs", opts.Graphs),
			attribute.Bool("store.include_csr", opts.IncludeCsr),
		),
	)
}
