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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for index operations.
var (
	tracer = otel.Tracer("contextgraph.graph")
	meter  = otel.Meter("contextgraph.graph")
)

// Metrics for index builds.
var (
	buildLatency  metric.Float64Histogram
	buildTotal    metric.Int64Counter
	nodesIndexed  metric.Int64Histogram
	csrRejections metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"contextgraph_index_build_duration_seconds",
			metric.WithDescription("Duration of graph index builds"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		buildTotal, err = meter.Int64Counter(
			"contextgraph_index_build_total",
			metric.WithDescription("Total number of graph index builds"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesIndexed, err = meter.Int64Histogram(
			"contextgraph_index_nodes",
			metric.WithDescription("Number of nodes indexed per build"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		csrRejections, err = meter.Int64Counter(
			"contextgraph_index_csr_rejections_total",
			metric.WithDescription("CSR artifacts rejected in favour of derived adjacency"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordBuildMetrics records metrics for an index build.
func recordBuildMetrics(ctx context.Context, duration time.Duration, nodeCount int, csr bool, success bool) {
	if err := initMetrics(); err != nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.Bool("success", success),
		attribute.Bool("csr", csr),
	)
	buildLatency.Record(ctx, duration.Seconds(), attrs)
	buildTotal.Add(ctx, 1, attrs)
	if success {
		nodesIndexed.Record(ctx, int64(nodeCount))
	}
}

// recordCsrRejection counts a CSR artifact graph that failed validation.
func recordCsrRejection(ctx context.Context, graph string) {
	if err := initMetrics(); err != nil {
		return
	}
	csrRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("graph", graph)))
}

// startBuildSpan creates a span for an index build.
func startBuildSpan(ctx context.Context, signature string, includeCsr bool) (context.Context, trace.Span) {
	return tracer.Start(ctx, "GraphIndex.Build",
		trace.WithAttributes(
			attribute.String("graph.index_signature", signature),
			attribute.Bool("graph.include_csr", includeCsr),
		),
	)
}

// setBuildSpanResult sets the result attributes on a build span.
func setBuildSpanResult(span trace.Span, nodeCount, edgeCount int, csrSource string) {
	span.SetAttributes(
		attribute.Int("graph.node_count", nodeCount),
		attribute.Int("graph.edge_count", edgeCount),
		attribute.String("graph.csr_source", csrSource),
	)
}
