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
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("contextgraph.neighborhood")
	meter  = otel.Meter("contextgraph.neighborhood")
)

var (
	buildLatency     metric.Float64Histogram
	nodesReturned    metric.Int64Histogram
	truncationsTotal metric.Int64Counter
	warningsTotal    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		buildLatency, err = meter.Float64Histogram(
			"contextgraph_neighborhood_duration_seconds",
			metric.WithDescription("Duration of neighborhood expansions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		nodesReturned, err = meter.Int64Histogram(
			"contextgraph_neighborhood_nodes",
			metric.WithDescription("Nodes returned per expansion"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		truncationsTotal, err = meter.Int64Counter(
			"contextgraph_neighborhood_truncations_total",
			metric.WithDescription("Truncation records emitted, by cap"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		warningsTotal, err = meter.Int64Counter(
			"contextgraph_neighborhood_warnings_total",
			metric.WithDescription("Warnings emitted, by code"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordBuildMetrics(ctx context.Context, duration time.Duration, res *Result) {
	if err := initMetrics(); err != nil {
		return
	}

	truncated := len(res.Truncation) > 0
	buildLatency.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.Bool("truncated", truncated)))
	nodesReturned.Record(ctx, int64(len(res.Nodes)))
	for _, t := range res.Truncation {
		truncationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("cap", t.Cap)))
	}
	for _, w := range res.Warnings {
		warningsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("code", w.Code)))
	}
}

func startBuildSpan(ctx context.Context, seedCount int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Neighborhood.Build",
		trace.WithAttributes(attribute.Int("neighborhood.seed_count", seedCount)),
	)
}

func setBuildSpanResult(span trace.Span, res *Result) {
	span.SetAttributes(
		attribute.Int("neighborhood.node_count", len(res.Nodes)),
		attribute.Int("neighborhood.edge_count", len(res.Edges)),
		attribute.Int("neighborhood.path_count", len(res.Paths)),
		attribute.Int("neighborhood.work_units", res.Stats.Counts.WorkUnitsUsed),
		attribute.Int("neighborhood.warning_count", len(res.Warnings)),
		attribute.Int("neighborhood.truncation_count", len(res.Truncation)),
	)
}
