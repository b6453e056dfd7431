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
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const graphTracerName = "callgraph.graph"

// Resolution strategy labels, one per step of the resolver.
const (
	strategyKnown      = "known"
	strategyModule     = "module"
	strategyImport     = "import"
	strategySuffix     = "suffix"
	strategyInherited  = "inherited"
	strategyWildcard   = "wildcard"
	strategyUnresolved = "unresolved"
)

var (
	buildDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "callgraph",
			Subsystem: "graph",
			Name:      "build_duration_seconds",
			Help:      "Duration of call graph builds in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	buildTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callgraph",
			Subsystem: "graph",
			Name:      "build_total",
			Help:      "Total number of call graph builds.",
		},
		[]string{"status"},
	)

	// buildFilesTotal counts files by outcome: processed, cached, failed.
	buildFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callgraph",
			Subsystem: "graph",
			Name:      "build_files_total",
			Help:      "Files seen by call graph builds, by outcome.",
		},
		[]string{"outcome"},
	)

	// resolutionTotal counts call sites by the resolver step that placed them.
	resolutionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callgraph",
			Subsystem: "graph",
			Name:      "resolution_total",
			Help:      "Call sites by resolution strategy.",
		},
		[]string{"strategy"},
	)

	graphDeclarations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "callgraph",
			Subsystem: "graph",
			Name:      "declarations",
			Help:      "Declarations in the most recently built graph.",
		},
	)
)

func startBuildSpan(ctx context.Context, fileCount int) (context.Context, trace.Span) {
	return otel.Tracer(graphTracerName).Start(ctx, "graph.Builder.Build",
		trace.WithAttributes(attribute.Int("files", fileCount)),
	)
}

func startPhaseSpan(ctx context.Context, phase ProgressPhase) (context.Context, trace.Span) {
	return otel.Tracer(graphTracerName).Start(ctx, "graph.Builder."+phase.String())
}

func setBuildSpanResult(span trace.Span, stats BuildStats, err error) {
	span.SetAttributes(
		attribute.Int("files_processed", stats.FilesProcessed),
		attribute.Int("files_failed", stats.FilesFailed),
		attribute.Int("declarations", stats.Declarations),
		attribute.Int("resolved_edges", stats.ResolvedEdges),
		attribute.Int("unresolved_edges", stats.UnresolvedEdges),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

func recordBuildMetrics(duration time.Duration, stats BuildStats, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	buildDuration.WithLabelValues(status).Observe(duration.Seconds())
	buildTotal.WithLabelValues(status).Inc()
	buildFilesTotal.WithLabelValues("processed").Add(float64(stats.FilesProcessed))
	buildFilesTotal.WithLabelValues("cached").Add(float64(stats.FilesCached))
	buildFilesTotal.WithLabelValues("failed").Add(float64(stats.FilesFailed))
	if success {
		graphDeclarations.Set(float64(stats.Declarations))
	}
}

func recordResolution(strategy string) {
	resolutionTotal.WithLabelValues(strategy).Inc()
}
