// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// astTracerName is the OTel tracer name for parsing.
const astTracerName = "callgraph.ast"

var (
	// parseDuration measures the duration of a single file parse.
	//
	// Labels:
	//   - language: "python"
	//   - status: "success" or "error"
	parseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "callgraph",
			Subsystem: "ast",
			Name:      "parse_duration_seconds",
			Help:      "Duration of source file parsing in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"language", "status"},
	)

	// parseTotal counts parsed files.
	parseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callgraph",
			Subsystem: "ast",
			Name:      "parse_total",
			Help:      "Total number of parsed source files.",
		},
		[]string{"language", "status"},
	)

	// parseBytesTotal counts the bytes handed to the parser.
	parseBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "callgraph",
			Subsystem: "ast",
			Name:      "parse_bytes_total",
			Help:      "Total bytes of source handed to the parser.",
		},
		[]string{"language"},
	)
)

// startParseSpan opens the span that wraps one Parse call.
func startParseSpan(ctx context.Context, language, filePath string, size int) (context.Context, trace.Span) {
	return otel.Tracer(astTracerName).Start(ctx, "ast.Parse",
		trace.WithAttributes(
			attribute.String("language", language),
			attribute.String("file", filePath),
			attribute.Int("size_bytes", size),
		),
	)
}

// setParseSpanResult records the outcome of a parse on its span.
func setParseSpanResult(span trace.Span, hasErrors bool) {
	span.SetAttributes(attribute.Bool("syntax_errors", hasErrors))
}

// recordParseMetrics records duration and outcome of a parse.
func recordParseMetrics(language string, duration time.Duration, size int, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	parseDuration.WithLabelValues(language, status).Observe(duration.Seconds())
	parseTotal.WithLabelValues(language, status).Inc()
	if size > 0 {
		parseBytesTotal.WithLabelValues(language).Add(float64(size))
	}
}
