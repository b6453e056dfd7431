// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package export writes a call graph to external graph stores.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

const (
	exportTracerName = "callgraph.export"

	// DefaultBatchSize is the number of rows sent per UNWIND statement.
	DefaultBatchSize = 500
)

// Cypher statements. Every write is a MERGE so re-exporting the same graph
// is a no-op.
const (
	cypherCleanCalls     = "MATCH (:PyFunction {project: $project})-[r:CALLS]->() DELETE r"
	cypherCleanFunctions = "MATCH (n:PyFunction {project: $project}) DETACH DELETE n"
	cypherCleanClasses   = "MATCH (n:PyClass {project: $project}) DETACH DELETE n"

	cypherFunctions = `UNWIND $batch AS row
MERGE (n:PyFunction {qualified_name: row.qualified_name})
SET n.name = row.name, n.module = row.module, n.file = row.file,
    n.line_start = row.line_start, n.line_end = row.line_end,
    n.owning_class = row.owning_class, n.project = $project`

	cypherClasses = `UNWIND $batch AS row
MERGE (c:PyClass {qualified_name: row.qualified_name})
SET c.name = row.name, c.module = row.module, c.file = row.file,
    c.line_start = row.line_start, c.project = $project`

	cypherMethods = `UNWIND $batch AS row
MATCH (c:PyClass {qualified_name: row.class}), (f:PyFunction {qualified_name: row.method})
MERGE (c)-[:HAS_METHOD]->(f)`

	cypherInherits = `UNWIND $batch AS row
MATCH (c:PyClass {qualified_name: row.class}), (b:PyClass {qualified_name: row.base})
MERGE (c)-[:INHERITS]->(b)`

	cypherResolvedCalls = `UNWIND $batch AS row
MATCH (a:PyFunction {qualified_name: row.caller}), (b:PyFunction {qualified_name: row.target})
MERGE (a)-[:CALLS]->(b)`

	cypherExternalCalls = `UNWIND $batch AS row
MATCH (a:PyFunction {qualified_name: row.caller})
MERGE (x:PyExternal {name: row.target})
MERGE (a)-[:CALLS]->(x)`
)

var indexStatements = []string{
	"CREATE INDEX py_function_qn IF NOT EXISTS FOR (n:PyFunction) ON (n.qualified_name)",
	"CREATE INDEX py_class_qn IF NOT EXISTS FOR (n:PyClass) ON (n.qualified_name)",
	"CREATE INDEX py_external_name IF NOT EXISTS FOR (n:PyExternal) ON (n.name)",
}

// Runner executes one Cypher statement.
type Runner interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
}

// ExportStats counts what an export wrote.
type ExportStats struct {
	Functions     int   `json:"functions"`
	Classes       int   `json:"classes"`
	ResolvedCalls int   `json:"resolved_calls"`
	ExternalCalls int   `json:"external_calls"`
	Statements    int   `json:"statements"`
	DurationMilli int64 `json:"duration_milli"`
}

// Neo4jExporter writes graphs as PyFunction / PyClass / PyExternal nodes.
//
// Thread Safety: Safe for concurrent use if the Runner is.
type Neo4jExporter struct {
	runner    Runner
	batchSize int
	clean     bool
	logger    *slog.Logger
}

// ExporterOption configures a Neo4jExporter.
type ExporterOption func(*Neo4jExporter)

// WithBatchSize sets the rows per statement.
func WithBatchSize(n int) ExporterOption {
	return func(e *Neo4jExporter) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithClean removes the project's previous export before writing.
func WithClean(clean bool) ExporterOption {
	return func(e *Neo4jExporter) {
		e.clean = clean
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ExporterOption {
	return func(e *Neo4jExporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewNeo4jExporter creates an exporter over runner.
func NewNeo4jExporter(runner Runner, opts ...ExporterOption) (*Neo4jExporter, error) {
	if runner == nil {
		return nil, errors.New("runner must not be nil")
	}
	e := &Neo4jExporter{
		runner:    runner,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Export writes g.
//
// Description:
//
//	Ensures indexes, optionally cleans the project's previous export, then
//	upserts functions, classes, class membership, inheritance and CALLS
//	relationships in batches. Unresolved edges point at PyExternal nodes
//	keyed by their raw text.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	g - A frozen graph. Must not be nil.
//
// Outputs:
//
//	*ExportStats - Counts of what was written.
//	error - Non-nil if any statement failed; earlier batches stay written.
func (e *Neo4jExporter) Export(ctx context.Context, g *graph.CallGraph) (*ExportStats, error) {
	if g == nil {
		return nil, errors.New("graph must not be nil")
	}

	ctx, span := otel.Tracer(exportTracerName).Start(ctx, "export.Neo4jExporter.Export")
	defer span.End()

	start := time.Now()
	stats := &ExportStats{}
	project := map[string]any{"project": g.ProjectRoot}

	run := func(cypher string, params map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Statements++
		return e.runner.Run(ctx, cypher, params)
	}
	fail := func(step string, err error) (*ExportStats, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, step)
		return stats, fmt.Errorf("neo4j export %s: %w", step, err)
	}

	for _, stmt := range indexStatements {
		if err := run(stmt, nil); err != nil {
			return fail("creating indexes", err)
		}
	}

	if e.clean {
		for _, stmt := range []string{cypherCleanCalls, cypherCleanFunctions, cypherCleanClasses} {
			if err := run(stmt, project); err != nil {
				return fail("cleaning", err)
			}
		}
	}

	rows := BuildRows(g)
	stats.Functions = len(rows.Functions)
	stats.Classes = len(rows.Classes)
	stats.ResolvedCalls = len(rows.ResolvedCalls)
	stats.ExternalCalls = len(rows.ExternalCalls)

	steps := []struct {
		name   string
		cypher string
		rows   []map[string]any
	}{
		{"functions", cypherFunctions, rows.Functions},
		{"classes", cypherClasses, rows.Classes},
		{"methods", cypherMethods, rows.Methods},
		{"inheritance", cypherInherits, rows.Inherits},
		{"resolved calls", cypherResolvedCalls, rows.ResolvedCalls},
		{"external calls", cypherExternalCalls, rows.ExternalCalls},
	}
	for _, step := range steps {
		for _, batch := range Batches(step.rows, e.batchSize) {
			params := map[string]any{"batch": batch, "project": g.ProjectRoot}
			if err := run(step.cypher, params); err != nil {
				return fail(step.name, err)
			}
		}
	}

	stats.DurationMilli = time.Since(start).Milliseconds()
	span.SetAttributes(
		attribute.Int("functions", stats.Functions),
		attribute.Int("resolved_calls", stats.ResolvedCalls),
		attribute.Int("external_calls", stats.ExternalCalls),
		attribute.Int("statements", stats.Statements),
	)
	e.logger.Info("neo4j export complete",
		slog.String("project", g.ProjectRoot),
		slog.Int("functions", stats.Functions),
		slog.Int("classes", stats.Classes),
		slog.Int("resolved_calls", stats.ResolvedCalls),
		slog.Int("external_calls", stats.ExternalCalls),
		slog.Int64("duration_ms", stats.DurationMilli),
	)
	return stats, nil
}

// Rows holds the UNWIND parameter rows for one graph.
type Rows struct {
	Functions     []map[string]any
	Classes       []map[string]any
	Methods       []map[string]any
	Inherits      []map[string]any
	ResolvedCalls []map[string]any
	ExternalCalls []map[string]any
}

// BuildRows flattens g into statement rows, in qualified-name order.
func BuildRows(g *graph.CallGraph) Rows {
	var rows Rows
	for _, d := range g.Declarations() {
		rows.Functions = append(rows.Functions, map[string]any{
			"qualified_name": d.QualifiedName,
			"name":           d.Name,
			"module":         d.Module,
			"file":           d.FilePath,
			"line_start":     d.LineStart,
			"line_end":       d.LineEnd,
			"owning_class":   d.OwningClass,
		})
		if d.OwningClass != "" {
			rows.Methods = append(rows.Methods, map[string]any{
				"class":  d.OwningClass,
				"method": d.QualifiedName,
			})
		}
		for _, edge := range d.Calls() {
			row := map[string]any{"caller": d.QualifiedName, "target": edge.Target}
			if edge.Resolved {
				rows.ResolvedCalls = append(rows.ResolvedCalls, row)
			} else {
				rows.ExternalCalls = append(rows.ExternalCalls, row)
			}
		}
	}
	for _, c := range g.Classes() {
		rows.Classes = append(rows.Classes, map[string]any{
			"qualified_name": c.QualifiedName,
			"name":           c.Name,
			"module":         c.Module,
			"file":           c.FilePath,
			"line_start":     c.LineStart,
		})
		for _, base := range c.ResolvedBases {
			if _, ok := g.Class(base); ok {
				rows.Inherits = append(rows.Inherits, map[string]any{
					"class": c.QualifiedName,
					"base":  base,
				})
			}
		}
	}
	return rows
}

// Batches splits rows into chunks of at most size.
func Batches(rows []map[string]any, size int) [][]map[string]any {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out [][]map[string]any
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// =============================================================================
// Driver-backed runner
// =============================================================================

// DriverRunner runs statements through a neo4j driver.
type DriverRunner struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewDriverRunner connects to Neo4j and verifies connectivity.
func NewDriverRunner(ctx context.Context, uri, user, password, database string) (*DriverRunner, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", uri, err)
	}
	return &DriverRunner{driver: driver, database: database}, nil
}

// Run implements Runner.
func (r *DriverRunner) Run(ctx context.Context, cypher string, params map[string]any) error {
	var opts []neo4j.ExecuteQueryConfigurationOption
	if r.database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(r.database))
	}
	_, err := neo4j.ExecuteQuery(ctx, r.driver, cypher, params, neo4j.EagerResultTransformer, opts...)
	return err
}

// Close releases the driver.
func (r *DriverRunner) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}
