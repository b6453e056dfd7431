// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/pycallgraph/services/callgraph/ast"
)

const extractTracerName = "callgraph.extract"

// ErrNilRoot is returned when Extract is handed no tree.
var ErrNilRoot = errors.New("nil syntax tree root")

// Extract runs every per-file pass over one syntax tree.
//
// Description:
//
//	Passes run in dependency order over the same tree: declarations,
//	imports, bindings, calls. Each pass threads its own scope value through
//	the walk, so no pass depends on another's traversal state. The result
//	only depends on the tree and module, which makes it safe to cache by
//	content hash.
//
// Inputs:
//   - ctx: Context for cancellation and tracing.
//   - root: Module node of the parsed file. Must not be nil.
//   - filePath: Path of the file, recorded in the facts.
//   - module: Module identifier from ModuleName.
//
// Outputs:
//   - *FileFacts: Immutable facts for this file.
//   - error: ErrNilRoot or a context error.
//
// Thread Safety: Safe for concurrent use on distinct trees.
func Extract(ctx context.Context, root ast.Node, filePath, module string) (*FileFacts, error) {
	if root == nil {
		return nil, fmt.Errorf("extracting %s: %w", filePath, ErrNilRoot)
	}

	ctx, span := otel.Tracer(extractTracerName).Start(ctx, "extract.File",
		trace.WithAttributes(
			attribute.String("file", filePath),
			attribute.String("module", module),
		),
	)
	defer span.End()

	facts := &FileFacts{
		FilePath:  filePath,
		Module:    module,
		Functions: make([]FuncDecl, 0),
		Classes:   make([]ClassDecl, 0),
		Calls:     make([]CallSite, 0),
	}

	passes := []struct {
		name string
		run  func(ast.Node, *FileFacts)
	}{
		{"declarations", extractDeclarations},
		{"imports", extractImports},
		{"bindings", extractBindings},
		{"calls", extractCalls},
	}
	for _, pass := range passes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("extracting %s canceled before %s: %w", filePath, pass.name, err)
		}
		pass.run(root, facts)
	}

	span.SetAttributes(
		attribute.Int("functions", len(facts.Functions)),
		attribute.Int("classes", len(facts.Classes)),
		attribute.Int("imports", facts.Imports.Len()),
		attribute.Int("calls", len(facts.Calls)),
	)

	slog.Debug("file extracted",
		slog.String("file", filePath),
		slog.String("module", module),
		slog.Int("functions", len(facts.Functions)),
		slog.Int("classes", len(facts.Classes)),
		slog.Int("calls", len(facts.Calls)))

	return facts, nil
}
