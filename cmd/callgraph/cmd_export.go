// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pycallgraph/services/callgraph/export"
)

func newExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the call graph to external stores",
	}
	cmd.AddCommand(newExportNeo4jCmd(a))
	return cmd
}

func newExportNeo4jCmd(a *app) *cobra.Command {
	var (
		clean     bool
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "neo4j",
		Short: "Write the call graph to Neo4j",
		Long: `Builds the project and writes PyFunction, PyClass and PyExternal nodes
with CALLS, HAS_METHOD and INHERITS relationships. Connection settings come
from the neo4j section of the config; the password may also be set with ` +
			"CALLGRAPH_NEO4J_PASSWORD.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.projectRoot(nil)
			if err != nil {
				return err
			}
			result, cfg, err := a.build(cmd.Context(), root)
			if err != nil {
				return err
			}

			n := cfg.Neo4j
			runner, err := export.NewDriverRunner(cmd.Context(), n.URI, n.User, n.Password, n.Database)
			if err != nil {
				return err
			}
			defer func() {
				if err := runner.Close(context.Background()); err != nil {
					slog.Warn("failed to close neo4j driver", slog.String("error", err.Error()))
				}
			}()

			exporter, err := export.NewNeo4jExporter(runner,
				export.WithBatchSize(batchSize),
				export.WithClean(clean),
				export.WithLogger(slog.Default()),
			)
			if err != nil {
				return err
			}
			stats, err := exporter.Export(cmd.Context(), result.Graph)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"exported %d functions, %d classes, %d resolved calls, %d external calls to %s\n",
				stats.Functions, stats.Classes, stats.ResolvedCalls, stats.ExternalCalls, n.URI)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clean, "clean", false, "Delete the project's previous export first")
	cmd.Flags().IntVar(&batchSize, "batch-size", export.DefaultBatchSize, "Rows per UNWIND statement")
	return cmd
}
