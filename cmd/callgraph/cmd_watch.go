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
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pycallgraph/services/callgraph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/watch"
)

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rebuild the call graph whenever Python sources change",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.projectRoot(nil)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig(root)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var previous *graph.CallGraph
			onBuild := func(result *graph.BuildResult, err error) {
				if err != nil {
					slog.Error("rebuild failed", slog.String("error", err.Error()))
					return
				}
				reportRebuild(out, previous, result)
				previous = result.Graph
			}

			w, err := watch.New(root, cfg, callgraph.NewProjectBuilder(root, cfg), onBuild,
				watch.WithDebounce(debounce),
				watch.WithLogger(slog.Default()),
			)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			slog.Info("watching for changes", slog.String("root", root))
			return w.Run(ctx)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "Wait this long for changes to settle")
	return cmd
}

// reportRebuild prints the build summary and, after the first build, what
// changed relative to the previous graph.
func reportRebuild(w io.Writer, previous *graph.CallGraph, result *graph.BuildResult) {
	s := result.Stats
	fmt.Fprintf(w, "[%s] %d declarations, %d resolved, %d external (%d cached files, %dms)\n",
		time.Now().Format("15:04:05"), s.Declarations, s.ResolvedEdges, s.UnresolvedEdges,
		s.FilesCached, s.DurationMilli)
	if previous == nil {
		return
	}
	diff, err := graph.DiffSnapshots(previous, result.Graph, "previous", "current")
	if err != nil {
		slog.Warn("diff failed", slog.String("error", err.Error()))
		return
	}
	if diff.Summary.TotalChanges > 0 {
		printDiff(w, diff)
	}
}
