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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

func newSnapshotCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Save, list and compare call graph snapshots",
	}
	cmd.AddCommand(newSnapshotSaveCmd(a), newSnapshotListCmd(a), newSnapshotDiffCmd(a))
	return cmd
}

func newSnapshotSaveCmd(a *app) *cobra.Command {
	var label string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Build the project and save a snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.projectRoot(nil)
			if err != nil {
				return err
			}
			result, cfg, err := a.build(cmd.Context(), root)
			if err != nil {
				return err
			}
			mgr, closeStore, err := openSnapshots(root, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			meta, err := mgr.Save(cmd.Context(), result.Graph, label)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (%d declarations, %d edges, %d bytes)\n",
				meta.SnapshotID, meta.DeclarationCount, meta.EdgeCount, meta.CompressedSize)
			return nil
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label")
	return cmd
}

func newSnapshotListCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the project's snapshots, newest first",
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
			mgr, closeStore, err := openSnapshots(root, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			snapshots, err := mgr.List(cmd.Context(), graph.ProjectHash(root), limit)
			if err != nil {
				return err
			}
			printSnapshots(cmd.OutOrStdout(), snapshots)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum snapshots to list")
	return cmd
}

func printSnapshots(w io.Writer, snapshots []*graph.SnapshotMetadata) {
	if len(snapshots) == 0 {
		fmt.Fprintln(w, "no snapshots")
		return
	}
	for _, s := range snapshots {
		created := time.UnixMilli(s.CreatedAtMilli).UTC().Format(time.RFC3339)
		fmt.Fprintf(w, "%s  %s  %5d decls  %5d edges  %s\n",
			s.SnapshotID, created, s.DeclarationCount, s.EdgeCount, s.Label)
	}
}

func newSnapshotDiffCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "diff <base-id> [target-id]",
		Short: "Compare two snapshots, or a snapshot with the current source",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.projectRoot(nil)
			if err != nil {
				return err
			}
			cfg, err := a.loadConfig(root)
			if err != nil {
				return err
			}
			mgr, closeStore, err := openSnapshots(root, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			base, _, err := mgr.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var target *graph.CallGraph
			targetID := "working-tree"
			if len(args) == 2 {
				targetID = args[1]
				if target, _, err = mgr.Load(cmd.Context(), targetID); err != nil {
					return err
				}
			} else {
				result, _, err := a.build(cmd.Context(), root)
				if err != nil {
					return err
				}
				target = result.Graph
			}

			diff, err := graph.DiffSnapshots(base, target, args[0], targetID)
			if err != nil {
				return err
			}
			printDiff(cmd.OutOrStdout(), diff)
			return nil
		},
	}
}

func printDiff(w io.Writer, diff *graph.SnapshotDiff) {
	fmt.Fprintf(w, "%s -> %s: %d changes\n", diff.BaseSnapshotID, diff.TargetSnapshotID, diff.Summary.TotalChanges)
	for _, qn := range diff.DeclarationsAdded {
		fmt.Fprintf(w, "+ %s\n", qn)
	}
	for _, qn := range diff.DeclarationsRemoved {
		fmt.Fprintf(w, "- %s\n", qn)
	}
	for _, m := range diff.DeclarationsModified {
		fmt.Fprintf(w, "~ %s (%s)\n", m.QualifiedName, m.ChangeType)
	}
	for _, e := range diff.EdgesAdded {
		fmt.Fprintf(w, "+ %s -> %s\n", e.Caller, edgeLabel(e))
	}
	for _, e := range diff.EdgesRemoved {
		fmt.Fprintf(w, "- %s -> %s\n", e.Caller, edgeLabel(e))
	}
}

func edgeLabel(e graph.EdgeChange) string {
	if e.Resolved {
		return graph.ResolvedEdge(e.Target).String()
	}
	return graph.UnresolvedEdge(e.Target).String()
}
