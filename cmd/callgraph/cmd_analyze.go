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
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/pycallgraph/services/callgraph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/index"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze [root]",
		Short: "Build the call graph and print it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.projectRoot(args)
			if err != nil {
				return err
			}
			result, _, err := a.build(cmd.Context(), root)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result.Graph.ToSerializable())
			}
			printAnalysis(out, result)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the serialized graph as JSON")
	return cmd
}

func printAnalysis(w io.Writer, result *graph.BuildResult) {
	s := result.Stats
	fmt.Fprintf(w, "%d files (%d skipped), %d declarations, %d classes\n",
		s.FilesTotal, s.FilesFailed, s.Declarations, s.Classes)
	fmt.Fprintf(w, "%d resolved edges, %d external edges, %d constructor edges\n\n",
		s.ResolvedEdges, s.UnresolvedEdges, s.ConstructorEdges)

	for _, file := range result.Graph.ByFile() {
		fmt.Fprintf(w, "%s (%s)\n", file.FilePath, file.Module)
		for _, d := range file.Declarations {
			fmt.Fprintf(w, "  %s [%d-%d]\n", d.QualifiedName, d.LineStart, d.LineEnd)
			for _, e := range d.Calls() {
				fmt.Fprintf(w, "    -> %s\n", e)
			}
		}
	}
	for _, fe := range result.FileErrors {
		fmt.Fprintf(w, "skipped %s: %v\n", fe.FilePath, fe.Err)
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <qualified-name>",
		Short: "Show one declaration's calls, callers and assertions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.projectRoot(nil)
			if err != nil {
				return err
			}
			result, _, err := a.build(cmd.Context(), root)
			if err != nil {
				return err
			}
			d, ok := result.Graph.Lookup(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", graph.ErrDeclarationNotFound, args[0])
			}
			printDeclaration(cmd.OutOrStdout(), callgraph.DescribeDeclaration(result.Graph, d))
			return nil
		},
	}
}

func printDeclaration(w io.Writer, info callgraph.DeclarationInfo) {
	fmt.Fprintf(w, "%s  %s:%d-%d\n", info.QualifiedName, info.FilePath, info.LineStart, info.LineEnd)

	fmt.Fprintln(w, "calls:")
	for _, c := range info.Calls {
		if c.External {
			fmt.Fprintf(w, "  %s (external)\n", c.Target)
		} else {
			fmt.Fprintf(w, "  %s [%d-%d]\n", c.Target, c.LineStart, c.LineEnd)
		}
	}
	fmt.Fprintln(w, "called by:")
	for _, caller := range info.CalledBy {
		fmt.Fprintf(w, "  %s\n", caller)
	}
	if len(info.Assertions) > 0 {
		fmt.Fprintln(w, "assertions:")
		for _, as := range info.Assertions {
			fmt.Fprintf(w, "  %s\n", as)
		}
	}
}

func newSearchCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Fuzzy search declarations by name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.projectRoot(nil)
			if err != nil {
				return err
			}
			result, _, err := a.build(cmd.Context(), root)
			if err != nil {
				return err
			}
			matches, err := index.NewDeclarationIndex(result.Graph).Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, m := range matches {
				fmt.Fprintf(out, "%-40s %-9s %s:%d\n",
					m.Declaration.QualifiedName, m.MatchType, m.Declaration.FilePath, m.Declaration.LineStart)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum results")
	return cmd
}

func newEntryPointsCmd(a *app) *cobra.Command {
	var leaves bool
	cmd := &cobra.Command{
		Use:   "entrypoints",
		Short: "List declarations nothing in the project calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := a.projectRoot(nil)
			if err != nil {
				return err
			}
			result, _, err := a.build(cmd.Context(), root)
			if err != nil {
				return err
			}
			decls := result.Graph.EntryPoints()
			if leaves {
				decls = result.Graph.LeafFunctions()
			}
			out := cmd.OutOrStdout()
			for _, d := range decls {
				fmt.Fprintf(out, "%s  %s:%d\n", d.QualifiedName, d.FilePath, d.LineStart)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&leaves, "leaves", false, "List declarations that call nothing instead")
	return cmd
}
