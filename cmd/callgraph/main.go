// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command callgraph builds and queries the call graph of a Python project.
//
// Usage:
//
//	callgraph analyze ./myproject
//	callgraph show pkg.b.run --root ./myproject
//	callgraph search helper --root ./myproject
//	callgraph serve --root ./myproject
//	callgraph watch --root ./myproject
//
// Example requests against a running server:
//
//	curl -X POST http://localhost:12218/v1/callgraph/init \
//	  -H "Content-Type: application/json" \
//	  -d '{"project_root": "/path/to/project"}'
//
//	curl "http://localhost:12218/v1/callgraph/declaration?name=pkg.b.run" | jq
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/pycallgraph/services/callgraph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/config"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
)

// globalFlags holds the persistent flag values shared by every command.
type globalFlags struct {
	root       string
	configPath string
	logLevel   string
	trace      bool
}

// app carries per-invocation state between the root hooks and commands.
type app struct {
	flags    globalFlags
	shutdown func(context.Context) error
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and maps errors to exit codes.
func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		if errors.Is(err, graph.ErrInvariantViolation) {
			fmt.Fprintf(stderr, "internal error: %v\n", err)
		} else {
			fmt.Fprintf(stderr, "Error: %v\n", err)
		}
		return exitError
	}
	return exitOK
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "callgraph",
		Short:         "Static call graph analysis for Python projects",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := setupLogging(cmd.ErrOrStderr(), a.flags.logLevel); err != nil {
				return err
			}
			if a.flags.trace {
				shutdown, err := setupTracing(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				a.shutdown = shutdown
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(context.Background())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.root, "root", ".", "Project root directory")
	pf.StringVar(&a.flags.configPath, "config", "", "Config file (default <root>/"+config.FileName+")")
	pf.StringVar(&a.flags.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.BoolVar(&a.flags.trace, "trace", false, "Print OpenTelemetry spans to stderr")

	root.AddCommand(
		newAnalyzeCmd(a),
		newShowCmd(a),
		newSearchCmd(a),
		newEntryPointsCmd(a),
		newServeCmd(a),
		newSnapshotCmd(a),
		newExportCmd(a),
		newWatchCmd(a),
	)
	return root
}

// setupLogging installs the default slog logger: text on a terminal, JSON
// otherwise.
func setupLogging(w io.Writer, level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// setupTracing installs a tracer provider that prints finished spans to w.
func setupTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// projectRoot resolves the project root from an optional positional
// argument, falling back to --root.
func (a *app) projectRoot(args []string) (string, error) {
	root := a.flags.root
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

// loadConfig loads the project configuration honoring --config.
func (a *app) loadConfig(root string) (*config.Config, error) {
	return config.Load(root, a.flags.configPath)
}

// build discovers and analyzes the project at root.
func (a *app) build(ctx context.Context, root string) (*graph.BuildResult, *config.Config, error) {
	cfg, err := a.loadConfig(root)
	if err != nil {
		return nil, nil, err
	}
	files, err := config.DiscoverFiles(root, cfg)
	if err != nil {
		return nil, nil, err
	}
	result, err := callgraph.NewProjectBuilder(root, cfg).Build(ctx, files)
	if err != nil {
		return nil, nil, err
	}
	for _, fe := range result.FileErrors {
		slog.Warn("file skipped",
			slog.String("file", fe.FilePath),
			slog.String("error", fe.Err.Error()),
		)
	}
	return result, cfg, nil
}
