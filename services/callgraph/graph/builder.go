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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/pycallgraph/services/callgraph/ast"
	"github.com/AleutianAI/pycallgraph/services/callgraph/extract"
)

// Default builder configuration values.
const (
	// DefaultWorkerCount is the default number of parallel workers.
	// Set to 0 to use runtime.NumCPU().
	DefaultWorkerCount = 0

	// DefaultFactCacheSize is the number of per-file fact sets kept between
	// builds. Zero disables the cache.
	DefaultFactCacheSize = 4096

	// maxBaseChainDepth bounds inherited-member lookups through base classes.
	maxBaseChainDepth = 10
)

// ProgressPhase indicates which phase of building is in progress.
type ProgressPhase int

const (
	// ProgressPhaseExtracting indicates files are being parsed and extracted.
	ProgressPhaseExtracting ProgressPhase = iota

	// ProgressPhaseMerging indicates per-file facts are being merged.
	ProgressPhaseMerging

	// ProgressPhaseBinding indicates class references are being resolved.
	ProgressPhaseBinding

	// ProgressPhaseResolving indicates call sites are being resolved.
	ProgressPhaseResolving

	// ProgressPhaseLinking indicates constructor edges are being added.
	ProgressPhaseLinking

	// ProgressPhaseFinalizing indicates the graph is being frozen.
	ProgressPhaseFinalizing
)

// String returns the string representation of the ProgressPhase.
func (p ProgressPhase) String() string {
	switch p {
	case ProgressPhaseExtracting:
		return "extracting"
	case ProgressPhaseMerging:
		return "merging"
	case ProgressPhaseBinding:
		return "binding"
	case ProgressPhaseResolving:
		return "resolving"
	case ProgressPhaseLinking:
		return "linking"
	case ProgressPhaseFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// BuildProgress contains progress information during a build.
type BuildProgress struct {
	// Phase is the current build phase.
	Phase ProgressPhase

	// FilesTotal is the total number of files to process.
	FilesTotal int

	// FilesProcessed is the number of files extracted so far.
	FilesProcessed int

	// Declarations is the number of declarations merged so far.
	Declarations int
}

// ProgressFunc is a callback function for build progress updates.
//
// During extraction it is called from worker goroutines, one call at a time.
type ProgressFunc func(progress BuildProgress)

// BuilderOptions configures Builder behavior.
type BuilderOptions struct {
	// ProjectRoot is the directory module names are relative to.
	ProjectRoot string

	// WorkerCount is the number of parallel extraction workers.
	// Default: runtime.NumCPU()
	WorkerCount int

	// Parser parses each file. Default: ast.NewPythonParser().
	Parser ast.Parser

	// FactCacheSize is the capacity of the per-file fact cache.
	FactCacheSize int

	// ProgressCallback is called with build progress. May be nil.
	ProgressCallback ProgressFunc
}

// DefaultBuilderOptions returns sensible defaults.
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		WorkerCount:   runtime.NumCPU(),
		FactCacheSize: DefaultFactCacheSize,
	}
}

// BuilderOption is a functional option for configuring Builder.
type BuilderOption func(*BuilderOptions)

// WithProjectRoot sets the project root path.
func WithProjectRoot(root string) BuilderOption {
	return func(o *BuilderOptions) {
		o.ProjectRoot = root
	}
}

// WithWorkerCount sets the number of parallel workers.
func WithWorkerCount(n int) BuilderOption {
	return func(o *BuilderOptions) {
		o.WorkerCount = n
	}
}

// WithParser replaces the default Python parser.
func WithParser(p ast.Parser) BuilderOption {
	return func(o *BuilderOptions) {
		o.Parser = p
	}
}

// WithFactCache sets the fact cache capacity. Zero or less disables it.
func WithFactCache(size int) BuilderOption {
	return func(o *BuilderOptions) {
		o.FactCacheSize = size
	}
}

// WithProgressCallback sets the progress callback function.
func WithProgressCallback(fn ProgressFunc) BuilderOption {
	return func(o *BuilderOptions) {
		o.ProgressCallback = fn
	}
}

// FileError records a file that could not be read or parsed.
type FileError struct {
	// FilePath is the file that failed.
	FilePath string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.FilePath, e.Err)
}

// Unwrap returns the underlying error.
func (e FileError) Unwrap() error {
	return e.Err
}

// BuildStats contains statistics about a build.
type BuildStats struct {
	FilesTotal       int   `json:"files_total"`
	FilesProcessed   int   `json:"files_processed"`
	FilesCached      int   `json:"files_cached"`
	FilesFailed      int   `json:"files_failed"`
	FilesWithErrors  int   `json:"files_with_syntax_errors"`
	Declarations     int   `json:"declarations"`
	Classes          int   `json:"classes"`
	Duplicates       int   `json:"duplicates"`
	CallSites        int   `json:"call_sites"`
	ResolvedEdges    int   `json:"resolved_edges"`
	UnresolvedEdges  int   `json:"unresolved_edges"`
	ConstructorEdges int   `json:"constructor_edges"`
	DurationMilli    int64 `json:"duration_milli"`
}

// BuildResult contains the built graph and any errors encountered.
type BuildResult struct {
	// Graph is the frozen call graph.
	Graph *CallGraph

	// FileErrors lists files that were skipped.
	FileErrors []FileError

	// Stats contains build statistics.
	Stats BuildStats
}

// Builder constructs call graphs from Python source files.
//
// The builder holds no per-build state and can be reused; each Build call
// produces a new graph. Per-file facts are cached across builds keyed by
// file and content hash, so rebuilding an unchanged project skips parsing.
//
// Thread Safety:
//
//	Builder is safe for concurrent use. Each Build() call operates
//	independently with its own internal state.
type Builder struct {
	options BuilderOptions
	parser  ast.Parser
	cache   *lru.Cache[string, *extract.FileFacts]
}

// NewBuilder creates a new Builder with the given options.
//
// Example:
//
//	builder := NewBuilder(
//	    WithProjectRoot("/path/to/project"),
//	    WithWorkerCount(4),
//	)
func NewBuilder(opts ...BuilderOption) *Builder {
	options := DefaultBuilderOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if options.WorkerCount <= 0 {
		options.WorkerCount = runtime.NumCPU()
	}

	b := &Builder{
		options: options,
		parser:  options.Parser,
	}
	if b.parser == nil {
		b.parser = ast.NewPythonParser()
	}
	if options.FactCacheSize > 0 {
		// lru.New only fails for a non-positive size.
		cache, err := lru.New[string, *extract.FileFacts](options.FactCacheSize)
		if err == nil {
			b.cache = cache
		}
	}
	return b
}

// ProjectRoot returns the configured project root.
func (b *Builder) ProjectRoot() string {
	return b.options.ProjectRoot
}

// buildState holds mutable state during a single build operation.
type buildState struct {
	graph  *CallGraph
	result *BuildResult

	// facts holds the extracted facts per input file, nil for failed files.
	facts []*extract.FileFacts

	// factsByModule maps a module to its facts. First file wins when two
	// files share a module name.
	factsByModule map[string]*extract.FileFacts

	// namesByModule lists each module's qualified names, sorted.
	namesByModule map[string][]string

	// sortedNames is every qualified name, sorted.
	sortedNames []string

	// classesByName maps a bare class name to its qualified names.
	classesByName map[string][]string

	// sites are the call sites of all files, bound sites rewritten to
	// class paths during the bind phase.
	sites []siteRef

	progressMu     sync.Mutex
	filesProcessed int
	startTime      time.Time
}

// siteRef is a call site with the facts of the file it came from.
type siteRef struct {
	facts *extract.FileFacts
	site  extract.CallSite
}

// Build constructs a call graph from the given files.
//
// Description:
//
//	Runs the build phases in order. No phase is re-entered and nothing
//	from a previous build is reused except cached per-file facts.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	files - Paths of the Python files to analyze, usually from discovery.
//
// Outputs:
//
//	*BuildResult - The graph, skipped files and statistics.
//	error - The context error on cancellation, or an error wrapping
//	        ErrInvariantViolation on an engine defect. Unreadable files
//	        are never an error here; they are reported in FileErrors.
//
// Build Phases:
//
//  1. EXTRACT: parse and extract each file in parallel
//  2. MERGE: add declarations and classes in file order
//  3. BIND: turn class references into class paths
//  4. RESOLVE: resolve every call site to an edge
//  5. LINK: add constructor edges
//  6. FINALIZE: freeze the graph
func (b *Builder) Build(ctx context.Context, files []string) (*BuildResult, error) {
	ctx, span := startBuildSpan(ctx, len(files))
	defer span.End()

	state := &buildState{
		graph: NewCallGraph(b.options.ProjectRoot),
		result: &BuildResult{
			FileErrors: make([]FileError, 0),
		},
		facts:         make([]*extract.FileFacts, len(files)),
		factsByModule: make(map[string]*extract.FileFacts),
		namesByModule: make(map[string][]string),
		classesByName: make(map[string][]string),
		startTime:     time.Now(),
	}
	state.result.Graph = state.graph
	state.result.Stats.FilesTotal = len(files)

	phases := []struct {
		phase ProgressPhase
		run   func(context.Context, *buildState) error
	}{
		{ProgressPhaseExtracting, func(ctx context.Context, s *buildState) error { return b.extractPhase(ctx, s, files) }},
		{ProgressPhaseMerging, b.mergePhase},
		{ProgressPhaseBinding, b.bindPhase},
		{ProgressPhaseResolving, b.resolvePhase},
		{ProgressPhaseLinking, b.linkPhase},
	}

	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return b.fail(span, state, fmt.Errorf("build canceled before %s: %w", p.phase, err))
		}
		b.reportProgress(state, p.phase)
		phaseCtx, phaseSpan := startPhaseSpan(ctx, p.phase)
		err := p.run(phaseCtx, state)
		phaseSpan.End()
		if err != nil {
			return b.fail(span, state, err)
		}
	}

	b.reportProgress(state, ProgressPhaseFinalizing)
	state.graph.Freeze()

	stats := &state.result.Stats
	stats.Declarations = state.graph.Len()
	stats.Classes = len(state.graph.classes)
	stats.DurationMilli = time.Since(state.startTime).Milliseconds()

	setBuildSpanResult(span, *stats, nil)
	recordBuildMetrics(time.Since(state.startTime), *stats, true)

	slog.Info("call graph built",
		slog.String("project_root", b.options.ProjectRoot),
		slog.Int("files", stats.FilesProcessed),
		slog.Int("files_failed", stats.FilesFailed),
		slog.Int("declarations", stats.Declarations),
		slog.Int("resolved_edges", stats.ResolvedEdges),
		slog.Int("unresolved_edges", stats.UnresolvedEdges),
		slog.Int64("duration_ms", stats.DurationMilli))

	return state.result, nil
}

// fail records a failed build and returns err.
func (b *Builder) fail(span trace.Span, state *buildState, err error) (*BuildResult, error) {
	state.result.Stats.DurationMilli = time.Since(state.startTime).Milliseconds()
	setBuildSpanResult(span, state.result.Stats, err)
	recordBuildMetrics(time.Since(state.startTime), state.result.Stats, false)

	if errors.Is(err, ErrInvariantViolation) {
		slog.Error("call graph build aborted",
			slog.String("project_root", b.options.ProjectRoot),
			slog.String("error", err.Error()))
	}
	return nil, err
}

// reportProgress calls the progress callback, if any.
func (b *Builder) reportProgress(state *buildState, phase ProgressPhase) {
	if b.options.ProgressCallback == nil {
		return
	}
	state.progressMu.Lock()
	defer state.progressMu.Unlock()
	b.options.ProgressCallback(BuildProgress{
		Phase:          phase,
		FilesTotal:     state.result.Stats.FilesTotal,
		FilesProcessed: state.filesProcessed,
		Declarations:   len(state.graph.declarations),
	})
}

// extractPhase parses and extracts every file with bounded parallelism.
//
// Each worker writes only its own slot of state.facts or fileErrs, so the
// phase needs no locking beyond the progress counter.
func (b *Builder) extractPhase(ctx context.Context, state *buildState, files []string) error {
	fileErrs := make([]error, len(files))
	cached := make([]bool, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.options.WorkerCount)

	for i, path := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			facts, hit, err := b.extractFile(gctx, path)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				fileErrs[i] = err
			} else {
				state.facts[i] = facts
				cached[i] = hit
			}

			if b.options.ProgressCallback != nil {
				state.progressMu.Lock()
				state.filesProcessed++
				progress := BuildProgress{
					Phase:          ProgressPhaseExtracting,
					FilesTotal:     len(files),
					FilesProcessed: state.filesProcessed,
				}
				b.options.ProgressCallback(progress)
				state.progressMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("extracting files: %w", err)
	}

	stats := &state.result.Stats
	for i, path := range files {
		if fileErrs[i] != nil {
			slog.Warn("skipping file",
				slog.String("file", path),
				slog.String("error", fileErrs[i].Error()))
			state.result.FileErrors = append(state.result.FileErrors, FileError{FilePath: path, Err: fileErrs[i]})
			stats.FilesFailed++
			continue
		}
		stats.FilesProcessed++
		if cached[i] {
			stats.FilesCached++
		}
		if state.facts[i].HasSyntaxErrors {
			stats.FilesWithErrors++
		}
	}
	return nil
}

// extractFile reads, parses and extracts one file, consulting the cache.
func (b *Builder) extractFile(ctx context.Context, path string) (*extract.FileFacts, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading file: %w", err)
	}

	module := extract.ModuleName(path, b.options.ProjectRoot)
	key := module + "|" + path + "|" + ast.ContentHash(content)
	if b.cache != nil {
		if facts, ok := b.cache.Get(key); ok {
			return facts, true, nil
		}
	}

	tree, err := b.parser.Parse(ctx, content, path)
	if err != nil {
		return nil, false, fmt.Errorf("parsing file: %w", err)
	}
	defer tree.Close()

	facts, err := extract.Extract(ctx, tree.Root, path, module)
	if err != nil {
		return nil, false, err
	}
	facts.HasSyntaxErrors = tree.HasErrors

	if b.cache != nil {
		b.cache.Add(key, facts)
	}
	return facts, false, nil
}

// mergePhase adds every declaration and class to the graph in file order.
//
// Description:
//
//	The first definition of a qualified name wins, across files as within a
//	file. Call sites are collected here, unchanged; the facts themselves
//	may be shared with the cache and are never mutated.
func (b *Builder) mergePhase(ctx context.Context, state *buildState) error {
	stats := &state.result.Stats

	for _, facts := range state.facts {
		if facts == nil {
			continue
		}
		if _, exists := state.factsByModule[facts.Module]; exists {
			slog.Warn("module name shared by several files, keeping first import table",
				slog.String("module", facts.Module),
				slog.String("file", facts.FilePath))
		} else {
			state.factsByModule[facts.Module] = facts
		}
		stats.Duplicates += len(facts.Duplicates)

		for _, fn := range facts.Functions {
			decl := newDeclaration()
			decl.Name = fn.Name
			decl.QualifiedName = fn.QualifiedName
			decl.Module = facts.Module
			decl.FilePath = facts.FilePath
			decl.LineStart = fn.LineStart
			decl.LineEnd = fn.LineEnd
			decl.OwningClass = fn.OwningClass
			if len(fn.Assertions) > 0 {
				decl.Assertions = append([]string(nil), fn.Assertions...)
			}

			added, err := state.graph.addDeclaration(decl)
			if err != nil {
				return err
			}
			if !added {
				existing, _ := state.graph.Lookup(fn.QualifiedName)
				slog.Warn("duplicate declaration, keeping first",
					slog.String("qualified_name", fn.QualifiedName),
					slog.String("kept", existing.FilePath),
					slog.String("ignored", facts.FilePath))
				stats.Duplicates++
				continue
			}
			state.namesByModule[facts.Module] = append(state.namesByModule[facts.Module], fn.QualifiedName)
		}

		for _, cd := range facts.Classes {
			class := &Class{
				Name:          cd.Name,
				QualifiedName: cd.QualifiedName,
				Module:        facts.Module,
				FilePath:      facts.FilePath,
				LineStart:     cd.LineStart,
				LineEnd:       cd.LineEnd,
				Bases:         append([]string(nil), cd.Bases...),
			}
			if state.graph.addClass(class) {
				state.classesByName[cd.Name] = append(state.classesByName[cd.Name], cd.QualifiedName)
			}
		}

		for _, site := range facts.Calls {
			state.sites = append(state.sites, siteRef{facts: facts, site: site})
		}
	}

	for module := range state.namesByModule {
		sort.Strings(state.namesByModule[module])
	}
	state.sortedNames = state.graph.Names()
	stats.CallSites = len(state.sites)
	return nil
}
