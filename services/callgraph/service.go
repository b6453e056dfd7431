// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package callgraph serves Python project call graphs over HTTP.
package callgraph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/pycallgraph/services/callgraph/ast"
	"github.com/AleutianAI/pycallgraph/services/callgraph/config"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/index"
)

var (
	// ErrGraphNotInitialized is returned when no graph has been built yet.
	ErrGraphNotInitialized = errors.New("graph not initialized")

	// ErrGraphNotFound is returned for an unknown graph ID.
	ErrGraphNotFound = errors.New("graph not found")

	// ErrInvalidProjectRoot is returned when the root is not an absolute
	// directory.
	ErrInvalidProjectRoot = errors.New("invalid project root")

	// ErrTooManyProjects is returned when the project cache is full.
	ErrTooManyProjects = errors.New("too many cached projects")
)

// ServiceConfig configures the Service.
type ServiceConfig struct {
	// MaxProjects bounds the number of cached project graphs.
	MaxProjects int

	// BuildTimeout bounds one Init.
	BuildTimeout time.Duration

	// InitRatePerMinute limits Init calls across all clients.
	InitRatePerMinute int

	// Project supplies discovery and builder settings. Nil means each
	// project's own callgraph.yaml is loaded.
	Project *config.Config
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		MaxProjects:       16,
		BuildTimeout:      5 * time.Minute,
		InitRatePerMinute: config.DefaultInitRatePerMinute,
	}
}

// CachedGraph is a built graph and its search index.
type CachedGraph struct {
	Graph        *graph.CallGraph
	Index        *index.DeclarationIndex
	Stats        graph.BuildStats
	FileErrors   []graph.FileError
	ProjectRoot  string
	BuiltAtMilli int64
}

// Service owns built graphs keyed by project.
//
// Thread Safety: Safe for concurrent use.
type Service struct {
	config      ServiceConfig
	mu          sync.RWMutex
	graphs      map[string]*CachedGraph
	builders    map[string]*graph.Builder
	snapshotMgr *graph.SnapshotManager
	initLimiter *rate.Limiter
}

// NewService creates a Service. snapshotMgr may be nil, which disables the
// snapshot endpoints.
func NewService(cfg ServiceConfig, snapshotMgr *graph.SnapshotManager) *Service {
	if cfg.MaxProjects <= 0 {
		cfg.MaxProjects = DefaultServiceConfig().MaxProjects
	}
	if cfg.InitRatePerMinute <= 0 {
		cfg.InitRatePerMinute = config.DefaultInitRatePerMinute
	}
	return &Service{
		config:      cfg,
		graphs:      make(map[string]*CachedGraph),
		builders:    make(map[string]*graph.Builder),
		snapshotMgr: snapshotMgr,
		initLimiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.InitRatePerMinute)), cfg.InitRatePerMinute),
	}
}

// NewProjectBuilder creates a builder for root configured from cfg.
func NewProjectBuilder(root string, cfg *config.Config, extra ...graph.BuilderOption) *graph.Builder {
	if cfg == nil {
		cfg = config.Default()
	}
	opts := []graph.BuilderOption{
		graph.WithProjectRoot(root),
		graph.WithWorkerCount(cfg.Workers),
		graph.WithFactCache(cfg.FactCacheSize),
		graph.WithParser(ast.NewPythonParser(ast.WithPythonMaxFileSize(int64(cfg.MaxFileSize)))),
	}
	return graph.NewBuilder(append(opts, extra...)...)
}

// Init builds (or rebuilds) the graph of a project.
//
// Description:
//
//	Discovers the project's files and runs a fresh build. The project's
//	builder is kept between calls so unchanged files come from its fact
//	cache. The new graph replaces any previous one for the same root.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	projectRoot - Absolute path to an existing directory.
//
// Outputs:
//
//	*CachedGraph - The new graph.
//	string - The graph ID.
//	error - ErrInvalidProjectRoot, ErrTooManyProjects, or a build error.
func (s *Service) Init(ctx context.Context, projectRoot string) (*CachedGraph, string, error) {
	if !filepath.IsAbs(projectRoot) {
		return nil, "", fmt.Errorf("%w: %q is not absolute", ErrInvalidProjectRoot, projectRoot)
	}
	projectRoot = filepath.Clean(projectRoot)
	info, err := os.Stat(projectRoot)
	if err != nil || !info.IsDir() {
		return nil, "", fmt.Errorf("%w: %q is not a directory", ErrInvalidProjectRoot, projectRoot)
	}

	graphID := s.generateGraphID(projectRoot)

	s.mu.RLock()
	_, known := s.graphs[graphID]
	count := len(s.graphs)
	s.mu.RUnlock()
	if !known && count >= s.config.MaxProjects {
		return nil, "", fmt.Errorf("%w (max %d)", ErrTooManyProjects, s.config.MaxProjects)
	}

	cfg := s.config.Project
	if cfg == nil {
		if cfg, err = config.Load(projectRoot, ""); err != nil {
			return nil, "", err
		}
	}

	files, err := config.DiscoverFiles(projectRoot, cfg)
	if err != nil {
		return nil, "", err
	}

	if s.config.BuildTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.BuildTimeout)
		defer cancel()
	}

	result, err := s.builderFor(graphID, projectRoot, cfg).Build(ctx, files)
	if err != nil {
		return nil, "", err
	}

	cached := &CachedGraph{
		Graph:        result.Graph,
		Index:        index.NewDeclarationIndex(result.Graph),
		Stats:        result.Stats,
		FileErrors:   result.FileErrors,
		ProjectRoot:  projectRoot,
		BuiltAtMilli: result.Graph.BuiltAtMilli,
	}

	s.mu.Lock()
	s.graphs[graphID] = cached
	s.mu.Unlock()

	slog.Info("graph initialized",
		slog.String("graph_id", graphID),
		slog.String("project_root", projectRoot),
		slog.Int("files", result.Stats.FilesTotal),
		slog.Int("declarations", result.Stats.Declarations),
	)
	return cached, graphID, nil
}

func (s *Service) builderFor(graphID, projectRoot string, cfg *config.Config) *graph.Builder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.builders[graphID]; ok {
		return b
	}
	b := NewProjectBuilder(projectRoot, cfg)
	s.builders[graphID] = b
	return b
}

// GetGraph returns a cached graph by ID.
func (s *Service) GetGraph(graphID string) (*CachedGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cached, ok := s.graphs[graphID]
	if !ok {
		return nil, ErrGraphNotFound
	}
	return cached, nil
}

// GraphIDs returns the IDs of cached graphs, sorted.
func (s *Service) GraphIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.graphs))
	for id := range s.graphs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Put caches an already built graph, e.g. one loaded from a snapshot.
func (s *Service) Put(g *graph.CallGraph) string {
	graphID := s.generateGraphID(g.ProjectRoot)
	s.mu.Lock()
	s.graphs[graphID] = &CachedGraph{
		Graph:        g,
		Index:        index.NewDeclarationIndex(g),
		ProjectRoot:  g.ProjectRoot,
		BuiltAtMilli: g.BuiltAtMilli,
	}
	s.mu.Unlock()
	return graphID
}

// getFirstGraph returns the cached graph with the lowest ID, or nil.
func (s *Service) getFirstGraph() *CachedGraph {
	ids := s.GraphIDs()
	if len(ids) == 0 {
		return nil
	}
	cached, _ := s.GetGraph(ids[0])
	return cached
}

// allowInit reports whether an Init may run now.
func (s *Service) allowInit() bool {
	return s.initLimiter.Allow()
}

func (s *Service) generateGraphID(projectRoot string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(projectRoot)))
	return hex.EncodeToString(sum[:])[:16]
}
