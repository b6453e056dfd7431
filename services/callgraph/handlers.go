// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/index"
)

const (
	requestIDHeader = "X-Request-ID"

	defaultListLimit  = 500
	maxListLimit      = 10000
	defaultFocusDepth = 2
)

// Handlers serves the /v1/callgraph endpoints.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers over svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleInit handles POST /v1/callgraph/init.
//
// Description:
//
//	Builds the call graph of a project and caches it. Rate limited.
//
// Request Body:
//
//	InitRequest
//
// Response:
//
//	200 OK: InitResponse
//	400 Bad Request: Invalid body or project root
//	429 Too Many Requests: Init rate exceeded
//	500 Internal Server Error: Build failed
//	503 Service Unavailable: Project cache full
func (h *Handlers) HandleInit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleInit")

	if !h.svc.allowInit() {
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error: "init rate exceeded, retry later",
			Code:  "RATE_LIMITED",
		})
		return
	}

	var req InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "invalid request body: " + err.Error(),
			Code:  "INVALID_REQUEST",
		})
		return
	}

	cached, graphID, err := h.svc.Init(c.Request.Context(), req.ProjectRoot)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidProjectRoot):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_PROJECT_ROOT"})
		case errors.Is(err, ErrTooManyProjects):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "TOO_MANY_PROJECTS"})
		default:
			logger.Error("graph build failed", slog.String("project_root", req.ProjectRoot), slog.Any("error", err))
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "build failed: " + err.Error(), Code: "BUILD_FAILED"})
		}
		return
	}

	resp := InitResponse{
		GraphID:     graphID,
		ProjectRoot: cached.ProjectRoot,
		Stats:       cached.Stats,
		Graph:       cached.Graph.Stats(),
	}
	for _, fe := range cached.FileErrors {
		resp.FileErrors = append(resp.FileErrors, FileErrorInfo{FilePath: fe.FilePath, Error: fe.Err.Error()})
	}

	logger.Info("graph initialized",
		slog.String("graph_id", graphID),
		slog.Int("declarations", resp.Stats.Declarations),
		slog.Int("file_errors", len(resp.FileErrors)),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleDeclarations handles GET /v1/callgraph/declarations.
//
// Query Parameters:
//
//	graph_id / project_root: Graph selector (optional)
//	module: Only declarations of this module (optional)
//	file: Only declarations of this file (optional)
//	limit: Maximum results, default 500
//
// Response:
//
//	200 OK: DeclarationsResponse
//	404 Not Found: No graph
func (h *Handlers) HandleDeclarations(c *gin.Context) {
	cached, _, err := h.resolveGraph(c)
	if err != nil {
		return
	}

	module := c.Query("module")
	file := c.Query("file")
	limit := parseLimit(c, defaultListLimit)

	resp := DeclarationsResponse{Declarations: make([]DeclarationSummary, 0)}
	for _, d := range cached.Graph.Declarations() {
		if module != "" && d.Module != module {
			continue
		}
		if file != "" && d.FilePath != file {
			continue
		}
		resp.Total++
		if len(resp.Declarations) >= limit {
			resp.Truncated = true
			continue
		}
		resp.Declarations = append(resp.Declarations, summarize(d))
	}
	c.JSON(http.StatusOK, resp)
}

// HandleDeclaration handles GET /v1/callgraph/declaration.
//
// Query Parameters:
//
//	name: Qualified name (required)
//
// Response:
//
//	200 OK: DeclarationInfo
//	400 Bad Request: Missing name
//	404 Not Found: No graph or unknown name
func (h *Handlers) HandleDeclaration(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "name parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	cached, _, err := h.resolveGraph(c)
	if err != nil {
		return
	}

	d, ok := cached.Graph.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "declaration not found: " + name,
			Code:  "DECLARATION_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, DescribeDeclaration(cached.Graph, d))
}

// HandleSearch handles GET /v1/callgraph/search.
//
// Query Parameters:
//
//	q: Search text (required)
//	limit: Maximum results, default 50
func (h *Handlers) HandleSearch(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSearch")

	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "q parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	cached, _, err := h.resolveGraph(c)
	if err != nil {
		return
	}

	results, err := cached.Index.Search(c.Request.Context(), query, parseLimit(c, 50))
	if err != nil {
		logger.Warn("search aborted", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "SEARCH_ABORTED"})
		return
	}
	if results == nil {
		results = []index.SearchResult{}
	}
	c.JSON(http.StatusOK, SearchResponse{Query: query, Results: results})
}

// HandleEntryPoints handles GET /v1/callgraph/entry_points: declarations
// nothing in the project calls.
func (h *Handlers) HandleEntryPoints(c *gin.Context) {
	cached, _, err := h.resolveGraph(c)
	if err != nil {
		return
	}
	h.writeList(c, cached.Graph.EntryPoints())
}

// HandleLeaves handles GET /v1/callgraph/leaves: declarations that call
// nothing.
func (h *Handlers) HandleLeaves(c *gin.Context) {
	cached, _, err := h.resolveGraph(c)
	if err != nil {
		return
	}
	h.writeList(c, cached.Graph.LeafFunctions())
}

// HandleStructure handles GET /v1/callgraph/structure: declarations grouped
// by file, ordered by line.
func (h *Handlers) HandleStructure(c *gin.Context) {
	cached, _, err := h.resolveGraph(c)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, StructureResponse{
		ProjectRoot: cached.ProjectRoot,
		Files:       cached.Graph.ByFile(),
	})
}

// HandleFocus handles GET /v1/callgraph/focus.
//
// Query Parameters:
//
//	name: Qualified name at the center (required)
//	depth: Hops in each direction, 1 to 10, default 2
//
// Response:
//
//	200 OK: graph.FocusGraph
//	400 Bad Request: Missing name or bad depth
//	404 Not Found: No graph or unknown name
func (h *Handlers) HandleFocus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "name parameter is required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}
	depth := defaultFocusDepth
	if raw := c.Query("depth"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > graph.MaxFocusDepth {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "depth must be an integer between 1 and " + strconv.Itoa(graph.MaxFocusDepth),
				Code:  "INVALID_PARAMETER",
			})
			return
		}
		depth = parsed
	}

	cached, _, err := h.resolveGraph(c)
	if err != nil {
		return
	}

	fg, err := cached.Graph.Focus(name, depth)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "DECLARATION_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, fg)
}

// HandleHealth handles GET /v1/callgraph/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	ids := h.svc.GraphIDs()
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Graphs:    len(ids),
		GraphIDs:  ids,
		Snapshots: h.svc.snapshotMgr != nil,
	})
}

// DescribeDeclaration builds the full view of d, resolving the line spans of
// project call targets.
func DescribeDeclaration(g *graph.CallGraph, d *graph.Declaration) DeclarationInfo {
	info := DeclarationInfo{
		Name:          d.Name,
		QualifiedName: d.QualifiedName,
		Module:        d.Module,
		FilePath:      d.FilePath,
		LineStart:     d.LineStart,
		LineEnd:       d.LineEnd,
		OwningClass:   d.OwningClass,
		Assertions:    d.Assertions,
		Calls:         make([]CallInfo, 0, d.CallCount()),
		CalledBy:      d.CalledBy(),
	}
	for _, e := range d.Calls() {
		call := CallInfo{Target: e.Target, External: e.IsExternal()}
		if target, ok := g.Lookup(e.Target); ok && e.Resolved {
			call.LineStart = target.LineStart
			call.LineEnd = target.LineEnd
		}
		info.Calls = append(info.Calls, call)
	}
	if info.CalledBy == nil {
		info.CalledBy = []string{}
	}
	return info
}

func summarize(d *graph.Declaration) DeclarationSummary {
	return DeclarationSummary{
		QualifiedName: d.QualifiedName,
		FilePath:      d.FilePath,
		LineStart:     d.LineStart,
		LineEnd:       d.LineEnd,
		Calls:         d.CallCount(),
		CalledBy:      d.CalledByCount(),
	}
}

func (h *Handlers) writeList(c *gin.Context, decls []*graph.Declaration) {
	limit := parseLimit(c, defaultListLimit)
	resp := DeclarationsResponse{
		Declarations: make([]DeclarationSummary, 0, min(len(decls), limit)),
		Total:        len(decls),
	}
	for _, d := range decls {
		if len(resp.Declarations) >= limit {
			resp.Truncated = true
			break
		}
		resp.Declarations = append(resp.Declarations, summarize(d))
	}
	c.JSON(http.StatusOK, resp)
}

// resolveGraph resolves a CachedGraph from query params (graph_id or
// project_root), falling back to the first cached graph. Writes the error
// response on failure.
func (h *Handlers) resolveGraph(c *gin.Context) (*CachedGraph, string, error) {
	graphID := c.Query("graph_id")
	if graphID == "" {
		if projectRoot := c.Query("project_root"); projectRoot != "" {
			graphID = h.svc.generateGraphID(projectRoot)
		}
	}

	if graphID != "" {
		cached, err := h.svc.GetGraph(graphID)
		if err != nil {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "graph not found",
				Code:  "GRAPH_NOT_FOUND",
			})
			return nil, "", err
		}
		return cached, graphID, nil
	}

	cached := h.svc.getFirstGraph()
	if cached == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no graphs cached",
			Code:  "NO_GRAPHS",
		})
		return nil, "", ErrGraphNotInitialized
	}
	return cached, h.svc.generateGraphID(cached.ProjectRoot), nil
}

// getOrCreateRequestID returns the caller's request ID or a new one, and
// echoes it on the response.
func getOrCreateRequestID(c *gin.Context) string {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Header(requestIDHeader, id)
	return id
}

func parseLimit(c *gin.Context, def int) int {
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return min(parsed, maxListLimit)
		}
	}
	return def
}
