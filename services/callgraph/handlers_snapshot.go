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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

// LoadSnapshotResponse reports a loaded snapshot.
type LoadSnapshotResponse struct {
	Metadata  *graph.SnapshotMetadata `json:"metadata"`
	GraphID   string                  `json:"graph_id,omitempty"`
	Graph     graph.GraphStats        `json:"graph"`
	GraphHash string                  `json:"graph_hash"`
}

// HandleExportGraph handles GET /v1/callgraph/export.
//
// Description:
//
//	Streams the graph as a SerializableGraph JSON download.
//
// Response:
//
//	200 OK: SerializableGraph (Content-Disposition: attachment)
//	404 Not Found: No graph
func (h *Handlers) HandleExportGraph(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleExportGraph")

	cached, graphID, err := h.resolveGraph(c)
	if err != nil {
		return
	}

	sg := cached.Graph.ToSerializable()
	logger.Info("exporting graph",
		slog.String("graph_id", graphID),
		slog.Int("declarations", len(sg.Declarations)),
	)

	c.Header("Content-Disposition", "attachment; filename=callgraph_"+graphID+".json")
	c.Header("Content-Type", "application/json")

	encoder := json.NewEncoder(c.Writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(sg); err != nil {
		// Headers are already sent.
		logger.Error("failed to encode graph", slog.Any("error", err))
	}
}

// HandleSaveSnapshot handles POST /v1/callgraph/snapshot.
//
// Request Body:
//
//	SaveSnapshotRequest (all fields optional)
//
// Response:
//
//	200 OK: SaveSnapshotResponse
//	404 Not Found: Graph not found
//	500 Internal Server Error: Save failed
//	503 Service Unavailable: Snapshots not configured
func (h *Handlers) HandleSaveSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleSaveSnapshot")

	if !h.requireSnapshots(c) {
		return
	}

	var req SaveSnapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		req = SaveSnapshotRequest{}
	}

	var cached *CachedGraph
	if req.GraphID != "" {
		var err error
		if cached, err = h.svc.GetGraph(req.GraphID); err != nil {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "graph not found",
				Code:  "GRAPH_NOT_FOUND",
			})
			return
		}
	} else if cached = h.svc.getFirstGraph(); cached == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "no graphs cached",
			Code:  "NO_GRAPHS",
		})
		return
	}

	meta, err := h.svc.snapshotMgr.Save(c.Request.Context(), cached.Graph, req.Label)
	if err != nil {
		logger.Error("snapshot save failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to save snapshot: " + err.Error(),
			Code:  "SNAPSHOT_SAVE_FAILED",
		})
		return
	}

	logger.Info("snapshot saved",
		slog.String("snapshot_id", meta.SnapshotID),
		slog.Int("declaration_count", meta.DeclarationCount),
	)
	c.JSON(http.StatusOK, SaveSnapshotResponse{
		SnapshotID:       meta.SnapshotID,
		GraphHash:        meta.GraphHash,
		DeclarationCount: meta.DeclarationCount,
		EdgeCount:        meta.EdgeCount,
		CompressedSize:   meta.CompressedSize,
	})
}

// HandleListSnapshots handles GET /v1/callgraph/snapshots.
//
// Query Parameters:
//
//	project_root: Only snapshots of this project (optional)
//	limit: Maximum results, default 100
func (h *Handlers) HandleListSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleListSnapshots")

	if !h.requireSnapshots(c) {
		return
	}

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	projectHash := ""
	if root := c.Query("project_root"); root != "" {
		projectHash = graph.ProjectHash(root)
	}

	snapshots, err := h.svc.snapshotMgr.List(c.Request.Context(), projectHash, limit)
	if err != nil {
		logger.Error("failed to list snapshots", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "failed to list snapshots: " + err.Error(),
			Code:  "SNAPSHOT_LIST_FAILED",
		})
		return
	}
	if snapshots == nil {
		snapshots = []*graph.SnapshotMetadata{}
	}
	c.JSON(http.StatusOK, ListSnapshotsResponse{Snapshots: snapshots})
}

// HandleLoadSnapshot handles GET /v1/callgraph/snapshot/:id.
//
// Description:
//
//	Loads a snapshot and reports its metadata and statistics. With
//	activate=true the loaded graph also replaces the cached graph of its
//	project, so queries can run against a past build.
func (h *Handlers) HandleLoadSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleLoadSnapshot")

	if !h.requireSnapshots(c) {
		return
	}

	snapshotID := c.Param("id")
	g, meta, err := h.svc.snapshotMgr.Load(c.Request.Context(), snapshotID)
	if err != nil {
		h.writeSnapshotError(c, "snapshot", err)
		return
	}

	resp := LoadSnapshotResponse{
		Metadata:  meta,
		Graph:     g.Stats(),
		GraphHash: g.Hash(),
	}
	if c.Query("activate") == "true" {
		resp.GraphID = h.svc.Put(g)
	}

	logger.Info("snapshot loaded",
		slog.String("snapshot_id", snapshotID),
		slog.Bool("activated", resp.GraphID != ""),
	)
	c.JSON(http.StatusOK, resp)
}

// HandleDeleteSnapshot handles DELETE /v1/callgraph/snapshot/:id.
func (h *Handlers) HandleDeleteSnapshot(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDeleteSnapshot")

	if !h.requireSnapshots(c) {
		return
	}

	snapshotID := c.Param("id")
	if err := h.svc.snapshotMgr.Delete(c.Request.Context(), snapshotID); err != nil {
		h.writeSnapshotError(c, "snapshot", err)
		return
	}

	logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// HandleDiffSnapshots handles GET /v1/callgraph/snapshot/diff.
//
// Query Parameters:
//
//	base: Base snapshot ID (required)
//	target: Target snapshot ID (required)
//
// Response:
//
//	200 OK: SnapshotDiffResponse
//	400 Bad Request: Missing parameters
//	404 Not Found: Snapshot not found
//	503 Service Unavailable: Snapshots not configured
func (h *Handlers) HandleDiffSnapshots(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleDiffSnapshots")

	if !h.requireSnapshots(c) {
		return
	}

	baseID := c.Query("base")
	targetID := c.Query("target")
	if baseID == "" || targetID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "both 'base' and 'target' parameters are required",
			Code:  "MISSING_PARAMETER",
		})
		return
	}

	baseGraph, _, err := h.svc.snapshotMgr.Load(c.Request.Context(), baseID)
	if err != nil {
		h.writeSnapshotError(c, "base snapshot", err)
		return
	}
	targetGraph, _, err := h.svc.snapshotMgr.Load(c.Request.Context(), targetID)
	if err != nil {
		h.writeSnapshotError(c, "target snapshot", err)
		return
	}

	diff, err := graph.DiffSnapshots(baseGraph, targetGraph, baseID, targetID)
	if err != nil {
		logger.Error("diff failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "diff computation failed: " + err.Error(),
			Code:  "DIFF_FAILED",
		})
		return
	}

	logger.Info("snapshot diff computed",
		slog.String("base", baseID),
		slog.String("target", targetID),
		slog.Int("total_changes", diff.Summary.TotalChanges),
	)
	c.JSON(http.StatusOK, SnapshotDiffResponse{Diff: diff})
}

func (h *Handlers) requireSnapshots(c *gin.Context) bool {
	if h.svc.snapshotMgr == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "snapshot persistence not configured",
			Code:  "SNAPSHOTS_NOT_AVAILABLE",
		})
		return false
	}
	return true
}

func (h *Handlers) writeSnapshotError(c *gin.Context, what string, err error) {
	if errors.Is(err, graph.ErrSnapshotNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: what + " not found: " + err.Error(),
			Code:  "SNAPSHOT_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: what + ": " + err.Error(),
		Code:  "SNAPSHOT_FAILED",
	})
}
