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
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
	"github.com/AleutianAI/pycallgraph/services/callgraph/index"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// InitRequest is the body of POST /v1/callgraph/init.
type InitRequest struct {
	// ProjectRoot is the absolute path of the project to analyze.
	ProjectRoot string `json:"project_root" binding:"required"`
}

// InitResponse reports a finished build.
type InitResponse struct {
	GraphID     string           `json:"graph_id"`
	ProjectRoot string           `json:"project_root"`
	Stats       graph.BuildStats `json:"stats"`
	FileErrors  []FileErrorInfo  `json:"file_errors,omitempty"`
	Graph       graph.GraphStats `json:"graph"`
}

// FileErrorInfo is a skipped file.
type FileErrorInfo struct {
	FilePath string `json:"file_path"`
	Error    string `json:"error"`
}

// CallInfo is one outgoing call of a declaration, with the target's line
// span when it is a project declaration.
type CallInfo struct {
	Target    string `json:"target"`
	External  bool   `json:"external"`
	LineStart int    `json:"line_start,omitempty"`
	LineEnd   int    `json:"line_end,omitempty"`
}

// DeclarationInfo is the full view of one declaration.
type DeclarationInfo struct {
	Name          string     `json:"name"`
	QualifiedName string     `json:"qualified_name"`
	Module        string     `json:"module"`
	FilePath      string     `json:"file_path"`
	LineStart     int        `json:"line_start"`
	LineEnd       int        `json:"line_end"`
	OwningClass   string     `json:"owning_class,omitempty"`
	Assertions    []string   `json:"assertions,omitempty"`
	Calls         []CallInfo `json:"calls"`
	CalledBy      []string   `json:"called_by"`
}

// DeclarationSummary is the list view of one declaration.
type DeclarationSummary struct {
	QualifiedName string `json:"qualified_name"`
	FilePath      string `json:"file_path"`
	LineStart     int    `json:"line_start"`
	LineEnd       int    `json:"line_end"`
	Calls         int    `json:"calls"`
	CalledBy      int    `json:"called_by"`
}

// DeclarationsResponse lists declarations.
type DeclarationsResponse struct {
	Declarations []DeclarationSummary `json:"declarations"`
	Total        int                  `json:"total"`
	Truncated    bool                 `json:"truncated"`
}

// SearchResponse is the body of GET /v1/callgraph/search.
type SearchResponse struct {
	Query   string               `json:"query"`
	Results []index.SearchResult `json:"results"`
}

// StructureResponse is the per-file declaration listing.
type StructureResponse struct {
	ProjectRoot string                   `json:"project_root"`
	Files       []graph.FileDeclarations `json:"files"`
}

// HealthResponse is the body of GET /v1/callgraph/health.
type HealthResponse struct {
	Status    string   `json:"status"`
	Graphs    int      `json:"graphs"`
	GraphIDs  []string `json:"graph_ids"`
	Snapshots bool     `json:"snapshots"`
}

// SaveSnapshotRequest is the optional body of POST /v1/callgraph/snapshot.
type SaveSnapshotRequest struct {
	GraphID string `json:"graph_id,omitempty"`
	Label   string `json:"label,omitempty"`
}

// SaveSnapshotResponse reports a saved snapshot.
type SaveSnapshotResponse struct {
	SnapshotID       string `json:"snapshot_id"`
	GraphHash        string `json:"graph_hash"`
	DeclarationCount int    `json:"declaration_count"`
	EdgeCount        int    `json:"edge_count"`
	CompressedSize   int64  `json:"compressed_size"`
}

// ListSnapshotsResponse lists snapshot metadata, newest first.
type ListSnapshotsResponse struct {
	Snapshots []*graph.SnapshotMetadata `json:"snapshots"`
}

// SnapshotDiffResponse wraps a snapshot diff.
type SnapshotDiffResponse struct {
	Diff *graph.SnapshotDiff `json:"diff"`
}
