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
	"fmt"
	"sort"
)

// Declaration change types reported by DiffSnapshots.
const (
	ChangeMoved             = "moved"
	ChangeLinesChanged      = "lines_changed"
	ChangeCallsChanged      = "calls_changed"
	ChangeAssertionsChanged = "assertions_changed"
)

// SnapshotDiff contains the differences between two call graphs.
type SnapshotDiff struct {
	BaseSnapshotID   string `json:"base_snapshot_id"`
	TargetSnapshotID string `json:"target_snapshot_id"`

	// DeclarationsAdded are qualified names only in target.
	DeclarationsAdded []string `json:"declarations_added"`

	// DeclarationsRemoved are qualified names only in base.
	DeclarationsRemoved []string `json:"declarations_removed"`

	// DeclarationsModified are declarations present in both that changed.
	DeclarationsModified []DeclarationDiff `json:"declarations_modified"`

	// EdgesAdded are edges only in target.
	EdgesAdded []EdgeChange `json:"edges_added"`

	// EdgesRemoved are edges only in base.
	EdgesRemoved []EdgeChange `json:"edges_removed"`

	Summary DiffSummary `json:"summary"`
}

// DeclarationDiff describes how one declaration changed.
type DeclarationDiff struct {
	QualifiedName string `json:"qualified_name"`

	// ChangeType is the most significant change: moved, lines_changed,
	// calls_changed or assertions_changed.
	ChangeType string `json:"change_type"`
}

// EdgeChange is one call edge that appeared or disappeared.
type EdgeChange struct {
	Caller   string `json:"caller"`
	Target   string `json:"target"`
	Resolved bool   `json:"resolved"`
}

// DiffSummary contains aggregate statistics about a diff.
type DiffSummary struct {
	// TotalChanges counts added, removed and modified declarations plus
	// edge changes.
	TotalChanges int `json:"total_changes"`

	// FilesAffected is the number of distinct files with changed declarations.
	FilesAffected int `json:"files_affected"`

	// ChangeRatio is the fraction of declarations that changed (0.0 to 1.0).
	ChangeRatio float64 `json:"change_ratio"`
}

// DiffSnapshots computes the differences between two graphs.
//
// Description:
//
//	Declarations are matched by qualified name. A declaration whose
//	defining file changed is "moved"; a rename shows as remove plus add.
//	Edge changes are listed per caller, sorted.
//
// Complexity: O(V + E) plus sorting of the reported changes.
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func DiffSnapshots(base, target *CallGraph, baseSnapshotID, targetSnapshotID string) (*SnapshotDiff, error) {
	if base == nil {
		return nil, fmt.Errorf("base graph must not be nil")
	}
	if target == nil {
		return nil, fmt.Errorf("target graph must not be nil")
	}

	diff := &SnapshotDiff{
		BaseSnapshotID:       baseSnapshotID,
		TargetSnapshotID:     targetSnapshotID,
		DeclarationsAdded:    []string{},
		DeclarationsRemoved:  []string{},
		DeclarationsModified: []DeclarationDiff{},
		EdgesAdded:           []EdgeChange{},
		EdgesRemoved:         []EdgeChange{},
	}
	affectedFiles := make(map[string]bool)

	for qn, t := range target.declarations {
		b, exists := base.declarations[qn]
		if !exists {
			diff.DeclarationsAdded = append(diff.DeclarationsAdded, qn)
			affectedFiles[t.FilePath] = true
			for e := range t.calls {
				diff.EdgesAdded = append(diff.EdgesAdded, EdgeChange{Caller: qn, Target: e.Target, Resolved: e.Resolved})
			}
			continue
		}

		for e := range t.calls {
			if _, ok := b.calls[e]; !ok {
				diff.EdgesAdded = append(diff.EdgesAdded, EdgeChange{Caller: qn, Target: e.Target, Resolved: e.Resolved})
			}
		}
		for e := range b.calls {
			if _, ok := t.calls[e]; !ok {
				diff.EdgesRemoved = append(diff.EdgesRemoved, EdgeChange{Caller: qn, Target: e.Target, Resolved: e.Resolved})
			}
		}

		if change := classifyChange(b, t); change != "" {
			diff.DeclarationsModified = append(diff.DeclarationsModified, DeclarationDiff{
				QualifiedName: qn,
				ChangeType:    change,
			})
			affectedFiles[b.FilePath] = true
			affectedFiles[t.FilePath] = true
		}
	}

	for qn, b := range base.declarations {
		if _, exists := target.declarations[qn]; exists {
			continue
		}
		diff.DeclarationsRemoved = append(diff.DeclarationsRemoved, qn)
		affectedFiles[b.FilePath] = true
		for e := range b.calls {
			diff.EdgesRemoved = append(diff.EdgesRemoved, EdgeChange{Caller: qn, Target: e.Target, Resolved: e.Resolved})
		}
	}

	sort.Strings(diff.DeclarationsAdded)
	sort.Strings(diff.DeclarationsRemoved)
	sort.Slice(diff.DeclarationsModified, func(i, j int) bool {
		return diff.DeclarationsModified[i].QualifiedName < diff.DeclarationsModified[j].QualifiedName
	})
	sortEdgeChanges(diff.EdgesAdded)
	sortEdgeChanges(diff.EdgesRemoved)

	totalDecls := len(base.declarations)
	if len(target.declarations) > totalDecls {
		totalDecls = len(target.declarations)
	}
	changed := len(diff.DeclarationsAdded) + len(diff.DeclarationsRemoved) + len(diff.DeclarationsModified)
	ratio := 0.0
	if totalDecls > 0 {
		ratio = float64(changed) / float64(totalDecls)
	}

	diff.Summary = DiffSummary{
		TotalChanges:  changed + len(diff.EdgesAdded) + len(diff.EdgesRemoved),
		FilesAffected: len(affectedFiles),
		ChangeRatio:   ratio,
	}
	return diff, nil
}

// classifyChange returns the most significant change between two versions
// of a declaration, "" when they are the same.
func classifyChange(base, target *Declaration) string {
	switch {
	case base.FilePath != target.FilePath:
		return ChangeMoved
	case base.LineStart != target.LineStart || base.LineEnd != target.LineEnd:
		return ChangeLinesChanged
	case !sameEdges(base.calls, target.calls):
		return ChangeCallsChanged
	case !equalStrings(base.Assertions, target.Assertions):
		return ChangeAssertionsChanged
	default:
		return ""
	}
}

func sameEdges(a, b map[Edge]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for e := range a {
		if _, ok := b[e]; !ok {
			return false
		}
	}
	return true
}

func sortEdgeChanges(changes []EdgeChange) {
	sort.Slice(changes, func(i, j int) bool {
		a, b := changes[i], changes[j]
		if a.Caller != b.Caller {
			return a.Caller < b.Caller
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Resolved && !b.Resolved
	})
}
