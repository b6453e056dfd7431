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

// GraphSchemaVersion is the version of the serialization schema.
// Increment when the serialization format changes in a breaking way.
const GraphSchemaVersion = "1.0"

// SerializableGraph is the JSON-serializable representation of a CallGraph.
//
// Declarations and classes are sorted by qualified name and every edge list
// is sorted, so equal graphs serialize to identical bytes apart from the
// build time.
type SerializableGraph struct {
	// SchemaVersion identifies the serialization format version.
	SchemaVersion string `json:"schema_version"`

	// ProjectRoot is the root the module names are relative to.
	ProjectRoot string `json:"project_root"`

	// BuiltAtMilli is the Unix timestamp in milliseconds when the graph was frozen.
	BuiltAtMilli int64 `json:"built_at_milli"`

	// GraphHash is CallGraph.Hash of the serialized graph.
	GraphHash string `json:"graph_hash"`

	Declarations []SerializableDeclaration `json:"declarations"`
	Classes      []*Class                  `json:"classes"`
}

// SerializableDeclaration is a Declaration with its edge sets spelled out.
type SerializableDeclaration struct {
	Name          string   `json:"name"`
	QualifiedName string   `json:"qualified_name"`
	Module        string   `json:"module"`
	FilePath      string   `json:"file_path"`
	LineStart     int      `json:"line_start"`
	LineEnd       int      `json:"line_end"`
	OwningClass   string   `json:"owning_class,omitempty"`
	Assertions    []string `json:"assertions,omitempty"`
	Calls         []Edge   `json:"calls"`
	CalledBy      []string `json:"called_by"`
}

// ToSerializable converts the graph to its JSON-serializable form.
//
// Thread Safety: Safe for concurrent use on frozen graphs.
func (g *CallGraph) ToSerializable() *SerializableGraph {
	if g == nil {
		return &SerializableGraph{
			SchemaVersion: GraphSchemaVersion,
			Declarations:  []SerializableDeclaration{},
			Classes:       []*Class{},
		}
	}

	decls := make([]SerializableDeclaration, 0, len(g.declarations))
	for _, d := range g.Declarations() {
		decls = append(decls, SerializableDeclaration{
			Name:          d.Name,
			QualifiedName: d.QualifiedName,
			Module:        d.Module,
			FilePath:      d.FilePath,
			LineStart:     d.LineStart,
			LineEnd:       d.LineEnd,
			OwningClass:   d.OwningClass,
			Assertions:    d.Assertions,
			Calls:         d.Calls(),
			CalledBy:      d.CalledBy(),
		})
	}

	return &SerializableGraph{
		SchemaVersion: GraphSchemaVersion,
		ProjectRoot:   g.ProjectRoot,
		BuiltAtMilli:  g.BuiltAtMilli,
		GraphHash:     g.Hash(),
		Declarations:  decls,
		Classes:       g.Classes(),
	}
}

// FromSerializable reconstructs a frozen CallGraph.
//
// Description:
//
//	Adds every declaration, then replays every outgoing edge through the
//	same path the builder uses, which rebuilds the called-by sets. The
//	rebuilt called-by sets and the graph hash must match the serialized
//	ones; a mismatch means the input was edited or corrupted.
//
// Errors:
//
//	Returns error if sg is nil, the schema version is unsupported, a
//	qualified name repeats, an edge targets an unknown declaration, or the
//	rebuilt graph does not match the serialized called-by sets or hash.
func FromSerializable(sg *SerializableGraph) (*CallGraph, error) {
	if sg == nil {
		return nil, fmt.Errorf("serializable graph must not be nil")
	}
	if sg.SchemaVersion != GraphSchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %q (expected %q)", sg.SchemaVersion, GraphSchemaVersion)
	}

	g := NewCallGraph(sg.ProjectRoot)

	for i, sd := range sg.Declarations {
		decl := newDeclaration()
		decl.Name = sd.Name
		decl.QualifiedName = sd.QualifiedName
		decl.Module = sd.Module
		decl.FilePath = sd.FilePath
		decl.LineStart = sd.LineStart
		decl.LineEnd = sd.LineEnd
		decl.OwningClass = sd.OwningClass
		decl.Assertions = sd.Assertions

		added, err := g.addDeclaration(decl)
		if err != nil {
			return nil, fmt.Errorf("adding declaration %d: %w", i, err)
		}
		if !added {
			return nil, fmt.Errorf("duplicate declaration %s at index %d", sd.QualifiedName, i)
		}
	}

	for _, c := range sg.Classes {
		if c == nil {
			continue
		}
		class := *c
		g.addClass(&class)
	}

	for _, sd := range sg.Declarations {
		for _, e := range sd.Calls {
			if _, err := g.addEdge(sd.QualifiedName, e); err != nil {
				return nil, fmt.Errorf("adding edge %s -> %s: %w", sd.QualifiedName, e.Target, err)
			}
		}
	}

	for _, sd := range sg.Declarations {
		want := append([]string(nil), sd.CalledBy...)
		sort.Strings(want)
		got := g.declarations[sd.QualifiedName].CalledBy()
		if !equalStrings(want, got) {
			return nil, fmt.Errorf("called_by of %s does not match its callers' edges", sd.QualifiedName)
		}
	}

	g.Freeze()
	g.BuiltAtMilli = sg.BuiltAtMilli

	if sg.GraphHash != "" {
		if hash := g.Hash(); hash != sg.GraphHash {
			return nil, fmt.Errorf("graph hash mismatch: expected %s, got %s", sg.GraphHash, hash)
		}
	}

	return g, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
