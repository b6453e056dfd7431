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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for graph operations.
var (
	// ErrInvariantViolation indicates an engine defect: the graph reached a
	// state that correct extraction and resolution can never produce.
	ErrInvariantViolation = errors.New("call graph invariant violated")

	// ErrDeclarationNotFound is returned by queries for unknown names.
	ErrDeclarationNotFound = errors.New("declaration not found")
)

// MaxFocusDepth bounds Focus traversals.
const MaxFocusDepth = 10

// Edge is one outgoing call of a declaration.
//
// A resolved edge targets the qualified name of a declaration in the same
// graph. An unresolved edge keeps the raw callee text and marks a call into
// code outside the project (or code the heuristics could not place).
type Edge struct {
	Target   string `json:"target"`
	Resolved bool   `json:"resolved"`
}

// ResolvedEdge creates an edge to a known declaration.
func ResolvedEdge(qualifiedName string) Edge {
	return Edge{Target: qualifiedName, Resolved: true}
}

// UnresolvedEdge creates an external edge carrying the raw callee.
func UnresolvedEdge(raw string) Edge {
	return Edge{Target: raw}
}

// IsExternal reports whether the edge leaves the resolved project graph.
func (e Edge) IsExternal() bool {
	return !e.Resolved
}

// String renders the edge, suffixing external targets.
func (e Edge) String() string {
	if e.Resolved {
		return e.Target
	}
	return e.Target + " (external)"
}

// sortEdges orders edges by target, resolved before external on ties.
func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Resolved && !edges[j].Resolved
	})
}

// Declaration is one function or method definition.
//
// Description:
//
//	Created once while merging per-file facts. Its edge sets are only
//	written by the resolve and link phases of the build that created it and
//	only ever grow. After the graph is frozen a Declaration is read-only.
//
// Thread Safety: Safe for concurrent reads once the owning graph is frozen.
type Declaration struct {
	// Name is the bare function name.
	Name string `json:"name"`

	// QualifiedName is module[.Class].name, unique across the graph.
	QualifiedName string `json:"qualified_name"`

	// Module is the dotted module identifier of the defining file.
	Module string `json:"module"`

	// FilePath is the path of the defining file.
	FilePath string `json:"file_path"`

	// LineStart is the 1-based first line of the definition.
	LineStart int `json:"line_start"`

	// LineEnd is the 1-based last line of the definition.
	LineEnd int `json:"line_end"`

	// OwningClass is the bare name of the enclosing class, "" when none.
	OwningClass string `json:"owning_class,omitempty"`

	// Assertions holds the text of assert statements in the body, in
	// source order. Display only.
	Assertions []string `json:"assertions,omitempty"`

	calls    map[Edge]struct{}
	calledBy map[string]struct{}
}

func newDeclaration() *Declaration {
	return &Declaration{
		calls:    make(map[Edge]struct{}),
		calledBy: make(map[string]struct{}),
	}
}

// Calls returns the outgoing edges, sorted.
func (d *Declaration) Calls() []Edge {
	out := make([]Edge, 0, len(d.calls))
	for e := range d.calls {
		out = append(out, e)
	}
	sortEdges(out)
	return out
}

// CalledBy returns the qualified names of resolved callers, sorted.
func (d *Declaration) CalledBy() []string {
	return sortedKeys(d.calledBy)
}

// HasCall reports whether e is among the outgoing edges.
func (d *Declaration) HasCall(e Edge) bool {
	_, ok := d.calls[e]
	return ok
}

// IsCalledBy reports whether caller has a resolved edge to d.
func (d *Declaration) IsCalledBy(caller string) bool {
	_, ok := d.calledBy[caller]
	return ok
}

// CallCount returns the number of outgoing edges.
func (d *Declaration) CallCount() int { return len(d.calls) }

// CalledByCount returns the number of distinct resolved callers.
func (d *Declaration) CalledByCount() int { return len(d.calledBy) }

// Class is a class definition known to the graph.
type Class struct {
	// Name is the bare class name.
	Name string `json:"name"`

	// QualifiedName is module.Class.
	QualifiedName string `json:"qualified_name"`

	Module    string `json:"module"`
	FilePath  string `json:"file_path"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`

	// Bases are the base-class expressions as written.
	Bases []string `json:"bases,omitempty"`

	// ResolvedBases are Bases turned into class paths by the bind phase.
	// A base outside the project keeps its import-substituted text.
	ResolvedBases []string `json:"resolved_bases,omitempty"`
}

// CallGraph is the project-wide call graph produced by a build.
//
// Description:
//
//	Keyed by qualified name. Built in one pass by Builder and frozen before
//	it is returned. A new build always produces a new CallGraph; existing
//	graphs are never updated in place.
//
// Thread Safety:
//
//	Not safe for concurrent mutation while building. Safe for concurrent
//	reads after Freeze.
type CallGraph struct {
	// ProjectRoot is the root the module names are relative to.
	ProjectRoot string

	// BuiltAtMilli is the Unix timestamp in milliseconds when the graph
	// was frozen.
	BuiltAtMilli int64

	declarations map[string]*Declaration
	classes      map[string]*Class

	// names is the sorted key set, filled by Freeze.
	names  []string
	frozen bool
}

// NewCallGraph creates an empty graph in building state.
func NewCallGraph(projectRoot string) *CallGraph {
	return &CallGraph{
		ProjectRoot:  projectRoot,
		declarations: make(map[string]*Declaration),
		classes:      make(map[string]*Class),
	}
}

// addDeclaration inserts d unless its name is taken. It reports whether d
// was inserted.
func (g *CallGraph) addDeclaration(d *Declaration) (bool, error) {
	if g.frozen {
		return false, fmt.Errorf("%w: adding %s to frozen graph", ErrInvariantViolation, d.QualifiedName)
	}
	if d.QualifiedName == "" {
		return false, fmt.Errorf("%w: declaration without qualified name in %s", ErrInvariantViolation, d.FilePath)
	}
	if _, exists := g.declarations[d.QualifiedName]; exists {
		return false, nil
	}
	if d.calls == nil {
		d.calls = make(map[Edge]struct{})
	}
	if d.calledBy == nil {
		d.calledBy = make(map[string]struct{})
	}
	g.declarations[d.QualifiedName] = d
	return true, nil
}

// addClass inserts c unless its name is taken.
func (g *CallGraph) addClass(c *Class) bool {
	if _, exists := g.classes[c.QualifiedName]; exists {
		return false
	}
	g.classes[c.QualifiedName] = c
	return true
}

// addEdge records that caller calls e, and the reciprocal called-by entry
// for resolved edges. It reports whether the edge is new.
func (g *CallGraph) addEdge(caller string, e Edge) (bool, error) {
	if g.frozen {
		return false, fmt.Errorf("%w: adding edge from %s to frozen graph", ErrInvariantViolation, caller)
	}
	from, ok := g.declarations[caller]
	if !ok {
		return false, fmt.Errorf("%w: caller %q is not declared", ErrInvariantViolation, caller)
	}
	var to *Declaration
	if e.Resolved {
		to, ok = g.declarations[e.Target]
		if !ok {
			return false, fmt.Errorf("%w: resolved target %q of %s is not declared", ErrInvariantViolation, e.Target, caller)
		}
	}
	if _, exists := from.calls[e]; exists {
		return false, nil
	}
	from.calls[e] = struct{}{}
	if to != nil {
		to.calledBy[caller] = struct{}{}
	}
	return true, nil
}

// Freeze makes the graph read-only and stamps the build time.
func (g *CallGraph) Freeze() {
	if g.frozen {
		return
	}
	g.names = sortedKeys(g.declarations)
	g.BuiltAtMilli = time.Now().UnixMilli()
	g.frozen = true
}

// IsFrozen reports whether the graph is read-only.
func (g *CallGraph) IsFrozen() bool {
	return g.frozen
}

// Lookup returns the declaration with the given qualified name.
func (g *CallGraph) Lookup(qualifiedName string) (*Declaration, bool) {
	d, ok := g.declarations[qualifiedName]
	return d, ok
}

// Len returns the number of declarations.
func (g *CallGraph) Len() int {
	return len(g.declarations)
}

// Names returns all qualified names, sorted.
func (g *CallGraph) Names() []string {
	if g.frozen {
		out := make([]string, len(g.names))
		copy(out, g.names)
		return out
	}
	return sortedKeys(g.declarations)
}

// Declarations returns all declarations sorted by qualified name.
func (g *CallGraph) Declarations() []*Declaration {
	names := g.sortedNames()
	out := make([]*Declaration, 0, len(names))
	for _, name := range names {
		out = append(out, g.declarations[name])
	}
	return out
}

// Calls returns the sorted outgoing edges of qualifiedName.
func (g *CallGraph) Calls(qualifiedName string) ([]Edge, error) {
	d, ok := g.declarations[qualifiedName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeclarationNotFound, qualifiedName)
	}
	return d.Calls(), nil
}

// CalledBy returns the sorted callers of qualifiedName.
func (g *CallGraph) CalledBy(qualifiedName string) ([]string, error) {
	d, ok := g.declarations[qualifiedName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeclarationNotFound, qualifiedName)
	}
	return d.CalledBy(), nil
}

// EntryPoints returns declarations nothing in the project calls.
func (g *CallGraph) EntryPoints() []*Declaration {
	var out []*Declaration
	for _, name := range g.sortedNames() {
		if d := g.declarations[name]; len(d.calledBy) == 0 {
			out = append(out, d)
		}
	}
	return out
}

// LeafFunctions returns declarations that call nothing.
func (g *CallGraph) LeafFunctions() []*Declaration {
	var out []*Declaration
	for _, name := range g.sortedNames() {
		if d := g.declarations[name]; len(d.calls) == 0 {
			out = append(out, d)
		}
	}
	return out
}

// FileDeclarations groups the declarations of one file.
type FileDeclarations struct {
	FilePath     string         `json:"file_path"`
	Module       string         `json:"module"`
	Declarations []*Declaration `json:"declarations"`
}

// ByFile returns declarations grouped by file. Files are sorted by path and
// declarations within a file by line.
func (g *CallGraph) ByFile() []FileDeclarations {
	byPath := make(map[string]*FileDeclarations)
	for _, d := range g.declarations {
		fd, ok := byPath[d.FilePath]
		if !ok {
			fd = &FileDeclarations{FilePath: d.FilePath, Module: d.Module}
			byPath[d.FilePath] = fd
		}
		fd.Declarations = append(fd.Declarations, d)
	}

	out := make([]FileDeclarations, 0, len(byPath))
	for _, path := range sortedKeys(byPath) {
		fd := byPath[path]
		sort.Slice(fd.Declarations, func(i, j int) bool {
			a, b := fd.Declarations[i], fd.Declarations[j]
			if a.LineStart != b.LineStart {
				return a.LineStart < b.LineStart
			}
			return a.QualifiedName < b.QualifiedName
		})
		out = append(out, *fd)
	}
	return out
}

// Class returns the class with the given qualified name.
func (g *CallGraph) Class(qualifiedName string) (*Class, bool) {
	c, ok := g.classes[qualifiedName]
	return c, ok
}

// Classes returns all classes sorted by qualified name.
func (g *CallGraph) Classes() []*Class {
	out := make([]*Class, 0, len(g.classes))
	for _, name := range sortedKeys(g.classes) {
		out = append(out, g.classes[name])
	}
	return out
}

// FocusNode is one declaration (or external target) in a focus subgraph.
type FocusNode struct {
	Name     string `json:"name"`
	Distance int    `json:"distance"`
	External bool   `json:"external,omitempty"`
}

// FocusEdge is one call inside a focus subgraph.
type FocusEdge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Resolved bool   `json:"resolved"`
}

// FocusGraph is the neighbourhood of one declaration.
type FocusGraph struct {
	Center string      `json:"center"`
	Depth  int         `json:"depth"`
	Nodes  []FocusNode `json:"nodes"`
	Edges  []FocusEdge `json:"edges"`
}

// Focus returns the callers and callees of qualifiedName within depth hops.
//
// Description:
//
//	Breadth-first in both directions. External targets are included as
//	leaf nodes and never expanded. depth is clamped to [1, MaxFocusDepth].
//	Nodes are sorted by distance then name; edges by endpoints.
//
// Outputs:
//
//	*FocusGraph - The subgraph.
//	error - ErrDeclarationNotFound for an unknown name.
func (g *CallGraph) Focus(qualifiedName string, depth int) (*FocusGraph, error) {
	if _, ok := g.declarations[qualifiedName]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeclarationNotFound, qualifiedName)
	}
	if depth < 1 {
		depth = 1
	}
	if depth > MaxFocusDepth {
		depth = MaxFocusDepth
	}

	type nodeKey struct {
		name     string
		external bool
	}
	distance := map[nodeKey]int{{name: qualifiedName}: 0}
	edges := make(map[FocusEdge]struct{})
	queue := []string{qualifiedName}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		d := distance[nodeKey{name: name}]
		if d >= depth {
			continue
		}
		decl := g.declarations[name]

		for e := range decl.calls {
			key := nodeKey{name: e.Target, external: !e.Resolved}
			edges[FocusEdge{From: name, To: e.Target, Resolved: e.Resolved}] = struct{}{}
			if _, seen := distance[key]; seen {
				continue
			}
			distance[key] = d + 1
			if e.Resolved {
				queue = append(queue, e.Target)
			}
		}
		for caller := range decl.calledBy {
			key := nodeKey{name: caller}
			edges[FocusEdge{From: caller, To: name, Resolved: true}] = struct{}{}
			if _, seen := distance[key]; seen {
				continue
			}
			distance[key] = d + 1
			queue = append(queue, caller)
		}
	}

	fg := &FocusGraph{
		Center: qualifiedName,
		Depth:  depth,
		Nodes:  make([]FocusNode, 0, len(distance)),
		Edges:  make([]FocusEdge, 0, len(edges)),
	}
	for key, d := range distance {
		fg.Nodes = append(fg.Nodes, FocusNode{Name: key.name, Distance: d, External: key.external})
	}
	sort.Slice(fg.Nodes, func(i, j int) bool {
		a, b := fg.Nodes[i], fg.Nodes[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return !a.External && b.External
	})
	for e := range edges {
		fg.Edges = append(fg.Edges, e)
	}
	sort.Slice(fg.Edges, func(i, j int) bool {
		a, b := fg.Edges[i], fg.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Resolved && !b.Resolved
	})
	return fg, nil
}

// GraphStats summarizes a graph.
type GraphStats struct {
	Declarations    int `json:"declarations"`
	Classes         int `json:"classes"`
	Files           int `json:"files"`
	ResolvedEdges   int `json:"resolved_edges"`
	UnresolvedEdges int `json:"unresolved_edges"`
	EntryPoints     int `json:"entry_points"`
	LeafFunctions   int `json:"leaf_functions"`
}

// Stats computes summary counts.
func (g *CallGraph) Stats() GraphStats {
	stats := GraphStats{
		Declarations: len(g.declarations),
		Classes:      len(g.classes),
	}
	files := make(map[string]struct{})
	for _, d := range g.declarations {
		files[d.FilePath] = struct{}{}
		for e := range d.calls {
			if e.Resolved {
				stats.ResolvedEdges++
			} else {
				stats.UnresolvedEdges++
			}
		}
		if len(d.calledBy) == 0 {
			stats.EntryPoints++
		}
		if len(d.calls) == 0 {
			stats.LeafFunctions++
		}
	}
	stats.Files = len(files)
	return stats
}

// EdgeCount returns the total number of outgoing edges.
func (g *CallGraph) EdgeCount() int {
	n := 0
	for _, d := range g.declarations {
		n += len(d.calls)
	}
	return n
}

// Hash returns a deterministic digest of declarations and edge sets.
//
// Two graphs built from the same files hash equal. The build time is not
// part of the hash.
func (g *CallGraph) Hash() string {
	h := sha256.New()
	for _, name := range g.sortedNames() {
		d := g.declarations[name]
		h.Write([]byte(d.QualifiedName))
		h.Write([]byte{0})
		h.Write([]byte(d.FilePath))
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(d.LineStart) + ":" + strconv.Itoa(d.LineEnd)))
		h.Write([]byte{0})
		for _, e := range d.Calls() {
			h.Write([]byte(e.Target))
			if e.Resolved {
				h.Write([]byte{1})
			} else {
				h.Write([]byte{2})
			}
		}
		h.Write([]byte{0})
		h.Write([]byte(strings.Join(d.CalledBy(), ",")))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal reports whether both graphs hold the same declarations with the same
// spans, assertions and edge sets.
func (g *CallGraph) Equal(other *CallGraph) bool {
	if g == nil || other == nil {
		return g == other
	}
	if len(g.declarations) != len(other.declarations) {
		return false
	}
	for name, a := range g.declarations {
		b, ok := other.declarations[name]
		if !ok || !declarationsEqual(a, b) {
			return false
		}
	}
	return true
}

func declarationsEqual(a, b *Declaration) bool {
	if a.Name != b.Name || a.Module != b.Module || a.FilePath != b.FilePath ||
		a.LineStart != b.LineStart || a.LineEnd != b.LineEnd || a.OwningClass != b.OwningClass {
		return false
	}
	if len(a.Assertions) != len(b.Assertions) {
		return false
	}
	for i := range a.Assertions {
		if a.Assertions[i] != b.Assertions[i] {
			return false
		}
	}
	if len(a.calls) != len(b.calls) || len(a.calledBy) != len(b.calledBy) {
		return false
	}
	for e := range a.calls {
		if _, ok := b.calls[e]; !ok {
			return false
		}
	}
	for c := range a.calledBy {
		if _, ok := b.calledBy[c]; !ok {
			return false
		}
	}
	return true
}

func (g *CallGraph) sortedNames() []string {
	if g.frozen {
		return g.names
	}
	return sortedKeys(g.declarations)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
