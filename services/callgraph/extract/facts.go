// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"sort"
	"strings"
	"unicode"
)

// WildcardAlias is the reserved alias under which star imports are stored.
const WildcardAlias = "*"

// FuncDecl is one function or method definition found in a file.
type FuncDecl struct {
	// Name is the bare identifier from the def statement.
	Name string `json:"name"`

	// QualifiedName is module[.Class].name.
	QualifiedName string `json:"qualified_name"`

	// OwningClass is the innermost enclosing class name, empty for functions.
	OwningClass string `json:"owning_class,omitempty"`

	// LineStart and LineEnd are the 1-based span of the def statement.
	LineStart int `json:"line_start"`
	LineEnd   int `json:"line_end"`

	// Assertions holds the verbatim text of assert statements in the body,
	// in source order.
	Assertions []string `json:"assertions,omitempty"`
}

// ClassDecl is one class definition found in a file.
type ClassDecl struct {
	// Name is the bare class name.
	Name string `json:"name"`

	// QualifiedName is module.Class.
	QualifiedName string `json:"qualified_name"`

	// Bases holds the base-class expressions as written.
	Bases []string `json:"bases,omitempty"`

	LineStart int `json:"line_start"`
	LineEnd   int `json:"line_end"`
}

// ImportKind distinguishes what an import alias is bound to.
type ImportKind int

const (
	// ImportModule binds a module (import x / import x as y).
	ImportModule ImportKind = iota

	// ImportName binds a name from a module (from m import n).
	ImportName

	// ImportWildcard is a star import (from m import *).
	ImportWildcard
)

// String returns the string representation of the ImportKind.
func (k ImportKind) String() string {
	switch k {
	case ImportModule:
		return "module"
	case ImportName:
		return "name"
	case ImportWildcard:
		return "wildcard"
	default:
		return "unknown"
	}
}

// ImportEntry is what one alias resolves to.
//
// Description:
//
//	For `from pkg.a import helper as h`:
//	  - Alias: "h"
//	  - ResolvedPath: "pkg.a.helper"
//	  - OriginalName: "helper"
//	  - BaseModule: "pkg.a"
//	For `import pkg.a as pa`, ResolvedPath, OriginalName and BaseModule are
//	all "pkg.a".
type ImportEntry struct {
	Alias        string     `json:"alias"`
	ResolvedPath string     `json:"resolved_path"`
	OriginalName string     `json:"original_name"`
	BaseModule   string     `json:"base_module"`
	Kind         ImportKind `json:"kind"`
	Line         int        `json:"line"`
}

// ImportTable maps local aliases of one module to their import entries.
//
// Thread Safety: Not safe for concurrent mutation. Read-only once
// extraction of its file has finished.
type ImportTable struct {
	entries   map[string]ImportEntry
	wildcards []string
}

// NewImportTable creates an empty table.
func NewImportTable() *ImportTable {
	return &ImportTable{entries: make(map[string]ImportEntry)}
}

// Lookup returns the entry for alias.
func (t *ImportTable) Lookup(alias string) (ImportEntry, bool) {
	if t == nil {
		return ImportEntry{}, false
	}
	e, ok := t.entries[alias]
	return e, ok
}

// Wildcards returns the base modules of star imports in source order.
func (t *ImportTable) Wildcards() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.wildcards))
	copy(out, t.wildcards)
	return out
}

// Entries returns all entries sorted by alias.
func (t *ImportTable) Entries() []ImportEntry {
	if t == nil {
		return nil
	}
	out := make([]ImportEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Len returns the number of aliases.
func (t *ImportTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// set binds alias, replacing any earlier binding.
func (t *ImportTable) set(e ImportEntry) {
	t.entries[e.Alias] = e
	if e.Kind == ImportWildcard {
		t.wildcards = append(t.wildcards, e.BaseModule)
	}
}

// setIfAbsent binds alias only when nothing is bound yet.
func (t *ImportTable) setIfAbsent(e ImportEntry) {
	if _, ok := t.entries[e.Alias]; ok {
		return
	}
	t.entries[e.Alias] = e
}

// CallKind says how much of a call site's target is already known.
type CallKind int

const (
	// CallPlain is a dotted name left for the resolution pass.
	CallPlain CallKind = iota

	// CallSelf is a self.method() call already qualified as module.Class.method.
	CallSelf

	// CallBound is a call through a variable or self attribute whose class
	// reference is known; the class path is resolved after merging.
	CallBound
)

// String returns the string representation of the CallKind.
func (k CallKind) String() string {
	switch k {
	case CallPlain:
		return "plain"
	case CallSelf:
		return "self"
	case CallBound:
		return "bound"
	default:
		return "unknown"
	}
}

// CallSite is one call expression inside a function body.
type CallSite struct {
	// Caller is the qualified name of the enclosing function.
	Caller string `json:"caller"`

	// Expr is the callee as written: the dotted chain, or the truncated
	// source text for callees that are not name chains.
	Expr string `json:"expr"`

	// Kind classifies the call.
	Kind CallKind `json:"kind"`

	// Callee is the raw callee handed to resolution. Empty for CallBound
	// until the class reference is resolved.
	Callee string `json:"callee,omitempty"`

	// ClassRef is the class expression a CallBound receiver was assigned from.
	ClassRef string `json:"class_ref,omitempty"`

	// Member is the final segment of the chain.
	Member string `json:"member"`

	// Line is the 1-based line of the call.
	Line int `json:"line"`
}

// FileFacts is everything extracted from a single file.
//
// Description:
//
//	Produced by one worker per file and never modified afterwards. The graph
//	builder merges the facts of all files in a single coordinator step.
type FileFacts struct {
	FilePath string `json:"file_path"`
	Module   string `json:"module"`

	// Functions in source order; QualifiedName is unique within the file.
	Functions []FuncDecl `json:"functions"`

	// Classes in source order.
	Classes []ClassDecl `json:"classes"`

	// Imports is the alias table of this module.
	Imports *ImportTable `json:"-"`

	// LocalBindings maps function QN -> variable -> class reference.
	LocalBindings map[string]map[string]string `json:"local_bindings,omitempty"`

	// AttrBindings maps class QN -> self attribute -> class reference.
	AttrBindings map[string]map[string]string `json:"attr_bindings,omitempty"`

	// Calls in source order.
	Calls []CallSite `json:"calls"`

	// Duplicates lists qualified names defined more than once in the file.
	Duplicates []string `json:"duplicates,omitempty"`

	// HasSyntaxErrors mirrors the parser's error flag.
	HasSyntaxErrors bool `json:"has_syntax_errors"`
}

// Function returns the declaration with the given qualified name.
func (f *FileFacts) Function(qualifiedName string) (FuncDecl, bool) {
	for _, fn := range f.Functions {
		if fn.QualifiedName == qualifiedName {
			return fn, true
		}
	}
	return FuncDecl{}, false
}

// IsCapitalized reports whether the last dotted segment of name starts with
// an uppercase letter, the heuristic for "this names a class".
func IsCapitalized(name string) bool {
	last := LastSegment(name)
	for _, r := range last {
		return unicode.IsUpper(r)
	}
	return false
}

// LastSegment returns the part of a dotted name after the final dot.
func LastSegment(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// FirstSegment splits a dotted name into its first segment and the rest.
func FirstSegment(name string) (first, rest string) {
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// JoinName joins dotted name parts, skipping empty ones.
func JoinName(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(p)
	}
	return b.String()
}
