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
	"strings"

	"github.com/AleutianAI/pycallgraph/services/callgraph/ast"
)

// extractImports builds the module's alias table.
//
// Description:
//
//	Walks the entire tree, so imports inside function bodies (used to break
//	import cycles) are visible too. Later bindings of the same alias replace
//	earlier ones.
func extractImports(root ast.Node, facts *FileFacts) {
	table := NewImportTable()

	walk(root, scope{module: facts.Module}, 0, func(n ast.Node, s scope) {
		switch n.Kind() {
		case "import_statement":
			processImportStatement(n, table)
		case "import_from_statement":
			processImportFromStatement(n, facts.Module, table)
		}
	})

	facts.Imports = table
}

// processImportStatement handles `import a.b` and `import a.b as y`.
func processImportStatement(n ast.Node, table *ImportTable) {
	for _, name := range n.ChildrenByField("name") {
		switch name.Kind() {
		case "dotted_name":
			path := name.Text()
			table.set(ImportEntry{
				Alias:        path,
				ResolvedPath: path,
				OriginalName: path,
				BaseModule:   path,
				Kind:         ImportModule,
				Line:         n.StartLine(),
			})
			// `import a.b` binds `a` in the importing namespace.
			if first, rest := FirstSegment(path); rest != "" {
				table.setIfAbsent(ImportEntry{
					Alias:        first,
					ResolvedPath: first,
					OriginalName: first,
					BaseModule:   first,
					Kind:         ImportModule,
					Line:         n.StartLine(),
				})
			}

		case "aliased_import":
			pathNode := name.ChildByField("name")
			aliasNode := name.ChildByField("alias")
			if pathNode == nil || aliasNode == nil {
				continue
			}
			path := pathNode.Text()
			table.set(ImportEntry{
				Alias:        aliasNode.Text(),
				ResolvedPath: path,
				OriginalName: path,
				BaseModule:   path,
				Kind:         ImportModule,
				Line:         n.StartLine(),
			})
		}
	}
}

// processImportFromStatement handles `from m import n [as y]`, relative
// forms and `from m import *`.
func processImportFromStatement(n ast.Node, module string, table *ImportTable) {
	moduleNode := n.ChildByField("module_name")
	if moduleNode == nil {
		return
	}

	var base string
	switch moduleNode.Kind() {
	case "relative_import":
		level, rest := 0, ""
		for _, child := range moduleNode.NamedChildren() {
			switch child.Kind() {
			case "import_prefix":
				level = strings.Count(child.Text(), ".")
			case "dotted_name":
				rest = child.Text()
			}
		}
		base = ResolveRelative(module, level, rest)
	default:
		base = moduleNode.Text()
	}

	for _, child := range n.NamedChildren() {
		if child.Kind() == "wildcard_import" {
			table.set(ImportEntry{
				Alias:        WildcardAlias,
				ResolvedPath: base,
				OriginalName: WildcardAlias,
				BaseModule:   base,
				Kind:         ImportWildcard,
				Line:         n.StartLine(),
			})
			return
		}
	}

	for _, name := range n.ChildrenByField("name") {
		var original, alias string
		switch name.Kind() {
		case "dotted_name":
			original = name.Text()
			alias = original
		case "aliased_import":
			pathNode := name.ChildByField("name")
			aliasNode := name.ChildByField("alias")
			if pathNode == nil || aliasNode == nil {
				continue
			}
			original = pathNode.Text()
			alias = aliasNode.Text()
		default:
			continue
		}
		table.set(ImportEntry{
			Alias:        alias,
			ResolvedPath: JoinName(base, original),
			OriginalName: original,
			BaseModule:   base,
			Kind:         ImportName,
			Line:         n.StartLine(),
		})
	}
}

// ResolveRelative turns a relative import into an absolute module path.
//
// Description:
//
//	level is the number of leading dots. The last level segments of the
//	importing module are stripped (one dot means the containing package).
//	A level reaching past the top of the module id resolves to the project
//	root, so only rest remains.
//
// Examples:
//
//	ResolveRelative("pkg.sub.mod", 1, "util")  // "pkg.sub.util"
//	ResolveRelative("pkg.sub.mod", 2, "")      // "pkg"
//	ResolveRelative("pkg.__init__", 1, "a")    // "pkg.a"
//	ResolveRelative("mod", 3, "x")             // "x"
func ResolveRelative(module string, level int, rest string) string {
	segments := strings.Split(module, ".")
	if level >= len(segments) {
		return rest
	}
	base := strings.Join(segments[:len(segments)-level], ".")
	return JoinName(base, rest)
}
