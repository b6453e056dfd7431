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
	"log/slog"

	"github.com/AleutianAI/pycallgraph/services/callgraph/ast"
)

// extractDeclarations records every function, method and class in the file.
//
// Description:
//
//	A function's qualified name is module[.Class].name where Class is the
//	innermost enclosing class. A name seen twice keeps its first definition;
//	the repeat is logged and listed in facts.Duplicates. Assert statements
//	are attached to the innermost enclosing function.
func extractDeclarations(root ast.Node, facts *FileFacts) {
	funcIndex := make(map[string]int)
	classSeen := make(map[string]bool)

	walk(root, scope{module: facts.Module}, 0, func(n ast.Node, s scope) {
		switch n.Kind() {
		case "function_definition":
			name := n.ChildByField("name")
			if name == nil {
				return
			}
			qn := s.qualify(name.Text())
			if _, exists := funcIndex[qn]; exists {
				slog.Warn("duplicate declaration, keeping first",
					slog.String("qualified_name", qn),
					slog.String("file", facts.FilePath),
					slog.Int("line", n.StartLine()))
				facts.Duplicates = append(facts.Duplicates, qn)
				return
			}
			funcIndex[qn] = len(facts.Functions)
			facts.Functions = append(facts.Functions, FuncDecl{
				Name:          name.Text(),
				QualifiedName: qn,
				OwningClass:   s.class,
				LineStart:     n.StartLine(),
				LineEnd:       n.EndLine(),
			})

		case "class_definition":
			name := n.ChildByField("name")
			if name == nil {
				return
			}
			qn := JoinName(s.module, name.Text())
			if classSeen[qn] {
				slog.Debug("class redefined, keeping first",
					slog.String("qualified_name", qn),
					slog.String("file", facts.FilePath))
				return
			}
			classSeen[qn] = true
			facts.Classes = append(facts.Classes, ClassDecl{
				Name:          name.Text(),
				QualifiedName: qn,
				Bases:         baseClasses(n.ChildByField("superclasses")),
				LineStart:     n.StartLine(),
				LineEnd:       n.EndLine(),
			})

		case "assert_statement":
			if s.function == "" {
				return
			}
			if i, ok := funcIndex[s.function]; ok {
				facts.Functions[i].Assertions = append(facts.Functions[i].Assertions, n.Text())
			}
		}
	})
}

// baseClasses returns the positional base-class expressions of a class.
// Keyword arguments such as metaclass=... are skipped.
func baseClasses(args ast.Node) []string {
	if args == nil {
		return nil
	}
	var bases []string
	for _, arg := range args.NamedChildren() {
		switch arg.Kind() {
		case "identifier", "attribute":
			bases = append(bases, arg.Text())
		}
	}
	return bases
}
