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

// MaxWalkDepth bounds recursion on pathological trees (long operator chains).
const MaxWalkDepth = 2000

// scope is the lexical context of a node, passed by value down the walk.
type scope struct {
	module string

	// class is the innermost enclosing class name, "" when none.
	class string

	// function is the qualified name of the innermost enclosing function,
	// "" at module level and directly inside a class body.
	function string
}

// qualify builds the qualified name of a definition named name in s.
func (s scope) qualify(name string) string {
	return JoinName(s.module, s.class, name)
}

// classQN returns module.Class, or "" outside a class.
func (s scope) classQN() string {
	if s.class == "" {
		return ""
	}
	return JoinName(s.module, s.class)
}

// visitFunc is called for every node with the scope the node appears in.
type visitFunc func(n ast.Node, s scope)

// walk visits n and its descendants depth-first in source order.
//
// Definitions only change the scope of their body: decorators, parameter
// defaults, annotations and base-class lists are evaluated in the enclosing
// scope.
func walk(n ast.Node, s scope, depth int, visit visitFunc) {
	if n == nil {
		return
	}
	if depth > MaxWalkDepth {
		slog.Debug("max walk depth reached",
			slog.String("module", s.module),
			slog.Int("line", n.StartLine()))
		return
	}

	visit(n, s)

	switch n.Kind() {
	case "function_definition":
		inner := s
		if name := n.ChildByField("name"); name != nil {
			inner.function = s.qualify(name.Text())
		}
		walk(n.ChildByField("parameters"), s, depth+1, visit)
		walk(n.ChildByField("return_type"), s, depth+1, visit)
		walk(n.ChildByField("body"), inner, depth+1, visit)
		return

	case "class_definition":
		inner := s
		if name := n.ChildByField("name"); name != nil {
			inner.class = name.Text()
			inner.function = ""
		}
		walk(n.ChildByField("superclasses"), s, depth+1, visit)
		walk(n.ChildByField("body"), inner, depth+1, visit)
		return
	}

	for _, child := range n.NamedChildren() {
		walk(child, s, depth+1, visit)
	}
}
