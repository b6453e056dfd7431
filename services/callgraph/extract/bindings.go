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

// extractBindings records which variables hold instances of which class.
//
// Description:
//
//	Only direct assignments of a constructor-looking call are tracked:
//
//	    w = Widget()          -> LocalBindings[fn]["w"] = "Widget"
//	    self.store = db.Store()  -> AttrBindings[cls]["store"] = "db.Store"
//
//	The last assignment in source order wins. There is no merging across
//	branches and no tracking through returns or parameters. The class
//	reference is kept as written; it is turned into a class path once all
//	files are merged.
func extractBindings(root ast.Node, facts *FileFacts) {
	facts.LocalBindings = make(map[string]map[string]string)
	facts.AttrBindings = make(map[string]map[string]string)

	walk(root, scope{module: facts.Module}, 0, func(n ast.Node, s scope) {
		if n.Kind() != "assignment" || s.function == "" {
			return
		}

		right := n.ChildByField("right")
		if right == nil || right.Kind() != "call" {
			return
		}
		segments, ok := calleeChain(right.ChildByField("function"))
		if !ok {
			return
		}
		classRef := strings.Join(segments, ".")
		if !IsCapitalized(classRef) {
			return
		}

		left := n.ChildByField("left")
		if left == nil {
			return
		}

		switch left.Kind() {
		case "identifier":
			bindings := facts.LocalBindings[s.function]
			if bindings == nil {
				bindings = make(map[string]string)
				facts.LocalBindings[s.function] = bindings
			}
			bindings[left.Text()] = classRef

		case "attribute":
			if s.class == "" {
				return
			}
			object := left.ChildByField("object")
			attr := left.ChildByField("attribute")
			if object == nil || attr == nil || object.Kind() != "identifier" || object.Text() != "self" {
				return
			}
			classQN := s.classQN()
			bindings := facts.AttrBindings[classQN]
			if bindings == nil {
				bindings = make(map[string]string)
				facts.AttrBindings[classQN] = bindings
			}
			bindings[attr.Text()] = classRef
		}
	})
}
