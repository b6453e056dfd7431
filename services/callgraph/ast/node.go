// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Node is a read-only view of one syntax tree node.
//
// Description:
//
//	Extraction passes only see this interface, so the call-graph engine does
//	not depend on tree-sitter types directly. Kind values are the
//	tree-sitter-python grammar names ("function_definition", "call",
//	"attribute", ...). Line numbers are 1-based.
//
// Thread Safety:
//
//	Nodes are safe for concurrent reads as long as the owning Tree is open.
type Node interface {
	// Kind returns the grammar node type.
	Kind() string

	// StartLine returns the 1-based line where the node begins.
	StartLine() int

	// EndLine returns the 1-based line where the node ends.
	EndLine() int

	// Text returns the exact source text covered by the node.
	Text() string

	// ChildByField returns the first child stored under the named field,
	// or nil when the field is absent.
	ChildByField(name string) Node

	// ChildrenByField returns every child stored under the named field in
	// source order.
	ChildrenByField(name string) []Node

	// NamedChildren returns the named (non-token) children in source order.
	NamedChildren() []Node
}

// sitterNode adapts a tree-sitter node to Node.
type sitterNode struct {
	node    *sitter.Node
	content []byte
}

// wrapNode returns nil (an untyped nil interface) when n is nil so callers
// can compare the result against nil safely.
func wrapNode(n *sitter.Node, content []byte) Node {
	if n == nil {
		return nil
	}
	return &sitterNode{node: n, content: content}
}

func (s *sitterNode) Kind() string {
	return s.node.Type()
}

func (s *sitterNode) StartLine() int {
	return int(s.node.StartPoint().Row) + 1
}

func (s *sitterNode) EndLine() int {
	return int(s.node.EndPoint().Row) + 1
}

func (s *sitterNode) Text() string {
	start, end := s.node.StartByte(), s.node.EndByte()
	if int(end) > len(s.content) || start > end {
		return ""
	}
	return string(s.content[start:end])
}

func (s *sitterNode) ChildByField(name string) Node {
	return wrapNode(s.node.ChildByFieldName(name), s.content)
}

func (s *sitterNode) ChildrenByField(name string) []Node {
	cursor := sitter.NewTreeCursor(s.node)
	defer cursor.Close()

	var children []Node
	if !cursor.GoToFirstChild() {
		return children
	}
	for {
		if cursor.CurrentFieldName() == name {
			if child := wrapNode(cursor.CurrentNode(), s.content); child != nil {
				children = append(children, child)
			}
		}
		if !cursor.GoToNextSibling() {
			break
		}
	}
	return children
}

func (s *sitterNode) NamedChildren() []Node {
	count := int(s.node.NamedChildCount())
	children := make([]Node, 0, count)
	for i := 0; i < count; i++ {
		if child := wrapNode(s.node.NamedChild(i), s.content); child != nil {
			children = append(children, child)
		}
	}
	return children
}
