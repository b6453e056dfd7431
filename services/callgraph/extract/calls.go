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
	"strings"

	"github.com/AleutianAI/pycallgraph/services/callgraph/ast"
)

const (
	// MaxCallSitesPerFile caps call extraction on generated files.
	MaxCallSitesPerFile = 50000

	// maxOpaqueCalleeLength truncates callee text that is not a name chain.
	maxOpaqueCalleeLength = 100
)

// extractCalls records every call made inside a function body.
//
// Description:
//
//	Module-level and class-body calls have no enclosing function and are
//	skipped. Must run after extractBindings: calls through a tracked
//	variable or self attribute become CallBound sites.
//
//	    self.save()          -> CallSelf  "mod.Cls.save"
//	    self.store.put()     -> CallBound ClassRef of "store", Member "put"
//	    w.render()           -> CallBound ClassRef of "w", Member "render"
//	    helpers.fmt.pad()    -> CallPlain "helpers.fmt.pad"
//	    handlers[k]()        -> CallPlain opaque "handlers[k]"
func extractCalls(root ast.Node, facts *FileFacts) {
	limitLogged := false

	walk(root, scope{module: facts.Module}, 0, func(n ast.Node, s scope) {
		if n.Kind() != "call" || s.function == "" {
			return
		}
		if len(facts.Calls) >= MaxCallSitesPerFile {
			if !limitLogged {
				slog.Warn("max call sites per file reached",
					slog.String("file", facts.FilePath),
					slog.Int("limit", MaxCallSitesPerFile))
				limitLogged = true
			}
			return
		}

		fn := n.ChildByField("function")
		if fn == nil {
			return
		}

		site := CallSite{
			Caller: s.function,
			Line:   n.StartLine(),
		}

		segments, ok := calleeChain(fn)
		if !ok {
			text := fn.Text()
			if len(text) > maxOpaqueCalleeLength {
				text = text[:maxOpaqueCalleeLength]
			}
			site.Expr = text
			site.Callee = text
			site.Member = text
			site.Kind = CallPlain
			facts.Calls = append(facts.Calls, site)
			return
		}

		site.Expr = strings.Join(segments, ".")
		site.Member = segments[len(segments)-1]
		classifyCall(&site, segments, s, facts)
		facts.Calls = append(facts.Calls, site)
	})
}

// classifyCall fills Kind, Callee and ClassRef of a name-chain call.
func classifyCall(site *CallSite, segments []string, s scope, facts *FileFacts) {
	root := segments[0]

	if root == "self" && s.class != "" && len(segments) >= 2 {
		classQN := s.classQN()
		if len(segments) > 2 {
			if ref, ok := facts.AttrBindings[classQN][segments[1]]; ok {
				site.Kind = CallBound
				site.ClassRef = ref
				return
			}
		}
		site.Kind = CallSelf
		site.Callee = JoinName(classQN, site.Member)
		return
	}

	if len(segments) >= 2 {
		if ref, ok := facts.LocalBindings[s.function][root]; ok {
			site.Kind = CallBound
			site.ClassRef = ref
			return
		}
	}

	site.Kind = CallPlain
	site.Callee = site.Expr
}

// calleeChain derives the dotted segments of a callee expression.
//
// Description:
//
//	An identifier yields one segment. An attribute collects attribute names
//	inward until an identifier or a nested call; a nested call contributes
//	its own derived name as a single root segment, so `a.b().c` is
//	["a.b", "c"]. Any other root (subscript, literal, lambda) is not a name
//	chain and ok is false.
func calleeChain(n ast.Node) (segments []string, ok bool) {
	if n == nil {
		return nil, false
	}
	switch n.Kind() {
	case "identifier":
		return []string{n.Text()}, true

	case "attribute":
		object := n.ChildByField("object")
		attr := n.ChildByField("attribute")
		if attr == nil {
			return nil, false
		}
		prefix, ok := calleeChain(object)
		if !ok {
			return nil, false
		}
		return append(prefix, attr.Text()), true

	case "call":
		inner, ok := calleeChain(n.ChildByField("function"))
		if !ok {
			return nil, false
		}
		return []string{strings.Join(inner, ".")}, true

	default:
		return nil, false
	}
}
