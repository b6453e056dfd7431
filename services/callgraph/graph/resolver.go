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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/AleutianAI/pycallgraph/services/callgraph/extract"
)

// bindPhase turns the class references of bound call sites and base-class
// lists into class paths. Needs every file's classes, hence after merge.
func (b *Builder) bindPhase(ctx context.Context, state *buildState) error {
	for _, class := range state.graph.classes {
		facts := state.factsByModule[class.Module]
		class.ResolvedBases = make([]string, 0, len(class.Bases))
		for _, base := range class.Bases {
			class.ResolvedBases = append(class.ResolvedBases, state.resolveClassPath(facts, class.Module, base))
		}
	}

	for i := range state.sites {
		ref := &state.sites[i]
		if ref.site.Kind != extract.CallBound {
			continue
		}
		classPath := state.resolveClassPath(ref.facts, ref.facts.Module, ref.site.ClassRef)
		ref.site.Callee = extract.JoinName(classPath, ref.site.Member)
	}
	return nil
}

// resolveClassPath maps a class reference as written in module to a class
// path.
//
// Description:
//
//	Tried in order:
//	  1. a class of that name declared in module itself
//	  2. the import-substituted reference, when it names a known class
//	  3. the only class in the project with that bare name
//	  4. the import-substituted reference as written
//
//	The last step keeps external classes informative: `p = Path(x)` then
//	`p.exists()` yields the external edge "pathlib.Path.exists".
func (s *buildState) resolveClassPath(facts *extract.FileFacts, module, ref string) string {
	if ref == "" {
		return ""
	}
	if local := extract.JoinName(module, ref); s.graph.classes[local] != nil {
		return local
	}

	substituted := ref
	if facts != nil {
		if sub, ok := substituteAlias(facts.Imports, ref); ok {
			substituted = sub
			if s.graph.classes[sub] != nil {
				return sub
			}
		}
	}

	if candidates := s.classesByName[extract.LastSegment(ref)]; len(candidates) == 1 {
		return candidates[0]
	}
	return substituted
}

// substituteAlias replaces the first segment of name with its import path.
func substituteAlias(imports *extract.ImportTable, name string) (string, bool) {
	first, rest := extract.FirstSegment(name)
	entry, ok := imports.Lookup(first)
	if !ok || entry.Kind == extract.ImportWildcard {
		return "", false
	}
	return extract.JoinName(entry.ResolvedPath, rest), true
}

// resolvePhase resolves every call site and writes the edges.
//
// Callers are visited in sorted order and each caller's sites in source
// order, so the graph is the same on every run over the same files.
func (b *Builder) resolvePhase(ctx context.Context, state *buildState) error {
	sort.SliceStable(state.sites, func(i, j int) bool {
		return state.sites[i].site.Caller < state.sites[j].site.Caller
	})

	stats := &state.result.Stats
	for i, ref := range state.sites {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("resolving call sites: %w", err)
			}
		}

		raw := ref.site.Callee
		if raw == "" {
			return fmt.Errorf("%w: empty callee at %s:%d", ErrInvariantViolation, ref.facts.FilePath, ref.site.Line)
		}

		target, strategy := state.resolve(ref.facts, ref.site.Kind, raw)
		recordResolution(strategy)

		edge := UnresolvedEdge(raw)
		if target != "" {
			edge = ResolvedEdge(target)
		}
		added, err := state.graph.addEdge(ref.site.Caller, edge)
		if err != nil {
			return err
		}
		if !added {
			continue
		}
		if edge.Resolved {
			stats.ResolvedEdges++
		} else {
			stats.UnresolvedEdges++
		}
	}
	return nil
}

// resolve finds the declaration a raw callee refers to.
//
// Description:
//
//	Steps, first hit wins:
//	  0. self and bound sites whose raw is already a qualified name
//	  1. raw is declared in the caller's module
//	  2. raw's first segment is an import alias of the caller's module;
//	     the substituted name, else a declaration under the imported
//	     namespace ending in the imported name
//	  3. a declaration of the caller's module ending in "."+raw
//	  4. a plain site whose raw is a qualified name (absolute calls)
//	  5. raw is Class.member and member is inherited from a base class
//	  6. raw is declared in a module the caller star-imports
//
//	Suffix matches take the first candidate in sorted order. Substituted
//	names are not resolved again.
//
// Outputs:
//
//	string - The qualified name, "" when unresolved.
//	string - The strategy label for metrics.
func (s *buildState) resolve(facts *extract.FileFacts, kind extract.CallKind, raw string) (string, string) {
	if kind != extract.CallPlain && s.known(raw) {
		return raw, strategyKnown
	}

	module := facts.Module
	if qn := extract.JoinName(module, raw); s.known(qn) {
		return qn, strategyModule
	}

	if qn := s.resolveThroughImport(facts.Imports, raw); qn != "" {
		return qn, strategyImport
	}

	if qn := firstWithSuffix(s.namesByModule[module], "."+raw); qn != "" {
		return qn, strategySuffix
	}

	if kind == extract.CallPlain && s.known(raw) {
		return raw, strategyKnown
	}

	if qn := s.resolveInherited(raw); qn != "" {
		return qn, strategyInherited
	}

	for _, base := range facts.Imports.Wildcards() {
		if qn := extract.JoinName(base, raw); s.known(qn) {
			return qn, strategyWildcard
		}
	}

	return "", strategyUnresolved
}

func (s *buildState) known(qn string) bool {
	_, ok := s.graph.declarations[qn]
	return ok
}

// resolveThroughImport handles a raw callee whose root is an import alias.
//
// For `from pkg import helper`, `helper()` matches "pkg.helper" exactly or
// any "pkg.<...>.helper", which covers names re-exported by a package
// __init__. For `import pkg.util as u`, `u.fmt()` matches "pkg.util.fmt"
// or any "pkg.util.<...>.fmt".
func (s *buildState) resolveThroughImport(imports *extract.ImportTable, raw string) string {
	first, rest := extract.FirstSegment(raw)
	entry, ok := imports.Lookup(first)
	if !ok || entry.Kind == extract.ImportWildcard {
		return ""
	}

	substituted := extract.JoinName(entry.ResolvedPath, rest)
	if s.known(substituted) {
		return substituted
	}

	var namespace, suffix string
	switch entry.Kind {
	case extract.ImportName:
		namespace = entry.BaseModule
		suffix = extract.JoinName(entry.OriginalName, rest)
	default:
		namespace = entry.ResolvedPath
		suffix = rest
	}
	if namespace == "" || suffix == "" {
		return ""
	}

	prefix := namespace + "."
	lo := sort.SearchStrings(s.sortedNames, prefix)
	for _, qn := range s.sortedNames[lo:] {
		if !strings.HasPrefix(qn, prefix) {
			break
		}
		if strings.HasSuffix(qn, "."+suffix) {
			return qn
		}
	}
	return ""
}

// resolveInherited looks raw up as Class.member through the base classes
// of Class, depth first in declaration order.
func (s *buildState) resolveInherited(raw string) string {
	i := strings.LastIndex(raw, ".")
	if i <= 0 {
		return ""
	}
	classPath, member := raw[:i], raw[i+1:]
	class := s.graph.classes[classPath]
	if class == nil {
		return ""
	}

	visited := map[string]bool{classPath: true}
	var search func(c *Class, depth int) string
	search = func(c *Class, depth int) string {
		if depth > maxBaseChainDepth {
			slog.Debug("base class chain too deep",
				slog.String("class", classPath),
				slog.Int("depth", depth))
			return ""
		}
		for _, base := range c.ResolvedBases {
			if visited[base] {
				continue
			}
			visited[base] = true
			if qn := extract.JoinName(base, member); s.known(qn) {
				return qn
			}
			if next := s.graph.classes[base]; next != nil {
				if qn := search(next, depth+1); qn != "" {
					return qn
				}
			}
		}
		return ""
	}
	return search(class, 1)
}

// linkPhase adds an edge to the constructor of every instantiated project
// class, next to the plain edge the resolver already wrote. Plain sites are
// looked up through the caller's module and imports; self and bound sites
// whose last segment is capitalized through their class path.
func (b *Builder) linkPhase(ctx context.Context, state *buildState) error {
	stats := &state.result.Stats
	for _, ref := range state.sites {
		var init string
		switch ref.site.Kind {
		case extract.CallPlain:
			if extract.IsCapitalized(ref.site.Callee) {
				init = state.constructorFor(ref.facts, ref.site.Callee)
			}
		case extract.CallSelf, extract.CallBound:
			if extract.IsCapitalized(ref.site.Member) {
				init = state.memberConstructorFor(ref.site.Callee, ref.site.Member)
			}
		}
		if init == "" {
			continue
		}

		added, err := state.graph.addEdge(ref.site.Caller, ResolvedEdge(init))
		if err != nil {
			return err
		}
		if added {
			stats.ConstructorEdges++
			stats.ResolvedEdges++
		}
	}
	return nil
}

// constructorFor returns the __init__ that instantiating raw runs, if it is
// declared in the project. Candidates follow the resolver: the caller's
// module, an import alias, the name as written, then star-imported modules
// in source order.
func (s *buildState) constructorFor(facts *extract.FileFacts, raw string) string {
	candidates := []string{extract.JoinName(facts.Module, raw, "__init__")}
	if sub, ok := substituteAlias(facts.Imports, raw); ok {
		candidates = append(candidates, extract.JoinName(sub, "__init__"))
	}
	candidates = append(candidates, extract.JoinName(raw, "__init__"))
	for _, base := range facts.Imports.Wildcards() {
		candidates = append(candidates, extract.JoinName(base, raw, "__init__"))
	}

	for _, qn := range candidates {
		if s.known(qn) {
			return qn
		}
	}
	return ""
}

// memberConstructorFor returns the __init__ of a class reached as an
// attribute, as in `self.factory.Widget()`. Classes are qualified by module
// only, so a class nested in the bound class falls back to the only project
// class with that name.
func (s *buildState) memberConstructorFor(callee, member string) string {
	if qn := extract.JoinName(callee, "__init__"); s.known(qn) {
		return qn
	}
	if candidates := s.classesByName[member]; len(candidates) == 1 {
		if qn := extract.JoinName(candidates[0], "__init__"); s.known(qn) {
			return qn
		}
	}
	return ""
}

// firstWithSuffix returns the first name in sorted names ending in suffix.
func firstWithSuffix(names []string, suffix string) string {
	for _, qn := range names {
		if strings.HasSuffix(qn, suffix) {
			return qn
		}
	}
	return ""
}
