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
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/AleutianAI/pycallgraph/services/callgraph/ast"
)

// writeProject writes files (relative path → source) under a fresh root and
// returns the root and the sorted absolute paths.
func writeProject(t *testing.T, files map[string]string) (string, []string) {
	t.Helper()
	root := t.TempDir()
	paths := make([]string, 0, len(files))
	for rel, src := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return root, paths
}

// buildProject writes files and builds them.
func buildProject(t *testing.T, files map[string]string, opts ...BuilderOption) *BuildResult {
	t.Helper()
	root, paths := writeProject(t, files)
	opts = append([]BuilderOption{WithProjectRoot(root)}, opts...)
	result, err := NewBuilder(opts...).Build(context.Background(), paths)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return result
}

func mustLookup(t *testing.T, g *CallGraph, qn string) *Declaration {
	t.Helper()
	d, ok := g.Lookup(qn)
	if !ok {
		t.Fatalf("declaration %q not found; have %v", qn, g.Names())
	}
	return d
}

func assertCalls(t *testing.T, g *CallGraph, qn string, want ...Edge) {
	t.Helper()
	got := mustLookup(t, g, qn).Calls()
	sortEdges(want)
	if len(want) == 0 {
		want = []Edge{}
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("%s calls = %v, want %v", qn, got, want)
	}
}

func assertCalledBy(t *testing.T, g *CallGraph, qn string, want ...string) {
	t.Helper()
	got := mustLookup(t, g, qn).CalledBy()
	sort.Strings(want)
	if len(want) == 0 {
		want = []string{}
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("%s called_by = %v, want %v", qn, got, want)
	}
}

// assertSymmetric checks that every resolved edge has its called-by entry
// and every called-by entry has its resolved edge.
func assertSymmetric(t *testing.T, g *CallGraph) {
	t.Helper()
	for _, d := range g.Declarations() {
		for _, e := range d.Calls() {
			if !e.Resolved {
				continue
			}
			target, ok := g.Lookup(e.Target)
			if !ok {
				t.Errorf("%s has resolved edge to unknown %s", d.QualifiedName, e.Target)
				continue
			}
			if !target.IsCalledBy(d.QualifiedName) {
				t.Errorf("%s -> %s has no called_by entry", d.QualifiedName, e.Target)
			}
		}
		for _, caller := range d.CalledBy() {
			c, ok := g.Lookup(caller)
			if !ok {
				t.Errorf("%s called by unknown %s", d.QualifiedName, caller)
				continue
			}
			if !c.HasCall(ResolvedEdge(d.QualifiedName)) {
				t.Errorf("%s lists caller %s without a matching edge", d.QualifiedName, caller)
			}
		}
	}
}

func TestBuilder_NewBuilder(t *testing.T) {
	b := NewBuilder()
	if b.options.WorkerCount <= 0 {
		t.Errorf("expected positive worker count, got %d", b.options.WorkerCount)
	}
	if b.parser == nil {
		t.Error("expected default parser")
	}
	if b.cache == nil {
		t.Error("expected fact cache by default")
	}

	b = NewBuilder(WithWorkerCount(-3), WithFactCache(0), WithProjectRoot("/p"))
	if b.options.WorkerCount <= 0 {
		t.Errorf("negative worker count must fall back, got %d", b.options.WorkerCount)
	}
	if b.cache != nil {
		t.Error("cache should be disabled")
	}
	if b.ProjectRoot() != "/p" {
		t.Errorf("ProjectRoot = %q", b.ProjectRoot())
	}
}

func TestBuilder_Build_Empty(t *testing.T) {
	result, err := NewBuilder().Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.Graph.Len() != 0 {
		t.Errorf("expected empty graph, got %d declarations", result.Graph.Len())
	}
	if !result.Graph.IsFrozen() {
		t.Error("graph must be frozen")
	}
}

func TestBuilder_Build_TwoFileScenario(t *testing.T) {
	result := buildProject(t, map[string]string{
		"pkg/a.py": "def helper():\n    pass\n",
		"pkg/b.py": "from pkg.a import helper\n\ndef run():\n    helper()\n",
	})
	g := result.Graph

	assertCalls(t, g, "pkg.b.run", ResolvedEdge("pkg.a.helper"))
	assertCalledBy(t, g, "pkg.a.helper", "pkg.b.run")
	assertCalledBy(t, g, "pkg.b.run")
	assertSymmetric(t, g)

	if result.Stats.FilesProcessed != 2 || result.Stats.Declarations != 2 {
		t.Errorf("unexpected stats: %+v", result.Stats)
	}
}

func TestBuilder_Build_SelfCall(t *testing.T) {
	g := buildProject(t, map[string]string{
		"app/svc.py": `class Service:
    def run(self):
        self.prepare()

    def prepare(self):
        pass
`,
	}).Graph

	assertCalls(t, g, "app.svc.Service.run", ResolvedEdge("app.svc.Service.prepare"))
	assertCalledBy(t, g, "app.svc.Service.prepare", "app.svc.Service.run")
}

func TestBuilder_Build_ImportForms(t *testing.T) {
	g := buildProject(t, map[string]string{
		"pkg/__init__.py":     "from .a import helper\n",
		"pkg/a.py":            "def helper():\n    pass\n",
		"pkg/sub/__init__.py": "",
		"pkg/sub/util.py":     "def fmt():\n    pass\n\ndef pad():\n    pass\n",
		"pkg/sub/mod.py": `from .util import fmt
from ..a import helper as h
import pkg.sub.util as u
import pkg.sub.util

def go():
    fmt()
    h()
    u.pad()
    pkg.sub.util.fmt()
`,
		"pkg/c.py": "from pkg import helper\n\ndef reexported():\n    helper()\n",
	}).Graph

	assertCalls(t, g, "pkg.sub.mod.go",
		ResolvedEdge("pkg.sub.util.fmt"),
		ResolvedEdge("pkg.a.helper"),
		ResolvedEdge("pkg.sub.util.pad"),
	)
	assertCalls(t, g, "pkg.c.reexported", ResolvedEdge("pkg.a.helper"))
	assertCalledBy(t, g, "pkg.a.helper", "pkg.c.reexported", "pkg.sub.mod.go")
	assertSymmetric(t, g)
}

func TestBuilder_Build_SameModuleAndSuffix(t *testing.T) {
	g := buildProject(t, map[string]string{
		"m.py": `def util():
    pass

class Shape:
    def area(self):
        pass

def main():
    util()
    area()
    Shape.area()
`,
	}).Graph

	assertCalls(t, g, "m.main",
		ResolvedEdge("m.util"),
		ResolvedEdge("m.Shape.area"),
	)
}

func TestBuilder_Build_ImportAliasBeatsProjectName(t *testing.T) {
	g := buildProject(t, map[string]string{
		"utils.py":        "def helper():\n    pass\n",
		"app/__init__.py": "",
		"app/utils.py":    "def helper():\n    pass\n",
		"app/main.py":     "from app import utils\n\ndef run():\n    utils.helper()\n",
		"tool.py":         "def go():\n    utils.helper()\n",
	}).Graph

	// The alias in app/main.py names app.utils, not the top-level utils.
	assertCalls(t, g, "app.main.run", ResolvedEdge("app.utils.helper"))
	assertCalledBy(t, g, "app.utils.helper", "app.main.run")
	// Without an import the dotted name is taken as written.
	assertCalls(t, g, "tool.go", ResolvedEdge("utils.helper"))
	assertCalledBy(t, g, "utils.helper", "tool.go")
	assertSymmetric(t, g)
}

func TestBuilder_Build_AmbiguousNamespaceMatch(t *testing.T) {
	g := buildProject(t, map[string]string{
		"pkg/__init__.py":   "",
		"pkg/zeta/impl.py":  "def helper():\n    pass\n",
		"pkg/alpha/impl.py": "def helper():\n    pass\n",
		"main.py":           "from pkg import helper\n\ndef main():\n    helper()\n",
	}).Graph

	// Both candidates end in ".helper"; the lexicographically first wins.
	assertCalls(t, g, "main.main", ResolvedEdge("pkg.alpha.impl.helper"))
	assertCalledBy(t, g, "pkg.zeta.impl.helper")
}

func TestBuilder_Build_ExternalEdges(t *testing.T) {
	g := buildProject(t, map[string]string{
		"tool.py": `import os
from pathlib import Path

def run(items):
    os.path.join("a", "b")
    p = Path("x")
    p.exists()
    handlers[0]()
    print(len(items))
`,
	}).Graph

	assertCalls(t, g, "tool.run",
		UnresolvedEdge("os.path.join"),
		UnresolvedEdge("Path"),
		UnresolvedEdge("pathlib.Path.exists"),
		UnresolvedEdge("handlers[0]"),
		UnresolvedEdge("print"),
		UnresolvedEdge("len"),
	)
	assertCalledBy(t, g, "tool.run")
}

func TestBuilder_Build_ConstructorLinking(t *testing.T) {
	g := buildProject(t, map[string]string{
		"app/widgets.py": `class Widget:
    def __init__(self):
        pass

    def render(self):
        pass

class Plain:
    pass
`,
		"app/main.py": `from app.widgets import Widget, Plain
from app import widgets

def main():
    w = Widget()
    w.render()
    Plain()

def qualified():
    widgets.Widget()
`,
	}).Graph

	assertCalls(t, g, "app.main.main",
		UnresolvedEdge("Widget"),
		ResolvedEdge("app.widgets.Widget.__init__"),
		ResolvedEdge("app.widgets.Widget.render"),
		UnresolvedEdge("Plain"),
	)
	assertCalls(t, g, "app.main.qualified",
		UnresolvedEdge("widgets.Widget"),
		ResolvedEdge("app.widgets.Widget.__init__"),
	)
	assertCalledBy(t, g, "app.widgets.Widget.__init__", "app.main.main", "app.main.qualified")
	assertSymmetric(t, g)
}

func TestBuilder_Build_ConstructorThroughWildcardImport(t *testing.T) {
	g := buildProject(t, map[string]string{
		"models.py": "class Widget:\n    def __init__(self):\n        pass\n",
		"main.py":   "from models import *\n\ndef run():\n    w = Widget()\n",
	}).Graph

	assertCalls(t, g, "main.run",
		UnresolvedEdge("Widget"),
		ResolvedEdge("models.Widget.__init__"),
	)
	assertCalledBy(t, g, "models.Widget.__init__", "main.run")
	assertSymmetric(t, g)
}

func TestBuilder_Build_ConstructorThroughAttribute(t *testing.T) {
	g := buildProject(t, map[string]string{
		"factory.py": `class Factory:
    class Widget:
        def __init__(self):
            pass
`,
		"main.py": `from factory import Factory

class App:
    def __init__(self):
        self.factory = Factory()

    def make(self):
        return self.factory.Widget()
`,
	}).Graph

	assertCalls(t, g, "main.App.make",
		UnresolvedEdge("factory.Factory.Widget"),
		ResolvedEdge("factory.Widget.__init__"),
	)
	assertCalledBy(t, g, "factory.Widget.__init__", "main.App.make")
	assertSymmetric(t, g)
}

func TestBuilder_Build_BoundAttributes(t *testing.T) {
	g := buildProject(t, map[string]string{
		"store.py": `class Store:
    def save(self):
        pass
`,
		"svc.py": `from store import Store

class Service:
    def __init__(self):
        self.store = Store()

    def run(self):
        self.store.save()
        self.cache.clear()
`,
	}).Graph

	assertCalls(t, g, "svc.Service.run",
		ResolvedEdge("store.Store.save"),
		UnresolvedEdge("svc.Service.clear"),
	)
}

func TestBuilder_Build_LastBindingWins(t *testing.T) {
	g := buildProject(t, map[string]string{
		"m.py": `class A:
    def go(self):
        pass

class B:
    def go(self):
        pass

def main():
    x = A()
    x = B()
    x.go()
`,
	}).Graph

	d := mustLookup(t, g, "m.main")
	if d.HasCall(ResolvedEdge("m.A.go")) {
		t.Error("earlier binding must be replaced")
	}
	if !d.HasCall(ResolvedEdge("m.B.go")) {
		t.Errorf("expected m.B.go, got %v", d.Calls())
	}
}

func TestBuilder_Build_InheritedMember(t *testing.T) {
	g := buildProject(t, map[string]string{
		"pkg/base.py": `class Base:
    def save(self):
        pass

class Loop(Loop):
    pass
`,
		"pkg/model.py": `from pkg.base import Base

class Middle(Base):
    pass

class Model(Middle):
    def persist(self):
        self.save()
        self.missing()
`,
	}).Graph

	assertCalls(t, g, "pkg.model.Model.persist",
		ResolvedEdge("pkg.base.Base.save"),
		UnresolvedEdge("pkg.model.Model.missing"),
	)

	c, ok := g.Class("pkg.model.Middle")
	if !ok {
		t.Fatal("class pkg.model.Middle missing")
	}
	if !reflect.DeepEqual(c.ResolvedBases, []string{"pkg.base.Base"}) {
		t.Errorf("ResolvedBases = %v", c.ResolvedBases)
	}
}

func TestBuilder_Build_WildcardImport(t *testing.T) {
	g := buildProject(t, map[string]string{
		"lib/shapes.py": "def area():\n    pass\n",
		"lib/use.py":    "from lib.shapes import *\n\ndef compute():\n    area()\n",
	}).Graph

	assertCalls(t, g, "lib.use.compute", ResolvedEdge("lib.shapes.area"))
}

func TestBuilder_Build_Recursion(t *testing.T) {
	g := buildProject(t, map[string]string{
		"m.py": "def fact(n):\n    return n * fact(n - 1)\n",
	}).Graph

	assertCalls(t, g, "m.fact", ResolvedEdge("m.fact"))
	assertCalledBy(t, g, "m.fact", "m.fact")
}

func TestBuilder_Build_ModuleLevelCallsSkipped(t *testing.T) {
	result := buildProject(t, map[string]string{
		"m.py": "def f():\n    pass\n\nf()\n",
	})
	assertCalledBy(t, result.Graph, "m.f")
	if result.Stats.CallSites != 0 {
		t.Errorf("CallSites = %d, want 0", result.Stats.CallSites)
	}
}

func TestBuilder_Build_Assertions(t *testing.T) {
	g := buildProject(t, map[string]string{
		"m.py": "def check(x):\n    assert x > 0, \"positive\"\n",
	}).Graph

	d := mustLookup(t, g, "m.check")
	if !reflect.DeepEqual(d.Assertions, []string{`assert x > 0, "positive"`}) {
		t.Errorf("Assertions = %v", d.Assertions)
	}
}

func TestBuilder_Build_UniqueNamesFirstWins(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	first := filepath.Join(outside, "x", "tool.py")
	second := filepath.Join(outside, "y", "tool.py")
	for path, src := range map[string]string{
		first:  "def f():\n    pass\n",
		second: "def f():\n    g()\n\ndef g():\n    pass\n",
	} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	result, err := NewBuilder(WithProjectRoot(root)).Build(context.Background(), []string{first, second})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	g := result.Graph

	f := mustLookup(t, g, "tool.f")
	if f.FilePath != first {
		t.Errorf("tool.f kept from %s, want %s", f.FilePath, first)
	}
	if result.Stats.Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", result.Stats.Duplicates)
	}
	seen := make(map[string]bool)
	for _, name := range g.Names() {
		if seen[name] {
			t.Errorf("name %s repeated", name)
		}
		seen[name] = true
	}
	// The ignored body's calls still attach to the kept name.
	assertCalls(t, g, "tool.f", ResolvedEdge("tool.g"))
}

func TestBuilder_Build_GracefulDegradation(t *testing.T) {
	root, paths := writeProject(t, map[string]string{
		"good.py":   "def ok():\n    helper()\n\ndef helper():\n    pass\n",
		"broken.py": "def fine():\n    pass\n\ndef bad(:\n    pass\n",
		"big.py":    "def big():\n    pass\n",
	})
	missing := filepath.Join(root, "missing.py")
	paths = append(paths, missing)

	result, err := NewBuilder(WithProjectRoot(root)).Build(context.Background(), paths)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.FileErrors) != 1 || result.FileErrors[0].FilePath != missing {
		t.Fatalf("FileErrors = %v", result.FileErrors)
	}
	if !errors.Is(result.FileErrors[0], os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", result.FileErrors[0].Err)
	}
	if result.Stats.FilesFailed != 1 || result.Stats.FilesProcessed != 3 {
		t.Errorf("unexpected stats: %+v", result.Stats)
	}
	if result.Stats.FilesWithErrors != 1 {
		t.Errorf("FilesWithErrors = %d, want 1", result.Stats.FilesWithErrors)
	}
	mustLookup(t, result.Graph, "broken.fine")
	assertCalls(t, result.Graph, "good.ok", ResolvedEdge("good.helper"))
}

func TestBuilder_Build_ParserRejectsFile(t *testing.T) {
	root, paths := writeProject(t, map[string]string{
		"small.py": "def s():\n    pass\n",
		"large.py": "def l():\n    return 'xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx'\n",
	})
	parser := ast.NewPythonParser(ast.WithPythonMaxFileSize(30))

	result, err := NewBuilder(WithProjectRoot(root), WithParser(parser)).Build(context.Background(), paths)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(result.FileErrors) != 1 || !errors.Is(result.FileErrors[0], ast.ErrFileTooLarge) {
		t.Fatalf("FileErrors = %v", result.FileErrors)
	}
	mustLookup(t, result.Graph, "small.s")
}

func TestBuilder_Build_Idempotent(t *testing.T) {
	files := map[string]string{
		"pkg/a.py": "def helper():\n    pass\n\nclass K:\n    def __init__(self):\n        pass\n",
		"pkg/b.py": "from pkg.a import helper, K\n\ndef run():\n    helper()\n    K()\n    other()\n",
		"pkg/c.py": "from pkg.b import *\n\ndef top():\n    run()\n",
	}
	root, paths := writeProject(t, files)

	builder := NewBuilder(WithProjectRoot(root))
	first, err := builder.Build(context.Background(), paths)
	if err != nil {
		t.Fatalf("first Build: %v", err)
	}
	second, err := builder.Build(context.Background(), paths)
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	fresh, err := NewBuilder(WithProjectRoot(root), WithFactCache(0), WithWorkerCount(1)).Build(context.Background(), paths)
	if err != nil {
		t.Fatalf("fresh Build: %v", err)
	}

	if second.Stats.FilesCached != len(paths) {
		t.Errorf("FilesCached = %d, want %d", second.Stats.FilesCached, len(paths))
	}
	if first.Graph == second.Graph {
		t.Fatal("each build must produce a new graph")
	}
	for _, g := range []*CallGraph{second.Graph, fresh.Graph} {
		if !first.Graph.Equal(g) {
			t.Error("rebuild produced a different graph")
		}
		if first.Graph.Hash() != g.Hash() {
			t.Error("rebuild produced a different hash")
		}
	}
	if first.Stats.ResolvedEdges != fresh.Stats.ResolvedEdges {
		t.Errorf("resolved edges differ: %d vs %d", first.Stats.ResolvedEdges, fresh.Stats.ResolvedEdges)
	}
}

func TestBuilder_Build_ContextCancellation(t *testing.T) {
	_, paths := writeProject(t, map[string]string{"m.py": "def f():\n    pass\n"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBuilder().Build(ctx, paths)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBuilder_Build_ProgressCallback(t *testing.T) {
	var mu sync.Mutex
	phases := make(map[ProgressPhase]bool)
	maxProcessed := 0

	root, paths := writeProject(t, map[string]string{
		"a.py": "def a():\n    pass\n",
		"b.py": "def b():\n    a()\n",
	})
	_, err := NewBuilder(WithProjectRoot(root), WithProgressCallback(func(p BuildProgress) {
		mu.Lock()
		defer mu.Unlock()
		phases[p.Phase] = true
		if p.FilesProcessed > maxProcessed {
			maxProcessed = p.FilesProcessed
		}
	})).Build(context.Background(), paths)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for _, phase := range []ProgressPhase{
		ProgressPhaseExtracting, ProgressPhaseMerging, ProgressPhaseBinding,
		ProgressPhaseResolving, ProgressPhaseLinking, ProgressPhaseFinalizing,
	} {
		if !phases[phase] {
			t.Errorf("phase %s not reported", phase)
		}
	}
	if maxProcessed != 2 {
		t.Errorf("FilesProcessed peaked at %d, want 2", maxProcessed)
	}
}

func TestProgressPhase_String(t *testing.T) {
	tests := []struct {
		phase ProgressPhase
		want  string
	}{
		{ProgressPhaseExtracting, "extracting"},
		{ProgressPhaseMerging, "merging"},
		{ProgressPhaseBinding, "binding"},
		{ProgressPhaseResolving, "resolving"},
		{ProgressPhaseLinking, "linking"},
		{ProgressPhaseFinalizing, "finalizing"},
		{ProgressPhase(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.phase.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.phase, got, tt.want)
		}
	}
}
