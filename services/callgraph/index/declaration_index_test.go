// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"strings"
	"testing"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

func testGraph(t *testing.T) *graph.CallGraph {
	t.Helper()
	decl := func(qn, name, module, file, class string, line int) graph.SerializableDeclaration {
		return graph.SerializableDeclaration{
			Name:          name,
			QualifiedName: qn,
			Module:        module,
			FilePath:      file,
			LineStart:     line,
			LineEnd:       line + 3,
			OwningClass:   class,
		}
	}
	sg := &graph.SerializableGraph{
		SchemaVersion: graph.GraphSchemaVersion,
		ProjectRoot:   "/project",
		Declarations: []graph.SerializableDeclaration{
			decl("store.load", "load", "store", "store.py", "", 1),
			decl("store.cache_load", "cache_load", "store", "store.py", "", 10),
			decl("store.Store.load", "load", "store", "store.py", "store.Store", 20),
			decl("store.Store.__init__", "__init__", "store", "store.py", "store.Store", 15),
			decl("store.reload_all", "reload_all", "store", "store.py", "", 30),
			decl("app.main", "main", "app", "app.py", "", 1),
		},
	}
	g, err := graph.FromSerializable(sg)
	if err != nil {
		t.Fatalf("FromSerializable: %v", err)
	}
	return g
}

func testDeclaration(name, class string) *graph.Declaration {
	return &graph.Declaration{Name: name, QualifiedName: "m." + name, OwningClass: class}
}

func TestComputeMatchScore(t *testing.T) {
	tests := []struct {
		name          string
		query         string
		declName      string
		owningClass   string
		wantMatchType string
		shouldMatch   bool
	}{
		{"exact match", "load", "load", "", MatchExact, true},
		{"case-insensitive exact", "LOAD", "load", "", MatchExact, true},
		{"prefix", "load", "load_all", "", MatchPrefix, true},
		{"word after underscore", "load", "cache_load", "", MatchWord, true},
		{"word after dot", "load", "Store.load", "m.Store", MatchWord, true},
		{"substring", "load", "reloaded", "", MatchSubstring, true},
		{"fuzzy typo", "laod", "load", "", MatchFuzzy, true},
		{"too far", "load", "serialize", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDeclaration(tt.declName, tt.owningClass)
			score, matchType := computeMatchScore(strings.ToLower(tt.query), tt.declName, strings.ToLower(tt.declName), d)
			if !tt.shouldMatch {
				if score >= 0 {
					t.Errorf("expected no match, got %s (%d)", matchType, score)
				}
				return
			}
			if score < 0 {
				t.Fatalf("expected %s match, got none", tt.wantMatchType)
			}
			if matchType != tt.wantMatchType {
				t.Errorf("match type = %s, want %s", matchType, tt.wantMatchType)
			}
		})
	}
}

func TestComputeMatchScore_Ordering(t *testing.T) {
	score := func(query, name, class string) int {
		s, _ := computeMatchScore(query, name, strings.ToLower(name), testDeclaration(name, class))
		return s
	}

	ordered := []int{
		score("load", "load", ""),
		score("load", "loader", ""),
		score("load", "cache_load", ""),
		score("load", "reloaded", ""),
		score("load", "lod", ""),
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i-1] >= ordered[i] {
			t.Errorf("score[%d]=%d should be better than score[%d]=%d", i-1, ordered[i-1], i, ordered[i])
		}
	}

	if score("load", "load", "") >= score("load", "load", "m.Store") {
		t.Error("function should beat method with the same name")
	}
	if score("init", "__init__", "m.Store") <= score("init", "init", "") {
		t.Error("dunder methods should rank last")
	}
}

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"load", "load", 0},
		{"load", "laod", 2},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		if got := levenshteinDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestDeclarationIndex_Lookups(t *testing.T) {
	idx := NewDeclarationIndex(testGraph(t))

	if idx.Len() != 6 {
		t.Fatalf("Len = %d, want 6", idx.Len())
	}
	if d, ok := idx.GetByQualifiedName("store.Store.load"); !ok || d.OwningClass != "store.Store" {
		t.Errorf("GetByQualifiedName: %+v %v", d, ok)
	}
	if _, ok := idx.GetByQualifiedName("store.missing"); ok {
		t.Error("unexpected hit")
	}
	if got := idx.GetByName("load"); len(got) != 2 || got[0].QualifiedName != "store.Store.load" || got[1].QualifiedName != "store.load" {
		t.Errorf("GetByName(load) = %v", got)
	}
	if got := idx.GetByFile("store.py"); len(got) != 5 {
		t.Errorf("GetByFile(store.py) returned %d", len(got))
	}
	if got := idx.GetByFile("nope.py"); got != nil {
		t.Errorf("GetByFile(nope.py) = %v", got)
	}

	empty := NewDeclarationIndex(nil)
	if empty.Len() != 0 {
		t.Error("nil graph must give an empty index")
	}
}

func TestDeclarationIndex_Search(t *testing.T) {
	idx := NewDeclarationIndex(testGraph(t))
	ctx := context.Background()

	results, err := idx.Search(ctx, "load", 0)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, r := range results {
		names = append(names, r.Declaration.QualifiedName)
	}
	want := []string{"store.load", "store.Store.load", "store.cache_load", "store.reload_all"}
	if len(names) != len(want) {
		t.Fatalf("Search(load) = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Search(load)[%d] = %s, want %s (all: %v)", i, names[i], want[i], names)
		}
	}
	if results[0].MatchType != MatchExact {
		t.Errorf("best match type = %s", results[0].MatchType)
	}

	limited, err := idx.Search(ctx, "load", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limit ignored: %d results", len(limited))
	}

	qualified, err := idx.Search(ctx, "store.Store", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(qualified) != 2 || qualified[0].MatchType != MatchPrefix {
		t.Errorf("qualified search = %+v", qualified)
	}

	if res, err := idx.Search(ctx, "  ", 10); err != nil || res != nil {
		t.Errorf("blank query: %v %v", res, err)
	}
}

func TestDeclarationIndex_SearchDeterministic(t *testing.T) {
	idx := NewDeclarationIndex(testGraph(t))
	first, _ := idx.Search(context.Background(), "a", 0)
	for i := 0; i < 5; i++ {
		again, _ := idx.Search(context.Background(), "a", 0)
		if len(again) != len(first) {
			t.Fatalf("result count changed: %d vs %d", len(again), len(first))
		}
		for j := range first {
			if again[j].Declaration.QualifiedName != first[j].Declaration.QualifiedName {
				t.Fatalf("order changed at %d", j)
			}
		}
	}
}

func TestDeclarationIndex_SearchCancelled(t *testing.T) {
	idx := NewDeclarationIndex(testGraph(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := idx.Search(ctx, "load", 0); err == nil {
		t.Error("expected context error")
	}
}
