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
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestDiffSnapshots_NilGraphs(t *testing.T) {
	g := buildTestGraph(t)
	if _, err := DiffSnapshots(nil, g, "a", "b"); err == nil {
		t.Error("expected error for nil base")
	}
	if _, err := DiffSnapshots(g, nil, "a", "b"); err == nil {
		t.Error("expected error for nil target")
	}
}

func TestDiffSnapshots_Identical(t *testing.T) {
	diff, err := DiffSnapshots(buildTestGraph(t), buildTestGraph(t), "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if diff.Summary.TotalChanges != 0 || diff.Summary.ChangeRatio != 0 {
		t.Errorf("expected no changes, got %+v", diff.Summary)
	}
	if diff.BaseSnapshotID != "a" || diff.TargetSnapshotID != "b" {
		t.Errorf("IDs not carried: %+v", diff)
	}
}

func TestDiffSnapshots_Rebuild(t *testing.T) {
	root := t.TempDir()
	write := func(rel, src string) string {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	a := write("a.py", "def helper():\n    pass\n\ndef old():\n    pass\n")
	b := write("b.py", "from a import helper\n\ndef run():\n    helper()\n")
	builder := NewBuilder(WithProjectRoot(root))
	base, err := builder.Build(context.Background(), []string{a, b})
	if err != nil {
		t.Fatal(err)
	}

	write("a.py", "def helper():\n    pass\n\ndef fresh():\n    pass\n")
	write("b.py", "from a import fresh\n\n\ndef run():\n    fresh()\n")
	target, err := builder.Build(context.Background(), []string{a, b})
	if err != nil {
		t.Fatal(err)
	}

	diff, err := DiffSnapshots(base.Graph, target.Graph, "base", "target")
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(diff.DeclarationsAdded, []string{"a.fresh"}) {
		t.Errorf("DeclarationsAdded = %v", diff.DeclarationsAdded)
	}
	if !reflect.DeepEqual(diff.DeclarationsRemoved, []string{"a.old"}) {
		t.Errorf("DeclarationsRemoved = %v", diff.DeclarationsRemoved)
	}
	if !reflect.DeepEqual(diff.DeclarationsModified, []DeclarationDiff{{QualifiedName: "b.run", ChangeType: ChangeLinesChanged}}) {
		t.Errorf("DeclarationsModified = %v", diff.DeclarationsModified)
	}
	if !reflect.DeepEqual(diff.EdgesAdded, []EdgeChange{{Caller: "b.run", Target: "a.fresh", Resolved: true}}) {
		t.Errorf("EdgesAdded = %v", diff.EdgesAdded)
	}
	if !reflect.DeepEqual(diff.EdgesRemoved, []EdgeChange{{Caller: "b.run", Target: "a.helper", Resolved: true}}) {
		t.Errorf("EdgesRemoved = %v", diff.EdgesRemoved)
	}
	if diff.Summary.FilesAffected != 2 {
		t.Errorf("FilesAffected = %d", diff.Summary.FilesAffected)
	}
	if diff.Summary.TotalChanges != 5 {
		t.Errorf("TotalChanges = %d", diff.Summary.TotalChanges)
	}
}

func TestClassifyChange(t *testing.T) {
	base := testDecl("m.f", "m", "m.py", 1)
	tests := []struct {
		name   string
		mutate func(d *Declaration)
		want   string
	}{
		{"same", func(*Declaration) {}, ""},
		{"moved", func(d *Declaration) { d.FilePath = "n.py" }, ChangeMoved},
		{"lines", func(d *Declaration) { d.LineEnd = 40 }, ChangeLinesChanged},
		{"calls", func(d *Declaration) { d.calls[UnresolvedEdge("x")] = struct{}{} }, ChangeCallsChanged},
		{"assertions", func(d *Declaration) { d.Assertions = []string{"assert x"} }, ChangeAssertionsChanged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := testDecl("m.f", "m", "m.py", 1)
			tt.mutate(target)
			if got := classifyChange(base, target); got != tt.want {
				t.Errorf("classifyChange = %q, want %q", got, tt.want)
			}
		})
	}
}
