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
	"path/filepath"
	"testing"
)

func TestModuleName(t *testing.T) {
	root := filepath.Join(t.TempDir(), "repo")

	tests := []struct {
		name     string
		filePath string
		root     string
		want     string
	}{
		{"top level", filepath.Join(root, "main.py"), root, "main"},
		{"package module", filepath.Join(root, "pkg", "a.py"), root, "pkg.a"},
		{"nested", filepath.Join(root, "pkg", "sub", "deep.py"), root, "pkg.sub.deep"},
		{"package init", filepath.Join(root, "pkg", "__init__.py"), root, "pkg.__init__"},
		{"root with trailing separator", filepath.Join(root, "pkg", "b.py"), root + string(filepath.Separator), "pkg.b"},
		{"outside root", filepath.Join(filepath.Dir(root), "elsewhere", "tool.py"), root, "tool"},
		{"sibling dir sharing prefix", filepath.Join(root+"2", "x.py"), root, "x"},
		{"no root", filepath.Join(root, "pkg", "c.py"), "", "c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ModuleName(tt.filePath, tt.root); got != tt.want {
				t.Errorf("ModuleName(%q, %q) = %q, want %q", tt.filePath, tt.root, got, tt.want)
			}
		})
	}
}

func TestModuleName_DistinctPathsDistinctModules(t *testing.T) {
	root := t.TempDir()
	a := ModuleName(filepath.Join(root, "pkg", "__init__.py"), root)
	b := ModuleName(filepath.Join(root, "pkg.py"), root)
	if a == b {
		t.Fatalf("package init and sibling module both map to %q", a)
	}
}
