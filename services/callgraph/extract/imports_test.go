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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractImports_Forms(t *testing.T) {
	src := `import os
import os.path
import numpy as np
from collections import OrderedDict
from pkg.util import helper as h, Config
from . import sibling
from .models import User
from ..core.base import Entity
`
	facts := extractSource(t, src, "pkg.sub.mod")
	table := facts.Imports
	require.NotNil(t, table)

	tests := []struct {
		alias    string
		resolved string
		original string
		base     string
		kind     ImportKind
	}{
		{"os", "os", "os", "os", ImportModule},
		{"os.path", "os.path", "os.path", "os.path", ImportModule},
		{"np", "numpy", "numpy", "numpy", ImportModule},
		{"OrderedDict", "collections.OrderedDict", "OrderedDict", "collections", ImportName},
		{"h", "pkg.util.helper", "helper", "pkg.util", ImportName},
		{"Config", "pkg.util.Config", "Config", "pkg.util", ImportName},
		{"sibling", "pkg.sub.sibling", "sibling", "pkg.sub", ImportName},
		{"User", "pkg.sub.models.User", "User", "pkg.sub.models", ImportName},
		{"Entity", "pkg.core.base.Entity", "Entity", "pkg.core.base", ImportName},
	}
	for _, tt := range tests {
		t.Run(tt.alias, func(t *testing.T) {
			entry, ok := table.Lookup(tt.alias)
			require.True(t, ok, "alias %q missing", tt.alias)
			assert.Equal(t, tt.resolved, entry.ResolvedPath)
			assert.Equal(t, tt.original, entry.OriginalName)
			assert.Equal(t, tt.base, entry.BaseModule)
			assert.Equal(t, tt.kind, entry.Kind)
		})
	}

	_, ok := table.Lookup("helper")
	assert.False(t, ok, "aliased name must only be bound under its alias")
	_, ok = table.Lookup("numpy")
	assert.False(t, ok)
}

func TestExtractImports_DottedImportBindsFirstSegment(t *testing.T) {
	facts := extractSource(t, "import xml.etree.ElementTree\n", "m")

	entry, ok := facts.Imports.Lookup("xml")
	require.True(t, ok)
	assert.Equal(t, "xml", entry.ResolvedPath)

	entry, ok = facts.Imports.Lookup("xml.etree.ElementTree")
	require.True(t, ok)
	assert.Equal(t, ImportModule, entry.Kind)
}

func TestExtractImports_LaterBindingWins(t *testing.T) {
	src := `from a import tool
from b import tool
`
	facts := extractSource(t, src, "m")

	entry, ok := facts.Imports.Lookup("tool")
	require.True(t, ok)
	assert.Equal(t, "b.tool", entry.ResolvedPath)
	assert.Equal(t, 2, entry.Line)
}

func TestExtractImports_Wildcards(t *testing.T) {
	src := `from pkg.helpers import *
from .shapes import *
`
	facts := extractSource(t, src, "pkg.mod")

	assert.Equal(t, []string{"pkg.helpers", "pkg.shapes"}, facts.Imports.Wildcards())
	_, ok := facts.Imports.Lookup(WildcardAlias)
	assert.True(t, ok)
}

func TestExtractImports_InsideFunction(t *testing.T) {
	src := `def lazy():
    from heavy.module import Engine
    return Engine()
`
	facts := extractSource(t, src, "m")

	entry, ok := facts.Imports.Lookup("Engine")
	require.True(t, ok)
	assert.Equal(t, "heavy.module.Engine", entry.ResolvedPath)
}

func TestImportTable_Entries(t *testing.T) {
	src := `import zlib
import abc
from m import b as a_alias
`
	facts := extractSource(t, src, "x")

	entries := facts.Imports.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "a_alias", entries[0].Alias)
	assert.Equal(t, "abc", entries[1].Alias)
	assert.Equal(t, "zlib", entries[2].Alias)
	assert.Equal(t, 3, facts.Imports.Len())
}

func TestResolveRelative(t *testing.T) {
	tests := []struct {
		module string
		level  int
		rest   string
		want   string
	}{
		{"pkg.sub.mod", 1, "util", "pkg.sub.util"},
		{"pkg.sub.mod", 2, "", "pkg"},
		{"pkg.sub.mod", 2, "core.x", "pkg.core.x"},
		{"pkg.__init__", 1, "a", "pkg.a"},
		{"mod", 1, "x", "x"},
		{"mod", 3, "x", "x"},
		{"pkg.mod", 1, "", "pkg"},
	}
	for _, tt := range tests {
		t.Run(tt.module+"/"+tt.rest, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveRelative(tt.module, tt.level, tt.rest))
		})
	}
}
