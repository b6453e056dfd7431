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
	"path/filepath"
	"strings"
)

// ModuleName derives the dotted module identifier of a file.
//
// Description:
//
//	The path relative to projectRoot is split into segments, the extension
//	is stripped, and the segments are joined with ".". Package initializers
//	keep their "__init__" segment so two different paths never map to the
//	same module. A file outside projectRoot degrades to its stem and a
//	warning is logged.
//
// Examples:
//
//	ModuleName("/repo/pkg/a.py", "/repo")          // "pkg.a"
//	ModuleName("/repo/pkg/__init__.py", "/repo")   // "pkg.__init__"
//	ModuleName("/elsewhere/tool.py", "/repo")      // "tool" (warns)
//
// Thread Safety: Safe for concurrent use (stateless function).
func ModuleName(filePath, projectRoot string) string {
	stem := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))

	if projectRoot == "" {
		slog.Warn("no project root, using file stem as module name",
			slog.String("file", filePath),
			slog.String("module", stem))
		return stem
	}

	absFile, err := filepath.Abs(filePath)
	if err != nil {
		absFile = filepath.Clean(filePath)
	}
	absRoot, err := filepath.Abs(projectRoot)
	if err != nil {
		absRoot = filepath.Clean(projectRoot)
	}

	rel, err := filepath.Rel(absRoot, absFile)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		slog.Warn("file outside project root, using file stem as module name",
			slog.String("file", filePath),
			slog.String("project_root", projectRoot),
			slog.String("module", stem))
		return stem
	}

	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return strings.ReplaceAll(rel, "/", ".")
}
