// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
)

// DiscoverFiles lists the source files under root.
//
// Description:
//
//	Walks root, skipping directories whose base name is excluded, and keeps
//	regular files with an analyzed extension. Unreadable entries are logged
//	and skipped. The result is sorted so builds see files in a stable order.
//
// Inputs:
//
//	root - Project root directory.
//	cfg - Discovery settings. Nil uses Default().
//
// Outputs:
//
//	[]string - Absolute file paths, sorted.
//	error - Non-nil if root itself cannot be walked.
func DiscoverFiles(root string, cfg *Config) ([]string, error) {
	if cfg == nil {
		cfg = Default()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}

	var files []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == absRoot {
				return walkErr
			}
			slog.Warn("skipping unreadable path",
				slog.String("path", path),
				slog.String("error", walkErr.Error()),
			)
			return nil
		}
		if d.IsDir() {
			if path != absRoot && cfg.IsExcluded(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && cfg.HasExtension(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", absRoot, err)
	}

	sort.Strings(files)
	return files, nil
}
