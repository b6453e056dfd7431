// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch rebuilds a project's call graph when its sources change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/pycallgraph/services/callgraph/config"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 300 * time.Millisecond

// BuildFunc receives the result of every rebuild.
type BuildFunc func(result *graph.BuildResult, err error)

// Watcher rebuilds the graph on source changes.
//
// Every rebuild is a fresh Build over a fresh file discovery. The builder's
// fact cache keeps unchanged files from being re-extracted.
type Watcher struct {
	root     string
	cfg      *config.Config
	builder  *graph.Builder
	debounce time.Duration
	onBuild  BuildFunc
	logger   *slog.Logger
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the settle interval.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher for root.
func New(root string, cfg *config.Config, builder *graph.Builder, onBuild BuildFunc, opts ...Option) (*Watcher, error) {
	if builder == nil {
		return nil, errors.New("builder must not be nil")
	}
	if onBuild == nil {
		return nil, errors.New("onBuild must not be nil")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	w := &Watcher{
		root:     absRoot,
		cfg:      cfg,
		builder:  builder,
		debounce: DefaultDebounce,
		onBuild:  onBuild,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run builds once, then rebuilds after each settled burst of changes until
// ctx is done. Returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}

	w.rebuild(ctx)

	// settle is nil (blocks forever) until a relevant change arrives.
	var settle <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.handleEvent(fw, event) {
				settle = time.After(w.debounce)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", slog.String("error", err.Error()))

		case <-settle:
			settle = nil
			w.rebuild(ctx)
		}
	}
}

// handleEvent watches new directories and reports whether the event should
// trigger a rebuild.
func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.cfg.IsExcluded(filepath.Base(event.Name)) {
				return false
			}
			if err := w.addTree(fw, event.Name); err != nil {
				w.logger.Warn("cannot watch new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()),
				)
			}
			return true
		}
	}

	// A removed or renamed directory has no extension; rebuild anyway since
	// files under it are gone.
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return w.cfg.HasExtension(event.Name) || filepath.Ext(event.Name) == ""
	}
	return w.cfg.HasExtension(event.Name)
}

// addTree watches dir and every non-excluded directory below it.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("watching %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && w.cfg.IsExcluded(d.Name()) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

func (w *Watcher) rebuild(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	files, err := config.DiscoverFiles(w.root, w.cfg)
	if err != nil {
		w.onBuild(nil, err)
		return
	}
	result, err := w.builder.Build(ctx, files)
	if err != nil && ctx.Err() != nil {
		return
	}
	if err == nil {
		w.logger.Info("call graph rebuilt",
			slog.Int("files", result.Stats.FilesTotal),
			slog.Int("declarations", result.Stats.Declarations),
			slog.Int64("duration_ms", result.Stats.DurationMilli),
		)
	}
	w.onBuild(result, err)
}
