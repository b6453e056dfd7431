// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/pycallgraph/services/callgraph/config"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

func waitForBuild(t *testing.T, results <-chan *graph.BuildResult) *graph.BuildResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a build")
		return nil
	}
}

func TestNew_Validation(t *testing.T) {
	builder := graph.NewBuilder()
	noop := func(*graph.BuildResult, error) {}

	_, err := New(t.TempDir(), nil, nil, noop)
	assert.Error(t, err)
	_, err = New(t.TempDir(), nil, builder, nil)
	assert.Error(t, err)

	w, err := New(t.TempDir(), nil, builder, noop, WithDebounce(time.Second))
	require.NoError(t, err)
	assert.Equal(t, time.Second, w.debounce)
}

func TestWatcher_RebuildsOnChange(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.py"), []byte("def helper():\n    pass\n"), 0o644))

	results := make(chan *graph.BuildResult, 8)
	builder := graph.NewBuilder(graph.WithProjectRoot(root))
	w, err := New(root, nil, builder, func(r *graph.BuildResult, err error) {
		if err == nil {
			results <- r
		}
	}, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	first := waitForBuild(t, results)
	_, ok := first.Graph.Lookup("a.helper")
	assert.True(t, ok)

	require.NoError(t, os.WriteFile(filepath.Join(root, "b.py"),
		[]byte("from a import helper\n\ndef run():\n    helper()\n"), 0o644))

	var second *graph.BuildResult
	deadline := time.After(10 * time.Second)
	for second == nil {
		select {
		case r := <-results:
			if _, ok := r.Graph.Lookup("b.run"); ok {
				second = r
			}
		case <-deadline:
			t.Fatal("rebuild never picked up b.py")
		}
	}
	callers, err := second.Graph.CalledBy("a.helper")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.run"}, callers)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_HandleEvent(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, config.Default(), graph.NewBuilder(), func(*graph.BuildResult, error) {})
	require.NoError(t, err)

	fw, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer fw.Close()

	excluded := filepath.Join(root, "__pycache__")
	require.NoError(t, os.Mkdir(excluded, 0o755))
	pkg := filepath.Join(root, "pkg")
	require.NoError(t, os.Mkdir(pkg, 0o755))

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"python write", fsnotify.Event{Name: filepath.Join(root, "a.py"), Op: fsnotify.Write}, true},
		{"other file", fsnotify.Event{Name: filepath.Join(root, "notes.txt"), Op: fsnotify.Write}, false},
		{"chmod only", fsnotify.Event{Name: filepath.Join(root, "a.py"), Op: fsnotify.Chmod}, false},
		{"removed dir", fsnotify.Event{Name: filepath.Join(root, "gone"), Op: fsnotify.Remove}, true},
		{"new dir", fsnotify.Event{Name: pkg, Op: fsnotify.Create}, true},
		{"new excluded dir", fsnotify.Event{Name: excluded, Op: fsnotify.Create}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.handleEvent(fw, tt.event))
		})
	}
	assert.Contains(t, fw.WatchList(), pkg)
}
