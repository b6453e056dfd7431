// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package callgraph

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/pycallgraph/services/callgraph/config"
	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

func setupSnapshotService(t *testing.T) (*Service, string) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("failed to open in-memory badger: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mgr, err := graph.NewSnapshotManager(db, slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultServiceConfig()
	cfg.Project = config.Default()
	svc := NewService(cfg, mgr)

	root := writeTestProject(t)
	if _, _, err := svc.Init(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	return svc, root
}

func TestSnapshotHandlers_NotConfigured(t *testing.T) {
	router := setupTestRouter(NewService(DefaultServiceConfig(), nil))
	for _, tc := range []struct{ method, url string }{
		{"POST", "/v1/callgraph/snapshot"},
		{"GET", "/v1/callgraph/snapshots"},
		{"GET", "/v1/callgraph/snapshot/abc"},
		{"DELETE", "/v1/callgraph/snapshot/abc"},
		{"GET", "/v1/callgraph/snapshot/diff?base=a&target=b"},
	} {
		w := doRequest(t, router, tc.method, tc.url, nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s: got %d", tc.method, tc.url, w.Code)
		}
	}
}

func TestSnapshotHandlers_Lifecycle(t *testing.T) {
	svc, root := setupSnapshotService(t)
	router := setupTestRouter(svc)

	w := doRequest(t, router, "POST", "/v1/callgraph/snapshot", SaveSnapshotRequest{Label: "before"})
	if w.Code != http.StatusOK {
		t.Fatalf("save: %d %s", w.Code, w.Body.String())
	}
	base := decode[SaveSnapshotResponse](t, w)
	if base.DeclarationCount != 3 || base.EdgeCount != 3 || base.CompressedSize <= 0 {
		t.Errorf("save response = %+v", base)
	}

	// Add a caller of helper and rebuild.
	extra := "from pkg.a import helper\n\n\ndef extra():\n    helper()\n"
	if err := os.WriteFile(filepath.Join(root, "pkg", "c.py"), []byte(extra), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, _, err := svc.Init(context.Background(), root); err != nil {
		t.Fatal(err)
	}
	w = doRequest(t, router, "POST", "/v1/callgraph/snapshot", SaveSnapshotRequest{Label: "after"})
	target := decode[SaveSnapshotResponse](t, w)
	if target.SnapshotID == base.SnapshotID {
		t.Fatal("rebuild produced the same snapshot ID")
	}

	list := decode[ListSnapshotsResponse](t, doRequest(t, router, "GET", "/v1/callgraph/snapshots?project_root="+root, nil))
	if len(list.Snapshots) != 2 {
		t.Fatalf("listed %d snapshots, want 2", len(list.Snapshots))
	}

	w = doRequest(t, router, "GET", "/v1/callgraph/snapshot/diff?base="+base.SnapshotID+"&target="+target.SnapshotID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("diff: %d %s", w.Code, w.Body.String())
	}
	diff := decode[SnapshotDiffResponse](t, w).Diff
	if len(diff.DeclarationsAdded) != 1 || diff.DeclarationsAdded[0] != "pkg.c.extra" {
		t.Errorf("added = %v", diff.DeclarationsAdded)
	}

	w = doRequest(t, router, "GET", "/v1/callgraph/snapshot/"+base.SnapshotID+"?activate=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("load: %d %s", w.Code, w.Body.String())
	}
	loaded := decode[LoadSnapshotResponse](t, w)
	if loaded.GraphHash != base.GraphHash || loaded.GraphID == "" {
		t.Errorf("load response = %+v", loaded)
	}
	cached, err := svc.GetGraph(loaded.GraphID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cached.Graph.Lookup("pkg.c.extra"); ok {
		t.Error("activated snapshot should not contain declarations added later")
	}

	if w := doRequest(t, router, "DELETE", "/v1/callgraph/snapshot/"+base.SnapshotID, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	if w := doRequest(t, router, "GET", "/v1/callgraph/snapshot/"+base.SnapshotID, nil); w.Code != http.StatusNotFound {
		t.Errorf("load after delete: got %d", w.Code)
	}
}

func TestSnapshotHandlers_Errors(t *testing.T) {
	svc, _ := setupSnapshotService(t)
	router := setupTestRouter(svc)

	tests := []struct {
		name     string
		method   string
		url      string
		body     any
		wantCode int
		wantErr  string
	}{
		{"diff missing target", "GET", "/v1/callgraph/snapshot/diff?base=a", nil, http.StatusBadRequest, "MISSING_PARAMETER"},
		{"diff unknown base", "GET", "/v1/callgraph/snapshot/diff?base=a&target=b", nil, http.StatusNotFound, "SNAPSHOT_NOT_FOUND"},
		{"load unknown", "GET", "/v1/callgraph/snapshot/deadbeef", nil, http.StatusNotFound, "SNAPSHOT_NOT_FOUND"},
		{"delete unknown", "DELETE", "/v1/callgraph/snapshot/deadbeef", nil, http.StatusNotFound, "SNAPSHOT_NOT_FOUND"},
		{"save unknown graph", "POST", "/v1/callgraph/snapshot", SaveSnapshotRequest{GraphID: "nope"}, http.StatusNotFound, "GRAPH_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, router, tt.method, tt.url, tt.body)
			if w.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if resp := decode[ErrorResponse](t, w); resp.Code != tt.wantErr {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantErr)
			}
		})
	}
}
