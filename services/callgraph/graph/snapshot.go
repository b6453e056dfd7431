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
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Key layout:
//
//	callgraph:snap:{projectHash}:{snapshotID}:data → gzip(JSON(SerializableGraph))
//	callgraph:snap:{projectHash}:{snapshotID}:meta → JSON(SnapshotMetadata)
//	callgraph:snap:{projectHash}:latest            → snapshotID
//	callgraph:snap:index:{snapshotID}              → projectHash
const (
	snapNamespace = "callgraph:snap:"
	snapIndexNS   = snapNamespace + "index:"
	metaSuffix    = ":meta"

	defaultSnapshotListLimit = 100
)

// snapshotKey addresses the two records of one snapshot.
type snapshotKey struct {
	project string
	id      string
}

func (k snapshotKey) data() []byte {
	return []byte(snapNamespace + k.project + ":" + k.id + ":data")
}

func (k snapshotKey) meta() []byte {
	return []byte(snapNamespace + k.project + ":" + k.id + metaSuffix)
}

func latestKey(projectHash string) []byte {
	return []byte(snapNamespace + projectHash + ":latest")
}

func indexKey(snapshotID string) []byte {
	return []byte(snapIndexNS + snapshotID)
}

// ErrSnapshotNotFound is returned when no snapshot matches an ID or project.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotMetadata describes a saved call graph snapshot.
type SnapshotMetadata struct {
	// SnapshotID is SHA256(ProjectRoot + BuiltAtMilli)[:16].
	SnapshotID string `json:"snapshot_id"`

	ProjectRoot string `json:"project_root"`

	// ProjectHash is SHA256(ProjectRoot)[:16], used for key grouping.
	ProjectHash string `json:"project_hash"`

	GraphHash string `json:"graph_hash"`

	// Label is an optional human-readable label.
	Label string `json:"label,omitempty"`

	CreatedAtMilli   int64  `json:"created_at_milli"`
	DeclarationCount int    `json:"declaration_count"`
	EdgeCount        int    `json:"edge_count"`
	SchemaVersion    string `json:"schema_version"`

	// CompressedSize is the size of the gzip payload in bytes.
	CompressedSize int64 `json:"compressed_size"`

	// ContentHash is the SHA256 of the gzip payload.
	ContentHash string `json:"content_hash"`
}

// SnapshotManager saves and loads call graph snapshots in BadgerDB.
//
// Description:
//
//	Each snapshot stores the gzip-compressed JSON of a SerializableGraph
//	plus metadata for listing. Loading verifies the payload hash before
//	decoding.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type SnapshotManager struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewSnapshotManager creates a manager over an opened BadgerDB. The caller
// owns db and closes it.
func NewSnapshotManager(db *badger.DB, logger *slog.Logger) (*SnapshotManager, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &SnapshotManager{db: db, logger: logger}, nil
}

// Save persists a snapshot of g and moves the project's latest pointer to it.
// Saving the same build twice overwrites the earlier record.
func (m *SnapshotManager) Save(ctx context.Context, g *CallGraph, label string) (*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if g == nil {
		return nil, fmt.Errorf("graph must not be nil")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sg := g.ToSerializable()
	payload, err := encodeGraph(sg)
	if err != nil {
		return nil, err
	}

	key := snapshotKey{
		project: ProjectHash(g.ProjectRoot),
		id:      snapshotID(g),
	}
	meta := &SnapshotMetadata{
		SnapshotID:       key.id,
		ProjectRoot:      g.ProjectRoot,
		ProjectHash:      key.project,
		GraphHash:        sg.GraphHash,
		Label:            label,
		CreatedAtMilli:   time.Now().UnixMilli(),
		DeclarationCount: g.Len(),
		EdgeCount:        g.EdgeCount(),
		SchemaVersion:    GraphSchemaVersion,
		CompressedSize:   int64(len(payload)),
		ContentHash:      hashBytes(payload),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot metadata: %w", err)
	}

	records := []struct {
		key   []byte
		value []byte
	}{
		{key.data(), payload},
		{key.meta(), metaJSON},
		{latestKey(key.project), []byte(key.id)},
		{indexKey(key.id), []byte(key.project)},
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			if err := txn.Set(r.key, r.value); err != nil {
				return fmt.Errorf("set %s: %w", r.key, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("saving snapshot %s: %w", key.id, err)
	}

	m.logger.Info("snapshot saved",
		slog.String("snapshot_id", key.id),
		slog.String("project_root", g.ProjectRoot),
		slog.Int("declarations", meta.DeclarationCount),
		slog.Int("edges", meta.EdgeCount),
		slog.Int64("compressed_size", meta.CompressedSize),
	)
	return meta, nil
}

// Load retrieves a snapshot by ID.
func (m *SnapshotManager) Load(ctx context.Context, snapshotID string) (*CallGraph, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return nil, nil, fmt.Errorf("snapshot ID must not be empty")
	}

	projectHash, err := m.get(indexKey(snapshotID))
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}
	return m.load(snapshotKey{project: string(projectHash), id: snapshotID})
}

// LoadLatest loads the most recent snapshot of the project with the given
// ProjectHash.
func (m *SnapshotManager) LoadLatest(ctx context.Context, projectHash string) (*CallGraph, *SnapshotMetadata, error) {
	if ctx == nil {
		return nil, nil, fmt.Errorf("ctx must not be nil")
	}
	if projectHash == "" {
		return nil, nil, fmt.Errorf("project hash must not be empty")
	}

	id, err := m.get(latestKey(projectHash))
	if err != nil {
		return nil, nil, fmt.Errorf("latest snapshot of %s: %w", projectHash, err)
	}
	return m.load(snapshotKey{project: projectHash, id: string(id)})
}

// List returns snapshot metadata, newest first. An empty projectHash lists
// every project. limit <= 0 means 100.
func (m *SnapshotManager) List(ctx context.Context, projectHash string, limit int) ([]*SnapshotMetadata, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if limit <= 0 {
		limit = defaultSnapshotListLimit
	}

	prefix := []byte(snapNamespace)
	if projectHash != "" {
		prefix = []byte(snapNamespace + projectHash + ":")
	}

	var results []*SnapshotMetadata
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if !bytes.HasSuffix(item.Key(), []byte(metaSuffix)) {
				continue
			}
			meta := new(SnapshotMetadata)
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, meta) }); err != nil {
				m.logger.Warn("skipping unreadable snapshot metadata",
					slog.String("key", string(item.Key())),
					slog.String("error", err.Error()))
				continue
			}
			results = append(results, meta)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CreatedAtMilli > results[j].CreatedAtMilli
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Delete removes a snapshot. The project's latest pointer is removed too
// when it pointed at this snapshot.
func (m *SnapshotManager) Delete(ctx context.Context, snapshotID string) error {
	if ctx == nil {
		return fmt.Errorf("ctx must not be nil")
	}
	if snapshotID == "" {
		return fmt.Errorf("snapshot ID must not be empty")
	}

	projectHash, err := m.get(indexKey(snapshotID))
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", snapshotID, err)
	}
	key := snapshotKey{project: string(projectHash), id: snapshotID}

	err = m.db.Update(func(txn *badger.Txn) error {
		for _, k := range [][]byte{key.data(), key.meta(), indexKey(snapshotID)} {
			if err := txn.Delete(k); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}

		latest, err := txn.Get(latestKey(key.project))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := latest.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(current) != snapshotID {
			return nil
		}
		return txn.Delete(latestKey(key.project))
	})
	if err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", snapshotID, err)
	}

	m.logger.Info("snapshot deleted", slog.String("snapshot_id", snapshotID))
	return nil
}

// load reads both records of key, verifies the payload and decodes it.
func (m *SnapshotManager) load(key snapshotKey) (*CallGraph, *SnapshotMetadata, error) {
	var payload, metaJSON []byte
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		if payload, err = valueOf(txn, key.data()); err != nil {
			return err
		}
		metaJSON, err = valueOf(txn, key.meta())
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", key.id, notFound(err))
	}

	meta := new(SnapshotMetadata)
	if err := json.Unmarshal(metaJSON, meta); err != nil {
		return nil, nil, fmt.Errorf("decoding metadata of %s: %w", key.id, err)
	}
	if sum := hashBytes(payload); meta.ContentHash != "" && sum != meta.ContentHash {
		return nil, nil, fmt.Errorf("snapshot %s is corrupt: content hash %s, recorded %s", key.id, sum, meta.ContentHash)
	}

	g, err := decodeGraph(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot %s: %w", key.id, err)
	}
	return g, meta, nil
}

// get reads one value, mapping a missing key to ErrSnapshotNotFound.
func (m *SnapshotManager) get(key []byte) ([]byte, error) {
	var value []byte
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		value, err = valueOf(txn, key)
		return err
	})
	if err != nil {
		return nil, notFound(err)
	}
	return value, nil
}

func valueOf(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func notFound(err error) error {
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrSnapshotNotFound
	}
	return err
}

// encodeGraph returns the gzip-compressed JSON of sg.
func encodeGraph(sg *SerializableGraph) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if err := json.NewEncoder(zw).Encode(sg); err != nil {
		return nil, fmt.Errorf("encoding graph: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing graph: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeGraph reverses encodeGraph and rebuilds the frozen graph.
func decodeGraph(payload []byte) (*CallGraph, error) {
	zr, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("decompressing graph: %w", err)
	}
	defer zr.Close()

	var sg SerializableGraph
	if err := json.NewDecoder(zr).Decode(&sg); err != nil {
		return nil, fmt.Errorf("decoding graph: %w", err)
	}
	return FromSerializable(&sg)
}

// snapshotID is the first 16 hex chars of SHA256(ProjectRoot:BuiltAtMilli).
func snapshotID(g *CallGraph) string {
	return hashBytes([]byte(fmt.Sprintf("%s:%d", g.ProjectRoot, g.BuiltAtMilli)))[:16]
}

// ProjectHash returns SHA256(projectRoot)[:16], the key prefix a project's
// snapshots are stored under.
func ProjectHash(projectRoot string) string {
	return hashBytes([]byte(projectRoot))[:16]
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
