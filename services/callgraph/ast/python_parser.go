// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

const (
	// DefaultMaxFileSize is the largest file the parser accepts (10MB).
	DefaultMaxFileSize int64 = 10 * 1024 * 1024

	// WarnFileSize is the size above which a warning is logged (1MB).
	WarnFileSize = 1024 * 1024
)

var (
	// ErrFileTooLarge is returned when content exceeds the configured limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrInvalidContent is returned when content is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid content")
)

// Parser turns source bytes into a syntax tree.
type Parser interface {
	// Parse parses content. The returned Tree must be closed by the caller.
	Parse(ctx context.Context, content []byte, filePath string) (*Tree, error)

	// Language returns the canonical language name.
	Language() string

	// Extensions returns the file extensions handled by the parser.
	Extensions() []string
}

// Tree is a parsed source file.
//
// Description:
//
//	Root stays valid until Close is called. HasErrors is true when the
//	grammar reported syntax errors; the tree is still usable, extraction
//	simply sees ERROR nodes where the source is malformed.
type Tree struct {
	// Root is the module node.
	Root Node

	// FilePath is the path the tree was parsed from.
	FilePath string

	// Hash is the hex SHA-256 of the parsed content.
	Hash string

	// HasErrors reports whether the source contains syntax errors.
	HasErrors bool

	// ParsedAtMilli is when parsing finished (Unix milliseconds UTC).
	ParsedAtMilli int64

	tree *sitter.Tree
}

// Close releases the underlying tree-sitter tree. Safe to call twice.
func (t *Tree) Close() {
	if t == nil || t.tree == nil {
		return
	}
	t.tree.Close()
	t.tree = nil
	t.Root = nil
}

// PythonParserOption configures a PythonParser instance.
type PythonParserOption func(*PythonParser)

// WithPythonMaxFileSize sets the maximum file size the parser will accept.
//
// Example:
//
//	parser := NewPythonParser(WithPythonMaxFileSize(5 * 1024 * 1024)) // 5MB limit
func WithPythonMaxFileSize(bytes int64) PythonParserOption {
	return func(p *PythonParser) {
		if bytes > 0 {
			p.maxFileSize = bytes
		}
	}
}

// PythonParser parses Python source with tree-sitter.
//
// Thread Safety:
//
//	PythonParser instances are safe for concurrent use. Each Parse call
//	creates its own tree-sitter parser internally.
type PythonParser struct {
	maxFileSize int64
}

// NewPythonParser creates a new PythonParser with the given options.
func NewPythonParser(opts ...PythonParserOption) *PythonParser {
	p := &PythonParser{
		maxFileSize: DefaultMaxFileSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse builds a syntax tree for Python source.
//
// Description:
//
//	Validates the content (size, UTF-8), hashes it, and runs tree-sitter.
//	The parser is error-tolerant: source with syntax errors still yields a
//	tree, flagged with HasErrors.
//
// Inputs:
//   - ctx: Context for cancellation. Checked before and after parsing.
//     Tree-sitter parsing itself cannot be interrupted mid-parse.
//   - content: Raw Python source bytes. Must be valid UTF-8.
//   - filePath: Path used for logging and tracing.
//
// Outputs:
//   - *Tree: The parsed tree. Caller must Close it.
//   - error: ErrFileTooLarge, ErrInvalidContent, or a context error.
//
// Thread Safety:
//
//	This method is safe for concurrent use.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*Tree, error) {
	ctx, span := startParseSpan(ctx, "python", filePath, len(content))
	defer span.End()

	start := time.Now()

	if err := ctx.Err(); err != nil {
		recordParseMetrics("python", time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled before start: %w", err)
	}

	if int64(len(content)) > p.maxFileSize {
		recordParseMetrics("python", time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), p.maxFileSize)
	}

	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	if !utf8.Valid(content) {
		recordParseMetrics("python", time.Since(start), 0, false)
		return nil, fmt.Errorf("%w: content is not valid UTF-8", ErrInvalidContent)
	}

	hash := sha256.Sum256(content)

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		recordParseMetrics("python", time.Since(start), 0, false)
		return nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}

	if err := ctx.Err(); err != nil {
		tree.Close()
		recordParseMetrics("python", time.Since(start), 0, false)
		return nil, fmt.Errorf("parse canceled after tree-sitter: %w", err)
	}

	root := tree.RootNode()
	if root == nil {
		tree.Close()
		recordParseMetrics("python", time.Since(start), 0, false)
		return nil, fmt.Errorf("tree-sitter returned nil root node for %s", filePath)
	}

	result := &Tree{
		Root:          wrapNode(root, content),
		FilePath:      filePath,
		Hash:          hex.EncodeToString(hash[:]),
		HasErrors:     root.HasError(),
		ParsedAtMilli: time.Now().UnixMilli(),
		tree:          tree,
	}

	if result.HasErrors {
		slog.Debug("source contains syntax errors", slog.String("file", filePath))
	}

	setParseSpanResult(span, result.HasErrors)
	recordParseMetrics("python", time.Since(start), len(content), true)

	return result, nil
}

// Language returns "python".
func (p *PythonParser) Language() string {
	return "python"
}

// Extensions returns the file extensions this parser handles.
func (p *PythonParser) Extensions() []string {
	return []string{".py"}
}

// ContentHash returns the hex SHA-256 of content, matching Tree.Hash.
func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// Compile-time interface compliance check.
var _ Parser = (*PythonParser)(nil)
