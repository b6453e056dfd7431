// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index provides name lookup and fuzzy search over the declarations
// of a call graph.
package index

import (
	"context"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/pycallgraph/services/callgraph/graph"
)

const (
	indexTracerName = "callgraph.index"

	// searchCheckInterval is how many declarations are scored between
	// context checks.
	searchCheckInterval = 1000
)

// Match types, best first.
const (
	MatchExact     = "exact"
	MatchPrefix    = "prefix"
	MatchWord      = "word"
	MatchSubstring = "substring"
	MatchFuzzy     = "fuzzy"
)

// SearchResult is one scored match.
type SearchResult struct {
	Declaration *graph.Declaration `json:"declaration"`

	// Score is the composite score; lower is better.
	Score int `json:"score"`

	MatchType string `json:"match_type"`
}

// DeclarationIndex indexes the declarations of one frozen graph.
//
// Thread Safety: Immutable after construction, safe for concurrent use.
type DeclarationIndex struct {
	byQualifiedName map[string]*graph.Declaration
	byName          map[string][]*graph.Declaration
	byFile          map[string][]*graph.Declaration
	all             []*graph.Declaration
}

// NewDeclarationIndex indexes every declaration of g.
func NewDeclarationIndex(g *graph.CallGraph) *DeclarationIndex {
	idx := &DeclarationIndex{
		byQualifiedName: make(map[string]*graph.Declaration),
		byName:          make(map[string][]*graph.Declaration),
		byFile:          make(map[string][]*graph.Declaration),
	}
	if g == nil {
		return idx
	}
	idx.all = g.Declarations()
	for _, d := range idx.all {
		idx.byQualifiedName[d.QualifiedName] = d
		idx.byName[d.Name] = append(idx.byName[d.Name], d)
		idx.byFile[d.FilePath] = append(idx.byFile[d.FilePath], d)
	}
	return idx
}

// Len returns the number of indexed declarations.
func (idx *DeclarationIndex) Len() int {
	return len(idx.all)
}

// GetByQualifiedName returns the declaration with that qualified name.
func (idx *DeclarationIndex) GetByQualifiedName(qn string) (*graph.Declaration, bool) {
	d, ok := idx.byQualifiedName[qn]
	return d, ok
}

// GetByName returns every declaration with that bare name, sorted by
// qualified name.
func (idx *DeclarationIndex) GetByName(name string) []*graph.Declaration {
	return copySlice(idx.byName[name])
}

// GetByFile returns the declarations of one file, sorted by qualified name.
func (idx *DeclarationIndex) GetByFile(filePath string) []*graph.Declaration {
	return copySlice(idx.byFile[filePath])
}

// Search finds declarations matching query.
//
// Description:
//
//	A query without a dot is matched against bare names; a dotted query is
//	matched against qualified names. Results are ordered by score, then
//	qualified name, so the same query always returns the same list.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	query - Search string, case-insensitive. Empty returns nothing.
//	limit - Maximum number of results (0 = no limit).
//
// Outputs:
//
//	[]SearchResult - Matches, best first.
//	error - Non-nil if the context was cancelled.
func (idx *DeclarationIndex) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	ctx, span := otel.Tracer(indexTracerName).Start(ctx, "index.Search",
		trace.WithAttributes(attribute.String("query", query), attribute.Int("limit", limit)))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	queryLower := strings.ToLower(query)
	qualified := strings.Contains(query, ".")

	var results []SearchResult
	for i, d := range idx.all {
		if i > 0 && i%searchCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		name := d.Name
		if qualified {
			name = d.QualifiedName
		}
		score, matchType := computeMatchScore(queryLower, name, strings.ToLower(name), d)
		if score < 0 {
			continue
		}
		results = append(results, SearchResult{Declaration: d, Score: score, MatchType: matchType})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score < results[j].Score
		}
		return results[i].Declaration.QualifiedName < results[j].Declaration.QualifiedName
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// computeMatchScore scores name against the query.
//
// Score = base*10000 + position*100 + length*10 + kind, lower is better:
//
//	base 0 exact, 1 prefix, 2 word boundary, 3 substring, 4 fuzzy
//
// Word boundaries are underscores and dots, so "load" matches
// "cache_load" and "store.load" at a boundary. Returns -1 for no match.
func computeMatchScore(queryLower, name, nameLower string, d *graph.Declaration) (int, string) {
	if nameLower == queryLower {
		return kindPenalty(d), MatchExact
	}

	var base, pos int
	var matchType string
	switch {
	case strings.HasPrefix(nameLower, queryLower):
		base, matchType = 1, MatchPrefix
	case wordMatch(nameLower, queryLower) >= 0:
		base, matchType, pos = 2, MatchWord, wordMatch(nameLower, queryLower)
	case strings.Contains(nameLower, queryLower):
		base, matchType, pos = 3, MatchSubstring, strings.Index(nameLower, queryLower)
	default:
		threshold := max(2, len(queryLower)/3)
		if levenshteinDistance(nameLower, queryLower) > threshold {
			return -1, ""
		}
		base, matchType = 4, MatchFuzzy
	}

	positionPenalty := 0
	if pos > 0 && len(name) > 0 {
		positionPenalty = min(99, pos*100/len(name))
	}
	lengthPenalty := min(99, abs(len(name)-len(queryLower)))

	return base*10000 + positionPenalty*100 + lengthPenalty*10 + kindPenalty(d), matchType
}

// wordMatch returns the position where query starts a word of name and ends
// at a word end, or -1.
func wordMatch(name, query string) int {
	for i := 1; i+len(query) <= len(name); i++ {
		if !isSeparator(name[i-1]) {
			continue
		}
		end := i + len(query)
		if name[i:end] == query && (end == len(name) || isSeparator(name[end])) {
			return i
		}
	}
	return -1
}

func isSeparator(c byte) bool {
	return c == '_' || c == '.'
}

// kindPenalty prefers plain functions over methods, and both over dunder
// methods.
func kindPenalty(d *graph.Declaration) int {
	switch {
	case strings.HasPrefix(d.Name, "__") && strings.HasSuffix(d.Name, "__"):
		return 2
	case d.OwningClass != "":
		return 1
	default:
		return 0
	}
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// levenshteinDistance calculates the edit distance between two strings.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func copySlice(src []*graph.Declaration) []*graph.Declaration {
	if len(src) == 0 {
		return nil
	}
	out := make([]*graph.Declaration, len(src))
	copy(out, src)
	return out
}
