// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package country

import "unicode/utf8"

// DefaultFuzzyThreshold is the minimum similarity score (0-100 scale) a
// fuzzy candidate needs before it is accepted as a match.
const DefaultFuzzyThreshold = 88

// Resolver resolves a free-text token to a canonical country name.
//
// # Description
//
// Resolution is a two-step process: an exact lookup against the token table
// first, then a fuzzy similarity search over the full token set for typo
// recovery (e.g. "Singpore" -> "Singapore"). Exact match always wins over
// fuzzy match so a close-but-wrong demonym cannot out-compete a correct
// literal code.
//
// # Thread Safety
//
// Read-only after construction; safe for concurrent use.
type Resolver struct {
	table     *Table
	threshold int
}

// NewResolver creates a Resolver over the given table.
// A threshold <= 0 uses DefaultFuzzyThreshold.
func NewResolver(table *Table, threshold int) *Resolver {
	if threshold <= 0 {
		threshold = DefaultFuzzyThreshold
	}
	return &Resolver{table: table, threshold: threshold}
}

// Resolve maps a token to a canonical country name.
//
// # Inputs
//
//   - token: free-text token. Lower-cased and trimmed before lookup.
//
// # Outputs
//
//   - string: canonical country name, empty when unresolved.
//   - bool: true when a country was resolved.
//
// # Limitations
//
//   - Empty or whitespace-only tokens resolve to nothing without running
//     the fuzzy scan (cost control).
//   - Resolution is pure; the token table is never mutated.
func (r *Resolver) Resolve(token string) (string, bool) {
	t := Normalize(token)
	if t == "" {
		return "", false
	}

	if c, ok := r.table.Lookup(t); ok {
		return c, true
	}

	best := ""
	bestScore := 0
	for _, candidate := range r.table.Tokens() {
		score := similarityRatio(t, candidate)
		if score > bestScore {
			bestScore = score
			best = candidate
		}
	}
	if bestScore >= r.threshold {
		c, _ := r.table.Lookup(best)
		return c, true
	}
	return "", false
}

// similarityRatio scores two strings on a 0-100 scale using normalized
// Levenshtein distance: 100 * (1 - distance/maxLen).
func similarityRatio(a, b string) int {
	if a == b {
		return 100
	}
	la := utf8.RuneCountInString(a)
	lb := utf8.RuneCountInString(b)
	if la == 0 || lb == 0 {
		return 0
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	dist := levenshtein(a, b)
	return int(100 * (float64(maxLen-dist) / float64(maxLen)))
}

// levenshtein computes the edit distance between two strings using the
// standard two-row dynamic programming formulation.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
