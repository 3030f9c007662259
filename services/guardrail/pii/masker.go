// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pii

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/ieqlabs/kbchat/services/guardrail/country"
)

// LocTagPrefix is the fixed prefix of the jurisdiction tag emitted for
// address-like text.
const LocTagPrefix = "<loc>"

// defaultAddressKeywords are case-insensitive substrings that mark a text
// as address-like. Tunable policy, not a precise contract.
var defaultAddressKeywords = []string{
	"street", "road", "avenue", "lane", "boulevard", "drive",
	"floor", "level", "unit", "block", "building", "tower", "suite",
	"apartment", "postal", "zip", "p.o. box", "po box",
}

// defaultLocationLabels are the entity labels treated as
// geographic/political/demonym-like by the masker.
var defaultLocationLabels = []string{"GPE", "LOC", "NORP", "LOCATION"}

// MaskerConfig tunes the address-like heuristic and entity-label mapping.
//
// Zero values fall back to the defaults that match the production policy.
type MaskerConfig struct {
	// AddressKeywords override the address-like keyword list.
	AddressKeywords []string

	// LocationLabels override which entity labels are resolved as
	// location mentions.
	LocationLabels []string
}

// Masker is the country-preserving PII masking adapter.
//
// # Description
//
// Masker decides between three outcomes for a text:
//
//  1. No resolvable country anywhere: the text is returned unchanged.
//  2. A country resolves but the text is not address-like (a bare
//     "Singapore" or "UAE" mention): the text is returned unchanged.
//  3. A country resolves and the text looks like a physical address: the
//     entire content is discarded and replaced by "<loc>" plus the
//     primary resolved country. Nothing else from the input survives,
//     because downstream routing must never see un-redacted PII.
//
// Country is the one piece of geographic information the downstream LLM
// legitimately needs; everything else about a location is discarded.
//
// # Thread Safety
//
// Safe for concurrent use after construction.
type Masker struct {
	recognizer EntityRecognizer
	resolver   *country.Resolver
	keywords   []string
	locLabels  map[string]bool
}

// NewMasker creates a Masker.
//
// # Inputs
//
//   - recognizer: NER collaborator. May be nil; the masker then relies
//     entirely on the token scan fallback.
//   - resolver: country resolver. Must not be nil.
//   - cfg: heuristic tuning. Zero value uses production defaults.
func NewMasker(recognizer EntityRecognizer, resolver *country.Resolver, cfg MaskerConfig) *Masker {
	keywords := cfg.AddressKeywords
	if len(keywords) == 0 {
		keywords = defaultAddressKeywords
	}
	labels := cfg.LocationLabels
	if len(labels) == 0 {
		labels = defaultLocationLabels
	}
	labelSet := make(map[string]bool, len(labels))
	for _, l := range labels {
		labelSet[strings.ToUpper(l)] = true
	}
	return &Masker{
		recognizer: recognizer,
		resolver:   resolver,
		keywords:   keywords,
		locLabels:  labelSet,
	}
}

// Mask applies country-preserving PII masking to text.
//
// # Outputs
//
//   - string: either the input unchanged, or exactly LocTagPrefix plus
//     the primary resolved country.
//
// Mask never fails: recognizer errors degrade to the token scan and are
// logged, because masking sits on the hot path of every request.
func (m *Masker) Mask(ctx context.Context, text string) string {
	countries := m.resolveCountries(ctx, text)
	if len(countries) == 0 {
		// Nothing to mask and nothing to preserve.
		return text
	}

	if !m.addressLike(text) {
		// A bare country or demonym mention is not PII.
		return text
	}

	return LocTagPrefix + countries[0]
}

// resolveCountries collects resolved countries in entity order, preferring
// NER spans and falling back to a token-by-token scan that recovers bare
// codes like "SG" that NER may not tag as an entity.
func (m *Masker) resolveCountries(ctx context.Context, text string) []string {
	var resolved []string
	seen := make(map[string]bool)

	if m.recognizer != nil {
		entities, err := m.recognizer.Analyze(ctx, text)
		if err != nil {
			slog.Warn("Entity recognizer unavailable, falling back to token scan", "error", err)
		} else {
			for _, ent := range entities {
				if !m.locLabels[strings.ToUpper(ent.Label)] {
					continue
				}
				if c, ok := m.resolver.Resolve(ent.Text); ok && !seen[c] {
					seen[c] = true
					resolved = append(resolved, c)
				}
			}
		}
	}

	if len(resolved) > 0 {
		return resolved
	}

	for _, token := range splitTokens(text) {
		if c, ok := m.resolver.Resolve(token); ok && !seen[c] {
			seen[c] = true
			resolved = append(resolved, c)
		}
	}
	return resolved
}

// addressLike reports whether text likely contains a physical address:
// any digit, or any configured address keyword as a case-insensitive
// substring. Favors over-masking structured address text.
func (m *Masker) addressLike(text string) bool {
	for _, r := range text {
		if unicode.IsDigit(r) {
			return true
		}
	}
	lowered := strings.ToLower(text)
	for _, kw := range m.keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// splitTokens splits text on whitespace and punctuation, keeping letters
// and digits together so ISO codes and postal fragments survive intact.
func splitTokens(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
