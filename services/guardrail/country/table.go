// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package country resolves free-text location tokens (names, ISO codes,
// demonyms, misspellings) to canonical country names.
//
// The token table is built once from reference data embedded in the binary
// and is read-only afterwards, so it is safe for unsynchronized concurrent
// reads across requests.
package country

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// countryReferenceData holds the raw byte content of 'countries.yaml'.
//
// Baked in at compile time so the jurisdiction table is immutable at runtime
// and travels with the executable, the same way the guardrail patterns do.
//
//go:embed countries.yaml
var countryReferenceData []byte

// countryRecord mirrors one entry of the embedded reference file.
type countryRecord struct {
	Name     string   `yaml:"name"`
	Official string   `yaml:"official"`
	Common   string   `yaml:"common"`
	Alpha2   string   `yaml:"alpha2"`
	Alpha3   string   `yaml:"alpha3"`
	Aliases  []string `yaml:"aliases"`
	Demonyms []string `yaml:"demonyms"`
}

type countryFile struct {
	Countries []countryRecord `yaml:"countries"`
}

// Table maps every normalized country token to its canonical country name
// and exposes the flat token set for fuzzy lookup.
//
// # Thread Safety
//
// Read-only after construction; safe for concurrent use.
type Table struct {
	tokens map[string]string
	all    []string
}

// BuildTable constructs the token table from the embedded reference data.
//
// # Description
//
// For each country, every variant (demonyms, aliases, ISO alpha-2/alpha-3
// codes, official and common names, and finally the canonical name) is
// lower-cased, trimmed, and inserted keyed by the normalized form. Insertion
// order is deliberate: later inserts win on collision, so an explicit
// country name deterministically beats another country's demonym.
//
// # Outputs
//
//   - *Table: ready for resolution.
//   - error: Non-nil if the embedded YAML is malformed or empty.
func BuildTable() (*Table, error) {
	var file countryFile
	if err := yaml.Unmarshal(countryReferenceData, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded country data: %w", err)
	}
	if len(file.Countries) == 0 {
		return nil, fmt.Errorf("embedded country data contains no countries")
	}

	t := &Table{tokens: make(map[string]string)}
	for _, c := range file.Countries {
		canonical := c.Name

		// Collision policy: demonym < alias < code < official/common < name.
		var variants []string
		variants = append(variants, c.Demonyms...)
		variants = append(variants, c.Aliases...)
		if c.Alpha2 != "" {
			variants = append(variants, c.Alpha2)
		}
		if c.Alpha3 != "" {
			variants = append(variants, c.Alpha3)
		}
		if c.Official != "" {
			variants = append(variants, c.Official)
		}
		if c.Common != "" {
			variants = append(variants, c.Common)
		}
		variants = append(variants, c.Name)

		for _, v := range variants {
			key := Normalize(v)
			if key == "" {
				continue
			}
			if _, exists := t.tokens[key]; !exists {
				t.all = append(t.all, key)
			}
			t.tokens[key] = canonical
		}
	}
	return t, nil
}

// Normalize lower-cases and trims a token the way table keys are stored.
func Normalize(token string) string {
	return strings.ToLower(strings.TrimSpace(token))
}

// Lookup returns the canonical country for an exact normalized token.
func (t *Table) Lookup(token string) (string, bool) {
	c, ok := t.tokens[Normalize(token)]
	return c, ok
}

// Tokens returns the flat set of all known normalized tokens.
// Callers must not modify the returned slice.
func (t *Table) Tokens() []string {
	return t.all
}

// Len returns the number of distinct tokens in the table.
func (t *Table) Len() int {
	return len(t.tokens)
}
