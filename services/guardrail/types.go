// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package guardrail

import (
	"errors"
	"fmt"
	"regexp"
)

// Phase identifies which side of the model boundary a text is crossing.
type Phase string

const (
	PhaseInput  Phase = "input"
	PhaseOutput Phase = "output"
)

// controlTag is the fixed control identifier attached to every violation
// log entry for audit correlation.
const controlTag = "pre_post_inference_guardrails"

// Violation reports a text rejected by one of the pipeline stages.
//
// The Reason is a short, human-readable description of the failing stage
// and is stable enough to log and branch on at the channel boundary.
type Violation struct {
	Phase  Phase
	Reason string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Phase, v.Reason)
}

// IsViolation reports whether err is a guardrail Violation and returns it.
func IsViolation(err error) (*Violation, bool) {
	var v *Violation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}

// Config tunes the safety pipeline at construction time.
//
// Zero values fall back to the limits carried in the embedded pattern
// file. Immutable once passed to NewEngine; safe to share.
type Config struct {
	// MaxChars overrides the maximum accepted text length.
	MaxChars int

	// MaxLines overrides the maximum accepted newline count.
	MaxLines int

	// MaxNestingChars overrides the brace/angle-bracket count threshold.
	MaxNestingChars int

	// MaxBase64Span overrides the minimum length at which a fully
	// base64-shaped text is rejected as an encoded payload.
	MaxBase64Span int

	// AllowedDomains is an optional allow-list of domain keywords. When
	// non-empty, text must contain at least one keyword (case-insensitive
	// substring) to pass the domain-scope stage.
	AllowedDomains []string
}

// patternFile mirrors the embedded guardrail_patterns.yaml layout.
type patternFile struct {
	Limits            patternLimits  `yaml:"limits"`
	MaliciousPatterns []patternEntry `yaml:"malicious_patterns"`
	InjectionPatterns []patternEntry `yaml:"injection_patterns"`
}

type patternLimits struct {
	MaxChars        int `yaml:"max_chars"`
	MaxLines        int `yaml:"max_lines"`
	MaxNestingChars int `yaml:"max_nesting_chars"`
	MaxBase64Span   int `yaml:"max_base64_span"`
}

type patternEntry struct {
	Id          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
}

// compileEntries compiles every pattern case-insensitively, preserving the
// file order so detection precedence is deterministic.
func compileEntries(entries []patternEntry) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(entries))
	for _, entry := range entries {
		re, err := regexp.Compile("(?i)" + entry.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %s: %w", entry.Id, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
