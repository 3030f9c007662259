// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package guardrail implements the layered text safety pipeline applied
// on both sides of every model invocation. Validation stages run in a
// fixed order and short-circuit on the first failure; text that clears
// every stage is handed to the PII masker before it crosses the boundary.
package guardrail

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ieqlabs/kbchat/services/guardrail/enforcement"
	"gopkg.in/yaml.v3"
)

var guardTracer = otel.Tracer("kbchat.guardrail")

// PIIMasker is the final, always-applied transform of the pipeline.
type PIIMasker interface {
	Mask(ctx context.Context, text string) string
}

// passthroughMasker is used when no masker is supplied.
type passthroughMasker struct{}

func (passthroughMasker) Mask(_ context.Context, text string) string { return text }

var (
	base64ShapeRe    = regexp.MustCompile(`^[A-Za-z0-9+/=\s]+$`)
	printableASCIIRe = regexp.MustCompile(`^[\x09\x0A\x0D\x20-\x7E]+$`)
)

// Engine is the text safety pipeline.
//
// # Description
//
// Engine runs five validation stages in order, each independent and
// short-circuiting on first failure:
//
//  1. Type/encoding: null bytes, long base64-shaped spans, characters
//     outside printable ASCII plus tab/newline/carriage-return.
//  2. Size/structure: maximum length, maximum newline count, excessive
//     brace/angle-bracket counts.
//  3. Malicious payload: regex scan for code-execution, shell and SQL
//     mutation primitives.
//  4. Prompt injection: regex scan for jailbreak/override phrasings.
//  5. Domain scope: when an allow-list is configured, text must contain
//     at least one allowed keyword.
//
// Text that clears all five stages is passed through the PII masker and
// the masked result is returned. A failure at any stage is logged with
// phase, reason and a fixed control tag, then returned as a *Violation;
// the caller decides the user-visible consequence.
//
// # Thread Safety
//
// Read-only after construction; safe for concurrent use.
type Engine struct {
	masker         PIIMasker
	malicious      []*regexp.Regexp
	injection      []*regexp.Regexp
	maxChars       int
	maxLines       int
	maxNesting     int
	maxBase64Span  int
	allowedDomains []string
}

// NewEngine initializes the safety pipeline from the embedded pattern file.
//
// # Inputs
//
//   - masker: PII masking collaborator. May be nil; text then passes the
//     final stage unchanged.
//   - cfg: limit overrides and the optional domain allow-list.
//
// # Outputs
//
//   - *Engine: ready-to-use pipeline.
//   - error: the embedded YAML was malformed or a pattern failed to
//     compile. Callers must treat this as fatal at startup.
func NewEngine(masker PIIMasker, cfg Config) (*Engine, error) {
	var file patternFile
	if err := yaml.Unmarshal(enforcement.GuardrailPatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded guardrail file: %w", err)
	}

	malicious, err := compileEntries(file.MaliciousPatterns)
	if err != nil {
		return nil, err
	}
	injection, err := compileEntries(file.InjectionPatterns)
	if err != nil {
		return nil, err
	}

	if masker == nil {
		masker = passthroughMasker{}
	}

	domains := make([]string, 0, len(cfg.AllowedDomains))
	for _, d := range cfg.AllowedDomains {
		domains = append(domains, strings.ToLower(d))
	}

	return &Engine{
		masker:         masker,
		malicious:      malicious,
		injection:      injection,
		maxChars:       pickLimit(cfg.MaxChars, file.Limits.MaxChars),
		maxLines:       pickLimit(cfg.MaxLines, file.Limits.MaxLines),
		maxNesting:     pickLimit(cfg.MaxNestingChars, file.Limits.MaxNestingChars),
		maxBase64Span:  pickLimit(cfg.MaxBase64Span, file.Limits.MaxBase64Span),
		allowedDomains: domains,
	}, nil
}

func pickLimit(override, embedded int) int {
	if override > 0 {
		return override
	}
	return embedded
}

// GuardInput applies the pipeline to text entering the model.
func (e *Engine) GuardInput(ctx context.Context, text string) (string, error) {
	return e.guard(ctx, text, PhaseInput)
}

// GuardOutput applies the pipeline to text produced by the model.
func (e *Engine) GuardOutput(ctx context.Context, text string) (string, error) {
	return e.guard(ctx, text, PhaseOutput)
}

func (e *Engine) guard(ctx context.Context, text string, phase Phase) (string, error) {
	ctx, span := guardTracer.Start(ctx, "Engine.guard")
	defer span.End()
	span.SetAttributes(attribute.String("guardrail.phase", string(phase)))

	checks := []func(string) string{
		e.checkTextEncoding,
		e.checkSizeAndStructure,
		e.checkMaliciousPayload,
		e.checkPromptInjection,
		e.checkDomainScope,
	}
	for _, check := range checks {
		if reason := check(text); reason != "" {
			v := &Violation{Phase: phase, Reason: reason}
			span.SetAttributes(attribute.String("guardrail.violation", reason))
			slog.Warn("LLM guardrail violation",
				"phase", string(phase),
				"reason", reason,
				"control", controlTag,
			)
			return "", v
		}
	}

	return e.masker.Mask(ctx, text), nil
}

// checkTextEncoding rejects binary, encoded and non-printable content.
func (e *Engine) checkTextEncoding(text string) string {
	if strings.ContainsRune(text, '\x00') {
		return "binary content detected"
	}
	if len(text) > e.maxBase64Span && base64ShapeRe.MatchString(text) {
		return "encoded payload detected"
	}
	if !printableASCIIRe.MatchString(text) {
		return "non-printable characters detected"
	}
	return ""
}

func (e *Engine) checkSizeAndStructure(text string) string {
	if len(text) > e.maxChars {
		return "input exceeds maximum length"
	}
	if strings.Count(text, "\n") > e.maxLines {
		return "excessive line breaks detected"
	}
	if strings.Count(text, "{") > e.maxNesting || strings.Count(text, "<") > e.maxNesting {
		return "suspicious nested structure detected"
	}
	return ""
}

func (e *Engine) checkMaliciousPayload(text string) string {
	for _, re := range e.malicious {
		if re.MatchString(text) {
			return "malicious payload detected"
		}
	}
	return ""
}

func (e *Engine) checkPromptInjection(text string) string {
	for _, re := range e.injection {
		if re.MatchString(text) {
			return "prompt injection attempt detected"
		}
	}
	return ""
}

func (e *Engine) checkDomainScope(text string) string {
	if len(e.allowedDomains) == 0 {
		return ""
	}
	lowered := strings.ToLower(text)
	for _, domain := range e.allowedDomains {
		if strings.Contains(lowered, domain) {
			return ""
		}
	}
	return "input outside allowed domain scope"
}
