// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pii implements country-preserving PII masking for the text
// safety pipeline. Named entities are detected by an external recognizer
// service, location mentions are canonicalized through the country
// resolver, and address-like text is reduced to a bare jurisdiction tag.
package pii

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var piiTracer = otel.Tracer("kbchat.guardrail.pii")

// Entity is one named entity detected in a text span.
type Entity struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// EntityRecognizer defines the contract for NER-driven entity detection.
//
// # Description
//
// Abstracts the external entity-recognition engine so the masker can be
// tested with fakes and the deployment can swap recognizer backends.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type EntityRecognizer interface {
	// Analyze returns the named entities found in text.
	//
	// An error means the recognizer was unreachable or returned garbage;
	// callers decide whether to degrade (the masker falls back to a
	// token scan) or fail.
	Analyze(ctx context.Context, text string) ([]Entity, error)
}

// Compile-time interface compliance.
var _ EntityRecognizer = (*HTTPRecognizer)(nil)

// HTTPRecognizer calls a presidio-style analyzer service over HTTP.
//
// # Description
//
// Posts {"text": ...} to the configured endpoint and expects a JSON array
// of {text, label} objects back. The request honors the caller's context
// so a cancelled request budget propagates to the analyzer call.
type HTTPRecognizer struct {
	httpClient *http.Client
	baseURL    string
}

// NewHTTPRecognizer creates a recognizer client for the given base URL.
func NewHTTPRecognizer(baseURL string) (*HTTPRecognizer, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("entity recognizer URL is empty")
	}
	return &HTTPRecognizer{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Analyze implements the EntityRecognizer interface.
func (r *HTTPRecognizer) Analyze(ctx context.Context, text string) ([]Entity, error) {
	ctx, span := piiTracer.Start(ctx, "HTTPRecognizer.Analyze")
	defer span.End()

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyzer request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", r.baseURL+"/analyze", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "analyzer call failed")
		return nil, fmt.Errorf("analyzer call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read analyzer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		span.SetAttributes(attribute.Int("analyzer.status_code", resp.StatusCode))
		return nil, fmt.Errorf("analyzer returned status %d: %s", resp.StatusCode, string(body))
	}

	var entities []Entity
	if err := json.Unmarshal(body, &entities); err != nil {
		return nil, fmt.Errorf("failed to parse analyzer response: %w", err)
	}
	span.SetAttributes(attribute.Int("analyzer.entities", len(entities)))
	return entities, nil
}
