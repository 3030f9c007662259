// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("kbchat.llm.gateway")

const (
	defaultGatewayRetries = 3
	defaultGatewayTimeout = 60 * time.Second
	defaultTemperature    = 0.01
	retryPause            = 1 * time.Second
)

// gatewayGuardrails are the server-side guardrail profiles requested on
// every call.
var gatewayGuardrails = []string{"custom-guardrails", "content-safety"}

// GatewayConfig configures the JWT-guarded model gateway client.
type GatewayConfig struct {
	BaseURL string
	Model   string

	// Retries bounds the total number of attempts. Zero uses the default.
	Retries int

	// Timeout bounds a single HTTP round trip. Zero uses the default.
	Timeout time.Duration
}

// GatewayConfigFromEnv reads the gateway configuration from the
// environment.
func GatewayConfigFromEnv() (GatewayConfig, error) {
	baseURL := os.Getenv("LLM_GATEWAY_URL")
	if baseURL == "" {
		return GatewayConfig{}, fmt.Errorf("LLM_GATEWAY_URL environment variable not set")
	}
	model := os.Getenv("LLM_GATEWAY_MODEL")
	if model == "" {
		slog.Warn("LLM_GATEWAY_MODEL not set, defaulting to kb-chat-default")
		model = "kb-chat-default"
	}
	cfg := GatewayConfig{BaseURL: baseURL, Model: model}
	if v := os.Getenv("LLM_GATEWAY_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Retries = n
		}
	}
	return cfg, nil
}

type gatewayRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	Guardrails  []string  `json:"guardrails"`
}

// gatewayResponse covers the response shapes the gateway is known to
// emit. Exactly one of the fields is expected to be populated.
type gatewayResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Output json.RawMessage `json:"output"`
}

type gatewayOutputBlock struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Compile-time interface compliance.
var _ LLMClient = (*GatewayClient)(nil)

// GatewayClient calls the organization's JWT-guarded model gateway.
//
// # Description
//
// Each Invoke attempt posts an OpenAI-style chat payload with a bearer
// token from the TokenSource. A 401 triggers a token refresh and a free
// retry; other failures burn one of the bounded retry attempts with a
// short pause between them. Because the gateway fronts more than one
// upstream model family, the response is parsed through a schema fan-out
// covering every shape the gateway is known to emit.
//
// # Thread Safety
//
// Safe for concurrent use.
type GatewayClient struct {
	httpClient *http.Client
	tokens     TokenSource
	baseURL    string
	model      string
	retries    int
}

// NewGatewayClient creates a gateway client.
//
// # Inputs
//
//   - cfg: endpoint, model and retry tuning. BaseURL and Model are
//     required.
//   - tokens: bearer token supplier. Required.
func NewGatewayClient(cfg GatewayConfig, tokens TokenSource) (*GatewayClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("gateway base URL is empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gateway model is empty")
	}
	if tokens == nil {
		return nil, fmt.Errorf("gateway token source is nil")
	}
	retries := cfg.Retries
	if retries <= 0 {
		retries = defaultGatewayRetries
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	slog.Info("Initializing gateway LLM client", "base_url", cfg.BaseURL, "model", cfg.Model)
	return &GatewayClient{
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
		retries:    retries,
	}, nil
}

// Invoke implements the LLMClient interface.
func (g *GatewayClient) Invoke(ctx context.Context, messages []Message) (string, error) {
	ctx, span := tracer.Start(ctx, "GatewayClient.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", g.model),
		attribute.Int("llm.num_messages", len(messages)),
	)

	payload := gatewayRequest{
		Model:       g.model,
		Messages:    messages,
		Temperature: defaultTemperature,
		Guardrails:  gatewayGuardrails,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to marshal gateway request: %w", err)
	}

	for attempt := 0; attempt < g.retries; attempt++ {
		token, err := g.tokens.Token(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return "", fmt.Errorf("failed to obtain a gateway token: %w", err)
		}

		status, body, err := g.post(ctx, reqBody, token)
		if err != nil {
			slog.Error("Gateway call failed", "error", err, "attempt", attempt)
			if err := g.pause(ctx); err != nil {
				return "", err
			}
			continue
		}

		if status == http.StatusUnauthorized {
			slog.Warn("Gateway rejected the bearer token, refreshing", "attempt", attempt)
			if _, err := g.tokens.Refresh(ctx); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return "", fmt.Errorf("failed to refresh the gateway token: %w", err)
			}
			continue
		}

		if status != http.StatusOK {
			slog.Error("Gateway returned an error", "status_code", status, "response", string(body))
			if err := g.pause(ctx); err != nil {
				return "", err
			}
			continue
		}

		content, err := parseGatewayContent(body)
		if err != nil {
			// A schema mismatch is an internal fault, not a transient one;
			// retrying the same payload cannot fix it.
			slog.Error("Failed to parse gateway response", "error", err, "response", string(body))
			span.RecordError(err)
			span.SetStatus(codes.Error, "unrecognized response schema")
			return "", err
		}
		return content, nil
	}

	err = fmt.Errorf("LLM call failed after %d retries", g.retries)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return "", err
}

func (g *GatewayClient) post(ctx context.Context, body []byte, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", g.baseURL+"/v1/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read gateway response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// pause waits the fixed retry interval unless the context expires first.
func (g *GatewayClient) pause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryPause):
		return nil
	}
}

// parseGatewayContent extracts assistant text from any of the known
// gateway response shapes: OpenAI-style choices, a block list under
// "output", or a bare "output" string.
func parseGatewayContent(body []byte) (string, error) {
	var resp gatewayResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &SchemaError{Raw: body}
	}

	var content string
	switch {
	case len(resp.Choices) > 0:
		content = resp.Choices[0].Message.Content

	case len(resp.Output) > 0 && resp.Output[0] == '[':
		var blocks []gatewayOutputBlock
		if err := json.Unmarshal(resp.Output, &blocks); err != nil {
			return "", &SchemaError{Raw: body}
		}
		var parts []string
		for _, block := range blocks {
			for _, item := range block.Content {
				if item.Type == "output_text" {
					parts = append(parts, item.Text)
				}
			}
		}
		content = strings.Join(parts, "")

	case len(resp.Output) > 0 && resp.Output[0] == '"':
		if err := json.Unmarshal(resp.Output, &content); err != nil {
			return "", &SchemaError{Raw: body}
		}

	default:
		return "", &SchemaError{Raw: body}
	}

	if content == "" {
		return "", fmt.Errorf("empty content received from LLM")
	}
	return content, nil
}
