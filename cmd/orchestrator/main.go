// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command orchestrator starts the kbchat conversation orchestrator.
//
// This is the main entry point for the containerized orchestrator
// service. It reads configuration from environment variables and starts
// the server.
//
// # Environment Variables
//
//   - ORCHESTRATOR_PORT: HTTP server port (default: 12310)
//   - LLM_BACKEND_TYPE: LLM provider - gateway, openai (default: gateway)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (required)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: kbchat-otel-collector:4317)
//   - TIME_BUDGET_SECONDS: default per-turn budget (default: 48)
//   - ALLOWED_DOMAINS: comma-separated domain-scope keywords (optional)
//   - RECOGNIZER_SERVICE_URL: NER sidecar for PII masking (optional)
//   - RETRIEVAL_TOP_K: knowledge chunks fetched per query (default: 4)
//   - ORCHESTRATOR_API_KEY: bearer key guarding /v1 (optional)
//   - LOG_LEVEL: debug, info, warn, error (default: info)
//
// The gateway backend additionally reads LLM_GATEWAY_URL,
// LLM_GATEWAY_MODEL, IDP_TOKEN_URL, IDP_CLIENT_ID, and IDP_CLIENT_SECRET.
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/ieqlabs/kbchat/pkg/logging"
	"github.com/ieqlabs/kbchat/services/orchestrator"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
		Service: "orchestrator",
		JSON:    true,
	})
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := orchestrator.Config{
		Port:              getEnvInt("ORCHESTRATOR_PORT", 12310),
		LLMBackend:        getEnvString("LLM_BACKEND_TYPE", "gateway"),
		WeaviateURL:       os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint:      getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "kbchat-otel-collector:4317"),
		TimeBudgetSeconds: getEnvFloat("TIME_BUDGET_SECONDS", 48),
		AllowedDomains:    splitCSV(os.Getenv("ALLOWED_DOMAINS")),
		RecognizerURL:     os.Getenv("RECOGNIZER_SERVICE_URL"),
		RetrievalTopK:     getEnvInt("RETRIEVAL_TOP_K", 4),
		APIKey:            os.Getenv("ORCHESTRATOR_API_KEY"),
	}

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns the environment variable as float64 or a default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// splitCSV splits a comma-separated list, trimming whitespace and
// dropping empty items.
func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	var items []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
