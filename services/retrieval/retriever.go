// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieval provides the knowledge-base search collaborator used
// by the retrieval-augmented channel.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/ieqlabs/kbchat/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("kbchat.retrieval")

const defaultTopK = 4

// Retriever searches the knowledge base for context relevant to a query.
type Retriever interface {
	// Retrieve returns the matching context texts and the hit count.
	// Zero hits with a nil error is a legitimate outcome; callers use it
	// to skip the LLM call entirely.
	Retrieve(ctx context.Context, query string) ([]string, int, error)
}

// Compile-time interface compliance.
var _ Retriever = (*WeaviateRetriever)(nil)

// WeaviateRetriever performs semantic search over the KnowledgeChunk
// class.
type WeaviateRetriever struct {
	client *weaviate.Client
	topK   int
}

// NewWeaviateRetriever creates a retriever. A topK <= 0 uses the default.
func NewWeaviateRetriever(client *weaviate.Client, topK int) *WeaviateRetriever {
	if topK <= 0 {
		topK = defaultTopK
	}
	return &WeaviateRetriever{client: client, topK: topK}
}

// Retrieve implements the Retriever interface.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string) ([]string, int, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Retrieve")
	defer span.End()

	nearText := r.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	// Certainty is requested instead of distance because it is always in
	// [0,1] regardless of the configured metric.
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName("KnowledgeChunk").
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(r.topK).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to search the KnowledgeChunk class", "error", err)
		return nil, 0, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.KnowledgeChunkQueryResponse](result)
	if err != nil {
		slog.Error("Failed to parse search results", "error", err)
		return nil, 0, fmt.Errorf("failed to parse results: %w", err)
	}

	chunks := parsed.Get.KnowledgeChunk
	contexts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		contexts = append(contexts, chunk.Content)
	}

	span.SetAttributes(attribute.Int("retrieval.hits", len(contexts)))
	slog.Debug("Retrieved knowledge chunks", "hits", len(contexts))
	return contexts, len(contexts), nil
}
