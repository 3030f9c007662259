// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
)

var convTracer = otel.Tracer("kbchat.orchestrator.datatypes")

// TurnRow is one persisted half of a conversation exchange (either the
// user's question or the assistant's answer).
type TurnRow struct {
	Role           string `json:"role"`
	Content        string `json:"content"`
	Channel        string `json:"channel"`
	ConversationID string `json:"conversation_id"`
	Timestamp      int64  `json:"timestamp"`
	Topic          string `json:"topic"`
}

// ToMap converts the row to the map format required by Weaviate's
// WithProperties() method.
func (r *TurnRow) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"role":            r.Role,
		"content":         r.Content,
		"channel":         r.Channel,
		"conversation_id": r.ConversationID,
		"timestamp":       r.Timestamp,
		"topic":           r.Topic,
	}
}

// ConversationStore persists and recalls conversation history.
//
// # Description
//
// Append is called fire-and-forget from the channel handlers; failures
// are logged by the caller and never fail the user-visible response.
// History returns the most recent rows in chronological order.
type ConversationStore interface {
	Append(ctx context.Context, rows []TurnRow) error
	History(ctx context.Context, conversationID string, limit int) ([]TurnRow, error)
}

// Compile-time interface compliance.
var _ ConversationStore = (*WeaviateConversationStore)(nil)

// WeaviateConversationStore keeps conversation turns in the
// ConversationTurn class.
type WeaviateConversationStore struct {
	client *weaviate.Client
}

// NewWeaviateConversationStore creates a store over the given client.
func NewWeaviateConversationStore(client *weaviate.Client) *WeaviateConversationStore {
	return &WeaviateConversationStore{client: client}
}

// Append writes each row as one ConversationTurn object.
//
// Rows are written individually; a failure aborts the remaining rows and
// is returned to the caller, who decides whether it matters (the channel
// handlers log and move on).
func (s *WeaviateConversationStore) Append(ctx context.Context, rows []TurnRow) error {
	ctx, span := convTracer.Start(ctx, "WeaviateConversationStore.Append")
	defer span.End()

	if len(rows) == 0 {
		return nil
	}

	for _, row := range rows {
		_, err := s.client.Data().Creator().
			WithClassName("ConversationTurn").
			WithProperties(row.ToMap()).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to save conversation turn to Weaviate: %w", err)
		}
	}
	slog.Debug("Conversation persisted", "conversationId", rows[0].ConversationID, "rows", len(rows))
	return nil
}

// History returns up to limit most recent turns, oldest first.
func (s *WeaviateConversationStore) History(ctx context.Context, conversationID string, limit int) ([]TurnRow, error) {
	ctx, span := convTracer.Start(ctx, "WeaviateConversationStore.History")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"conversation_id"}).
		WithOperator(filters.Equal).
		WithValueString(conversationID)

	sortBy := graphql.Sort{
		Path:  []string{"timestamp"},
		Order: graphql.Desc,
	}

	fields := []graphql.Field{
		{Name: "role"},
		{Name: "content"},
		{Name: "channel"},
		{Name: "conversation_id"},
		{Name: "timestamp"},
		{Name: "topic"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName("ConversationTurn").
		WithFields(fields...).
		WithWhere(where).
		WithSort(sortBy).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate history query failed: %w", err)
	}

	parsed, err := ParseGraphQLResponse[TurnQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("error parsing history query response: %w", err)
	}

	turns := parsed.Get.ConversationTurn
	// Query returns newest first; callers want chronological order.
	sort.Slice(turns, func(i, j int) bool { return turns[i].Timestamp < turns[j].Timestamp })
	return turns, nil
}
