// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnRowToMap(t *testing.T) {
	row := TurnRow{
		Role:           "user",
		Content:        "what are acceptable CO2 levels?",
		Channel:        NodeRAGProcessing,
		ConversationID: "conv-1",
		Timestamp:      1740000000000,
		Topic:          "CO2 thresholds",
	}

	m := row.ToMap()
	assert.Equal(t, "user", m["role"])
	assert.Equal(t, "what are acceptable CO2 levels?", m["content"])
	assert.Equal(t, NodeRAGProcessing, m["channel"])
	assert.Equal(t, "conv-1", m["conversation_id"])
	assert.Equal(t, int64(1740000000000), m["timestamp"])
	assert.Equal(t, "CO2 thresholds", m["topic"])
}

func TestAppendEmptyBatchIsNoop(t *testing.T) {
	store := NewWeaviateConversationStore(nil)

	assert.NoError(t, store.Append(context.Background(), nil))
	assert.NoError(t, store.Append(context.Background(), []TurnRow{}))
}
