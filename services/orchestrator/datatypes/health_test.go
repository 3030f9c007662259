// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapResponseType(t *testing.T) {
	tests := []struct {
		name        string
		healthCode  string
		routeReason string
		want        string
	}{
		{"channel ok", "OK001", "", ResponseTypeText},
		{"router ok", "OK000", "", ResponseTypeText},
		{"content safety", "ERR006", "", ResponseTypeContentSafety},
		{"content safety dominates llm failure", "ERR001,ERR006", "", ResponseTypeContentSafety},
		{"non english reason", "OK000", "not english", ResponseTypeNonEnglish},
		{"non english beats prompt short", "ERR007", "not english", ResponseTypeNonEnglish},
		{"prompt short code", "OK000,ERR007", "", ResponseTypePromptShort},
		{"prompt short reason only", "OK000", "prompt too short", ResponseTypePromptShort},
		{"no context", "ERR003", "", ResponseTypeNoContext},
		{"llm failure", "ERR001", "", ResponseTypeError},
		{"unknown route", "ERR004", "", ResponseTypeError},
		{"budget exhausted", "OK001,ERR005", "", ResponseTypeError},
		{"warning band", "OK001,WRN001", "", ResponseTypeWarning},
		{"empty", "", "", ResponseTypeText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapResponseType(tt.healthCode, tt.routeReason))
		})
	}
}

func TestErrorDetailsFor(t *testing.T) {
	assert.Nil(t, ErrorDetailsFor("OK000"))
	assert.Nil(t, ErrorDetailsFor("OK000,OK001"))

	details := ErrorDetailsFor("OK001,ERR005")
	require.NotNil(t, details)
	assert.Equal(t, StatusBudgetExhausted, details.Code)
	assert.NotEmpty(t, details.Message)

	// First error code in appearance order wins.
	details = ErrorDetailsFor("ERR001,ERR006")
	require.NotNil(t, details)
	assert.Equal(t, StatusLLMFailed, details.Code)

	// Unknown warning codes still yield details.
	details = ErrorDetailsFor("WRN042")
	require.NotNil(t, details)
	assert.Equal(t, "WRN042", details.Code)
}

func TestAppendHealthCode(t *testing.T) {
	state := NewConversationState("q", "conv-1")
	assert.Empty(t, state.HealthCode)

	state.AppendHealthCode(StatusRouterOK)
	assert.Equal(t, "OK000", state.HealthCode)

	state.AppendHealthCode(StatusBudgetExhausted)
	assert.Equal(t, "OK000,ERR005", state.HealthCode)

	assert.True(t, state.HasHealthCode(StatusRouterOK))
	assert.True(t, state.HasHealthCode(StatusBudgetExhausted))
	assert.False(t, state.HasHealthCode(StatusContentSafety))
}

func TestFinalAnswerPrefersChat(t *testing.T) {
	state := NewConversationState("q", "conv-1")
	state.Default = "fallback"
	assert.Equal(t, "fallback", state.FinalAnswer())

	state.Chat = "channel answer"
	assert.Equal(t, "channel answer", state.FinalAnswer())
}

func TestNewConversationState(t *testing.T) {
	state := NewConversationState("a question", "conv-9")
	assert.Equal(t, NodeStart, state.Route)
	assert.Equal(t, FetchTopicYes, state.FetchTopic)
	assert.Equal(t, "a question", state.Query)
	assert.Equal(t, "conv-9", state.ConversationID)
}
