// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieqlabs/kbchat/services/orchestrator/datatypes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeRunner mutates the state like a completed turn would.
type fakeRunner struct {
	budget float64
	mutate func(*datatypes.ConversationState)
}

func (f *fakeRunner) Run(_ context.Context, state *datatypes.ConversationState, budgetSeconds float64) *datatypes.ConversationState {
	f.budget = budgetSeconds
	if f.mutate != nil {
		f.mutate(state)
	}
	return state
}

func newChatRouter(runner *fakeRunner) *gin.Engine {
	router := gin.New()
	router.POST("/v1/chat", HandleConversation(runner))
	return router
}

func postChat(t *testing.T, router *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/chat", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHandleConversationSuccess(t *testing.T) {
	runner := &fakeRunner{mutate: func(s *datatypes.ConversationState) {
		s.Chat = "the answer"
		s.Topic = "IEQ Basics"
		s.AppendHealthCode(datatypes.StatusChannelOK)
	}}
	router := newChatRouter(runner)

	w := postChat(t, router, map[string]any{
		"conversation_id":     "conv-1",
		"user_id":             "user-1",
		"query":               "what is IEQ?",
		"time_budget_seconds": 20,
	})

	require.Equal(t, http.StatusOK, w.Code)

	var envelope datatypes.ChatEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "conv-1", envelope.ConversationID)
	assert.Equal(t, "user-1", envelope.UserID)
	assert.Equal(t, datatypes.ResponseTypeText, envelope.LLMResponse.Type)
	assert.Equal(t, "the answer", envelope.LLMResponse.Data)
	assert.Equal(t, "IEQ Basics", envelope.LLMResponse.TopicName)
	assert.Nil(t, envelope.ErrorDetails)
	// Server-generated interaction ID when the client omits one.
	assert.NotEmpty(t, envelope.InteractionID)
	assert.InDelta(t, 20.0, runner.budget, 0.001)
}

func TestHandleConversationTimeoutEnvelope(t *testing.T) {
	runner := &fakeRunner{mutate: func(s *datatypes.ConversationState) {
		s.Default = datatypes.MsgTimeout
		s.AppendHealthCode(datatypes.StatusBudgetExhausted)
	}}
	router := newChatRouter(runner)

	w := postChat(t, router, map[string]any{
		"conversation_id": "conv-2",
		"user_id":         "user-1",
		"query":           "slow question",
	})

	// Timeouts are a 200 with the status inside the envelope.
	require.Equal(t, http.StatusOK, w.Code)

	var envelope datatypes.ChatEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, datatypes.ResponseTypeError, envelope.LLMResponse.Type)
	assert.Equal(t, datatypes.MsgTimeout, envelope.LLMResponse.Data)
	require.NotNil(t, envelope.ErrorDetails)
	assert.Equal(t, datatypes.StatusBudgetExhausted, envelope.ErrorDetails.Code)
}

func TestHandleConversationInvalidJSON(t *testing.T) {
	router := newChatRouter(&fakeRunner{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/v1/chat", bytes.NewReader([]byte("{not json")))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleConversationMissingFields(t *testing.T) {
	router := newChatRouter(&fakeRunner{})

	w := postChat(t, router, map[string]any{
		"query": "no conversation id or user id",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleConversationEchoesUserContext(t *testing.T) {
	runner := &fakeRunner{mutate: func(s *datatypes.ConversationState) {
		s.Chat = "ok"
		s.AppendHealthCode(datatypes.StatusChannelOK)
	}}
	router := newChatRouter(runner)

	w := postChat(t, router, map[string]any{
		"conversation_id": "conv-3",
		"user_id":         "user-1",
		"query":           "q",
		"user_context":    map[string]any{"tenant": "acme"},
	})

	require.Equal(t, http.StatusOK, w.Code)

	var envelope datatypes.ChatEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "acme", envelope.UserContext["tenant"])
}

func TestHealthCheckReturnsOK(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
}
