// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ieqlabs/kbchat/services/orchestrator/datatypes"
)

var chatTracer = otel.Tracer("kbchat.orchestrator.handlers")

// TurnRunner executes one conversation turn through the state graph.
// Satisfied by the orchestrator's StateMachine; narrowed to an interface
// so the handler can be tested with a fake.
type TurnRunner interface {
	Run(ctx context.Context, state *datatypes.ConversationState, budgetSeconds float64) *datatypes.ConversationState
}

// HandleConversation processes one conversation turn.
//
// # Description
//
// Binds and validates the request body, runs the turn through the state
// machine, and replies with the response envelope. Every outcome,
// including guardrail rejections and timeouts, returns HTTP 200 with the
// status carried inside the envelope; only malformed requests get a 4xx.
func HandleConversation(runner TurnRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleConversation")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the conversation request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		req.EnsureDefaults()
		if err := req.Validate(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("Conversation request failed validation", "error", err)
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}

		span.SetAttributes(
			attribute.String("chat.conversation_id", req.ConversationID),
			attribute.String("chat.interaction_id", req.InteractionID),
		)

		queryTime := time.Now()
		state := datatypes.NewConversationState(req.Query, req.ConversationID)
		state.FetchTopic = req.FetchTopic

		runner.Run(ctx, state, req.TimeBudgetSeconds)

		envelope := datatypes.NewChatEnvelope(&req, state, queryTime, time.Since(queryTime))
		slog.Info("Conversation turn complete",
			"conversationId", req.ConversationID,
			"healthCode", state.HealthCode,
			"responseType", envelope.LLMResponse.Type)

		c.JSON(http.StatusOK, envelope)
	}
}
