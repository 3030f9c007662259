// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the inbound chat request and the response envelope
// returned for every conversation turn.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a single user query. Larger
	// payloads are rejected at the boundary before touching the pipeline.
	MaxQueryBytes = 32 * 1024 // 32KB

	// MaxTimeBudgetSeconds caps the caller-supplied request budget.
	MaxTimeBudgetSeconds = 300
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()

	// Byte-length limit on the query, not rune count, to bound memory.
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)

	// Budget cap registered against the constant so the tag cannot drift
	// from MaxTimeBudgetSeconds.
	_ = chatValidate.RegisterValidation("maxbudget", validateMaxBudget)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

func validateMaxBudget(fl validator.FieldLevel) bool {
	return fl.Field().Float() <= MaxTimeBudgetSeconds
}

// =============================================================================
// Chat Request
// =============================================================================

// ChatRequest represents one conversation turn request body.
//
// # Fields
//
//   - InteractionID: Optional. Unique identifier for this turn (UUID v4).
//     Generated server-side when absent.
//   - ConversationID: Required. Groups turns into a conversation; also
//     the key under which history is persisted.
//   - UserID: Required. The requesting user, passed through to the
//     envelope untouched.
//   - Query: Required. The raw user utterance, limited to 32KB.
//   - FetchTopic: Optional enum yes/no. Whether a topic title must be
//     derived for this turn. Defaults to yes.
//   - TimeBudgetSeconds: Optional. Total wall-clock budget for the turn.
//     Zero means the server default applies.
//   - UserContext: Optional opaque payload echoed back in the envelope.
//
// # Validation
//
// Uses go-playground/validator:
//   - InteractionID: when present, must be a valid UUID v4
//   - ConversationID, UserID, Query: required
//   - Query: max 32768 bytes
//   - FetchTopic: "yes" or "no" when present
//   - TimeBudgetSeconds: 0 to MaxTimeBudgetSeconds
type ChatRequest struct {
	InteractionID     string         `json:"interaction_id" validate:"omitempty,uuid4"`
	ConversationID    string         `json:"conversation_id" validate:"required"`
	UserID            string         `json:"user_id" validate:"required"`
	Query             string         `json:"query" validate:"required,maxbytes"`
	FetchTopic        string         `json:"fetch_topic" validate:"omitempty,oneof=yes no"`
	TimeBudgetSeconds float64        `json:"time_budget_seconds" validate:"gte=0,maxbudget"`
	UserContext       map[string]any `json:"user_context,omitempty"`
}

// Validate validates the ChatRequest fields.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates default values for optional fields.
//
// # Description
//
// Generates an InteractionID when the client omitted one and resolves
// the FetchTopic enum to its default. Duck-typed optionality ends here;
// downstream code may rely on every field being populated.
func (r *ChatRequest) EnsureDefaults() {
	if r.InteractionID == "" {
		r.InteractionID = uuid.NewString()
	}
	if r.FetchTopic == "" {
		r.FetchTopic = FetchTopicYes
	}
}

// =============================================================================
// Response Envelope
// =============================================================================

// LLMResponse is the answer block of the envelope.
type LLMResponse struct {
	Type           string `json:"type"`
	Data           string `json:"data"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	TopicName      string `json:"topic_name,omitempty"`
}

// ErrorDetails carries the machine-readable status for non-TEXT outcomes.
type ErrorDetails struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChatEnvelope is the single object returned for every conversation
// turn, successful or not.
type ChatEnvelope struct {
	InteractionID  string         `json:"interaction_id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	UserQuery      string         `json:"user_query"`
	UserQueryTime  int64          `json:"user_query_time"`
	LLMResponse    LLMResponse    `json:"llm_response"`
	ErrorDetails   *ErrorDetails  `json:"error_details,omitempty"`
	UserContext    map[string]any `json:"user_context,omitempty"`
}

// NewChatEnvelope builds the envelope from the final state of a turn.
//
// # Inputs
//
//   - req: the originating request, already defaulted and validated.
//   - state: the terminal conversation state.
//   - queryTime: when the turn started.
//   - elapsed: wall-clock duration of the whole turn.
func NewChatEnvelope(req *ChatRequest, state *ConversationState, queryTime time.Time, elapsed time.Duration) *ChatEnvelope {
	return &ChatEnvelope{
		InteractionID:  req.InteractionID,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		UserQuery:      req.Query,
		UserQueryTime:  queryTime.UnixMilli(),
		LLMResponse: LLMResponse{
			Type:           MapResponseType(state.HealthCode, state.RouteReason),
			Data:           state.FinalAnswer(),
			ResponseTimeMs: elapsed.Milliseconds(),
			TopicName:      state.Topic,
		},
		ErrorDetails: ErrorDetailsFor(state.HealthCode),
		UserContext:  req.UserContext,
	}
}
