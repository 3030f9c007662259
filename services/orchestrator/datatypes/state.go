// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "strings"

// =============================================================================
// State Graph Node Names
// =============================================================================

// Node names of the conversation state graph. The router may also write
// any of these (except NodeStart) into ConversationState.Route to request
// the next hop; NodeEnd requests immediate termination.
const (
	NodeStart             = "start"
	NodeRouter            = "router"
	NodeRAGProcessing     = "RAG_processing"
	NodeNonRAG            = "non_RAG"
	NodeResponseDefault   = "response_default"
	NodeGuardrailInternal = "guardrail_internal"
	NodeEnd               = "END"
)

// Router diagnostic reasons surfaced through ConversationState.RouteReason.
const (
	RouteReasonNonEnglish  = "not english"
	RouteReasonPromptShort = "prompt too short"
)

// FetchTopic enum values.
const (
	FetchTopicYes = "yes"
	FetchTopicNo  = "no"
)

// ConversationState is the mutable record threaded through one request's
// traversal of the state graph.
//
// # Description
//
// Created once per inbound request with Route set to NodeStart, mutated
// in place by each node the graph visits, and discarded after the
// response envelope is built. It is never shared across requests.
//
// Invariant: exactly one of Chat/Default is non-empty when the state
// reaches the terminal node, unless an error status is set, in which
// case both may be empty and HealthCode carries the reason.
type ConversationState struct {
	// Query is the raw user text.
	Query string

	// ConversationID identifies the conversation this turn belongs to.
	ConversationID string

	// Route is the current or next node name.
	Route string

	// RouteReason is a diagnostic string set by the router, e.g.
	// RouteReasonNonEnglish.
	RouteReason string

	// Chat is the channel's answer text, empty until a channel runs.
	Chat string

	// Default is the fallback text used when no channel answer applies.
	Default string

	// Country is the resolved jurisdiction, may be empty.
	Country string

	// HealthCode carries the status taxonomy value. Additional codes are
	// appended comma-separated, e.g. "OK001,ERR005".
	HealthCode string

	// FetchTopic is FetchTopicYes when a topic title must be derived.
	FetchTopic string

	// Topic is the derived short title.
	Topic string

	// TimeRemain is the number of seconds left in the request budget.
	TimeRemain float64
}

// NewConversationState creates the per-request state positioned at the
// start node.
func NewConversationState(query, conversationID string) *ConversationState {
	return &ConversationState{
		Query:          query,
		ConversationID: conversationID,
		Route:          NodeStart,
		FetchTopic:     FetchTopicYes,
	}
}

// AppendHealthCode adds a status code, preserving any code already set.
func (s *ConversationState) AppendHealthCode(code string) {
	if s.HealthCode == "" {
		s.HealthCode = code
		return
	}
	s.HealthCode = s.HealthCode + "," + code
}

// HasHealthCode reports whether code is present in the comma-separated
// health code list.
func (s *ConversationState) HasHealthCode(code string) bool {
	for _, c := range strings.Split(s.HealthCode, ",") {
		if c == code {
			return true
		}
	}
	return false
}

// FinalAnswer returns the channel answer when one exists, otherwise the
// fallback text.
func (s *ConversationState) FinalAnswer() string {
	if s.Chat != "" {
		return s.Chat
	}
	return s.Default
}
