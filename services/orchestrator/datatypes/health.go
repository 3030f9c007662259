// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "strings"

// =============================================================================
// Status Taxonomy
// =============================================================================

// Health codes threaded through ConversationState.HealthCode.
const (
	// StatusRouterOK: the router produced a direct, possibly terminal answer.
	StatusRouterOK = "OK000"

	// StatusChannelOK: a channel (RAG or non-RAG) produced an answer.
	StatusChannelOK = "OK001"

	// StatusLLMFailed: LLM invocation failed after retries.
	StatusLLMFailed = "ERR001"

	// StatusNoContext: retrieval returned zero hits; no LLM call was made.
	StatusNoContext = "ERR003"

	// StatusUnknownRoute: an unrecognized channel name was requested.
	StatusUnknownRoute = "ERR004"

	// StatusBudgetExhausted: the time budget ran out; any real answer was
	// discarded in favor of the timeout message.
	StatusBudgetExhausted = "ERR005"

	// StatusContentSafety: a guardrail rejected the content.
	StatusContentSafety = "ERR006"

	// StatusPromptShort: the prompt was too short to process meaningfully.
	StatusPromptShort = "ERR007"

	// warningPrefix marks the non-fatal warning band (WRNxxx).
	warningPrefix = "WRN"
)

// Fixed user-visible messages. These are contractual strings; callers
// must not rephrase them per request.
const (
	MsgApology       = "Unable to process your request at the moment. Please try again."
	MsgTimeout       = "Your request could not be completed in time. Please try again."
	MsgNoContext     = "No relevant information was found for your question."
	MsgSafetyDefault = "I am unable to help with that request."
)

// =============================================================================
// Response Type Mapping
// =============================================================================

// Response envelope types for LLMResponse.Type.
const (
	ResponseTypeText          = "TEXT"
	ResponseTypeContentSafety = "CONTENT_SAFETY_TRIGGERED"
	ResponseTypeNoContext     = "NO_CONTEXT"
	ResponseTypeNonEnglish    = "NON_ENGLISH"
	ResponseTypePromptShort   = "PROMPT_SHORT"
	ResponseTypeError         = "ERROR"
	ResponseTypeWarning       = "WARNING"
)

// MapResponseType derives the envelope response type from the health code
// list and the router's diagnostic reason.
//
// # Description
//
// The mapping is deterministic with a fixed precedence: content-safety
// rejections dominate, then router diagnostics (non-English, short
// prompt), then retrieval emptiness, then the generic error band, then
// warnings. Anything else is plain text.
func MapResponseType(healthCode, routeReason string) string {
	codes := strings.Split(healthCode, ",")
	has := func(want string) bool {
		for _, c := range codes {
			if c == want {
				return true
			}
		}
		return false
	}

	switch {
	case has(StatusContentSafety):
		return ResponseTypeContentSafety
	case strings.EqualFold(routeReason, RouteReasonNonEnglish):
		return ResponseTypeNonEnglish
	case has(StatusPromptShort) || strings.EqualFold(routeReason, RouteReasonPromptShort):
		return ResponseTypePromptShort
	case has(StatusNoContext):
		return ResponseTypeNoContext
	case has(StatusLLMFailed) || has(StatusUnknownRoute) || has(StatusBudgetExhausted):
		return ResponseTypeError
	}

	for _, c := range codes {
		if strings.HasPrefix(c, warningPrefix) {
			return ResponseTypeWarning
		}
	}
	return ResponseTypeText
}

// statusMessages maps error codes to their fixed envelope descriptions.
var statusMessages = map[string]string{
	StatusLLMFailed:       "The language model could not produce a response.",
	StatusNoContext:       "No relevant context was found for the query.",
	StatusUnknownRoute:    "An unrecognized processing channel was requested.",
	StatusBudgetExhausted: "The request time budget was exhausted.",
	StatusContentSafety:   "The request was rejected by the content safety policy.",
	StatusPromptShort:     "The prompt was too short to process.",
}

// ErrorDetailsFor returns the error code and message for the envelope, or
// nil when the health code list contains no error or warning codes.
func ErrorDetailsFor(healthCode string) *ErrorDetails {
	for _, c := range strings.Split(healthCode, ",") {
		if strings.HasPrefix(c, "ERR") || strings.HasPrefix(c, warningPrefix) {
			msg, ok := statusMessages[c]
			if !ok {
				msg = "An internal processing warning was recorded."
			}
			return &ErrorDetails{Code: c, Message: msg}
		}
	}
	return nil
}
