// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm wraps the model backends behind a single chat-style
// interface. The gateway client is the production backend; the OpenAI
// client exists for local development and fallback deployments.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Message is one turn of a chat exchange sent to a model backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat message roles shared by all backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	// Invoke sends an ordered message list and returns the assistant text.
	//
	// Implementations handle their own authentication refresh and bounded
	// retries; an error means no text could be produced after exhausting
	// them. The context deadline bounds the whole exchange including
	// retries.
	Invoke(ctx context.Context, messages []Message) (string, error)
}

// SchemaError reports a backend response whose shape was not recognized.
//
// The raw payload is carried for logging; it must never be echoed to the
// end user.
type SchemaError struct {
	Raw []byte
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("unrecognized LLM response schema (%d bytes)", len(e.Raw))
}

// IsSchemaError reports whether err wraps a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
