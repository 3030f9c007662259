// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ieqlabs/kbchat/services/orchestrator/datatypes"
)

// chatHistorySize is how many prior exchanges are surfaced to the LLM.
const chatHistorySize = 3

// routerSystemPrompt classifies the query and either routes it or answers
// it directly. The model must reply with a single JSON object so the
// decision can be parsed deterministically.
const routerSystemPrompt = `You are the routing stage of a knowledge-base assistant for IEQ queries.
Classify the user's message and reply with a single JSON object, nothing else:

{"route": "<route>", "reason": "<reason>", "response": "<response>"}

Routes:
  - "RAG_processing": the message is a question about IEQ topics that needs
    knowledge-base context to answer.
  - "non_RAG": the message relates to IEQ but can be answered from the
    conversation alone, without knowledge-base context.
  - "response_default": the message is unrelated small talk with no IEQ
    relevance and no safe direct answer.
  - "END": you can answer the message directly and completely yourself.
    Put the full answer in "response".

Rules:
  - If the user greets you (e.g., "Hi", "Hello", "Hey"), use route "END" with
    response "Hello! How can I help you regarding IEQ queries?"
  - If the user expresses gratitude or feedback (e.g., "Thanks", "Thank you",
    "OK"), use route "END" with response "You're welcome! If you have any
    queries related to IEQ, please feel free to ask."
  - If the message is not in English, use route "END", set reason to
    "not english", and ask the user to rephrase in English.
  - If the message is too short or vague to act on, use route "END", set
    reason to "prompt too short", and ask the user for more detail.
  - Otherwise leave "reason" empty and "response" empty unless route is "END".`

// routerDecision is the parsed shape of the router LLM's reply.
type routerDecision struct {
	Route    string `json:"route"`
	Reason   string `json:"reason"`
	Response string `json:"response"`
}

// parseRouterDecision extracts the JSON decision from the model reply.
// Models occasionally wrap JSON in prose or code fences, so the first
// balanced object is taken.
func parseRouterDecision(raw string) (routerDecision, error) {
	var decision routerDecision

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return decision, fmt.Errorf("no JSON object in router reply")
	}

	if err := json.Unmarshal([]byte(raw[start:end+1]), &decision); err != nil {
		return decision, fmt.Errorf("failed to parse router reply: %w", err)
	}
	if decision.Route == "" {
		return decision, fmt.Errorf("router reply has no route")
	}
	return decision, nil
}

// searchPrompt builds the retrieval-augmented answering prompt. The model
// is constrained to the provided context and the recent chat history.
func searchPrompt(userQuery string, contextTexts []string, history []datatypes.TurnRow) string {
	if len(history) > chatHistorySize {
		history = history[len(history)-chatHistorySize:]
	}

	historyJSON, _ := json.MarshalIndent(historyForPrompt(history), "", "  ")
	contextJSON, _ := json.Marshal(contextTexts)

	var b strings.Builder
	b.WriteString(`You are an AI assistant that strictly answers questions based on the given chat history and provided context.
Follow these rules:

### Handling Greetings:
    - If the user greets you (e.g., "Hi", "Hello", "Hey"), always respond with:
    "Hello! How can I help you regarding IEQ queries?"
    Do not stop at "Hello".

### Handling Feedback Messages:
    - If the user expresses gratitude or feedback (e.g., "Thanks", "Thank you", "OK"),
    respond with "You're welcome! If you have any queries related to IEQ, please feel free to ask."

---

### Answering Rules:
1. Use Chat History for Multi-Hop Search
    - If the user asks a follow-up question, reference past answers to maintain continuity.
    - If a past answer contains the required information, use it instead of searching again.
    - If additional details are needed, combine the retrieved context with past responses.

2. Strictly Rely on Provided Context and Chat History
    - Do not generate answers from external knowledge.

3. Handling User Requests About Chat History:
    - If the user asks about any past question or response, retrieve it from chat history without explicitly referencing list positions.
    - If the user asks for a list of their past questions, return all questions in chronological order.
    - If the user's question relates to a past answer, use chat history to provide continuity.
    - If the user asks a follow-up related to past responses, reference the last relevant answer instead of repeating information.

4. If Tables Are Present:
    - Extract key information and present it in a structured, easy-to-read format.
    - Instead of preserving the original format, enhance readability and highlight key insights.
    - Provide an additional explanation alongside the table if needed.

5. If Images Are Mentioned:
    - Acknowledge their presence and describe their possible relevance.

6. Provide Direct Answers Without Unnecessary Prefaces
    - Do not include phrases like:
    - "Based on the provided chat history..."
    - "According to the given context..."
    - "From the information available..."
    - Instead, answer directly without introducing the source.

7. When No Relevant Information Is Available:
    - Clearly state that no relevant details were found instead of making assumptions.

---

## Chat History (Latest to Oldest)
`)
	b.Write(historyJSON)
	b.WriteString("\n\n### Context Provided:\n")
	b.Write(contextJSON)
	b.WriteString("\n\n### User Question:\n")
	b.WriteString(userQuery)
	b.WriteString("\n\n### Answer:\n")

	return b.String()
}

// historyForPrompt reduces stored turns to the fields the model needs.
func historyForPrompt(history []datatypes.TurnRow) []map[string]string {
	rows := make([]map[string]string, 0, len(history))
	for _, turn := range history {
		rows = append(rows, map[string]string{
			"role":    turn.Role,
			"content": turn.Content,
		})
	}
	return rows
}

// titlePrompt asks the model for a short conversation title.
func titlePrompt(question string) string {
	return fmt.Sprintf(`Given the following conversation, generate a short and relevant title that summarizes the topic. Keep it concise and meaningful. If it's a casual greeting, use a generic title like 'Conversation Starter'.

### question
%s
`, question)
}
