// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ieqlabs/kbchat/services/guardrail"
	"github.com/ieqlabs/kbchat/services/guardrail/country"
	"github.com/ieqlabs/kbchat/services/llm"
	"github.com/ieqlabs/kbchat/services/orchestrator/datatypes"
	"github.com/ieqlabs/kbchat/services/orchestrator/observability"
	"github.com/ieqlabs/kbchat/services/retrieval"
)

// msgOutOfScope is the fixed answer of the default channel.
const msgOutOfScope = "I can only help with IEQ-related queries. Please ask a question about IEQ."

// topicFallbackFormat names an auto-generated topic when the title call
// fails. The timestamp is UTC.
const topicFallbackFormat = "20060102_150405"

// historyFetchLimit bounds the stored turns pulled for prompt context.
const historyFetchLimit = 2 * chatHistorySize

// ToolSet is the set of node implementations the state machine dispatches
// to. Split from the machine itself so tests can substitute fakes.
type ToolSet interface {
	Router(ctx context.Context, state *datatypes.ConversationState)
	RAGProcessing(ctx context.Context, state *datatypes.ConversationState)
	NonRAG(ctx context.Context, state *datatypes.ConversationState)
	ResponseDefault(ctx context.Context, state *datatypes.ConversationState)
	GuardrailInternal(ctx context.Context, state *datatypes.ConversationState)
}

// Compile-time interface compliance.
var _ ToolSet = (*ToolKit)(nil)

// ToolKit implements the state graph's nodes over the real collaborators.
//
// # Description
//
// Each method mutates the passed ConversationState in place: answer text,
// route, health codes, and topic. Failures never propagate as errors; they
// are folded into the state per the status taxonomy so the turn always
// produces an envelope.
type ToolKit struct {
	llm       llm.LLMClient
	retriever retrieval.Retriever
	store     datatypes.ConversationStore
	guard     *guardrail.Engine
	resolver  *country.Resolver
	metrics   *observability.TurnMetrics

	// now is injectable for tests.
	now func() time.Time
}

// NewToolKit wires the node implementations.
func NewToolKit(
	client llm.LLMClient,
	retriever retrieval.Retriever,
	store datatypes.ConversationStore,
	guard *guardrail.Engine,
	resolver *country.Resolver,
	metrics *observability.TurnMetrics,
) *ToolKit {
	return &ToolKit{
		llm:       client,
		retriever: retriever,
		store:     store,
		guard:     guard,
		resolver:  resolver,
		metrics:   metrics,
		now:       time.Now,
	}
}

// =============================================================================
// Router Channel
// =============================================================================

// Router classifies the query and either answers it directly or selects
// the next channel.
//
// # Description
//
// The raw query first passes the input guard; a violation terminates the
// turn with the fixed safety message and ERR006, without an LLM call. On
// success the masked query replaces the raw one so no downstream stage
// sees un-redacted PII. The router LLM's JSON decision then sets the
// route; a direct answer terminates with OK000, an invocation or parse
// failure terminates with the apology and ERR001.
func (tk *ToolKit) Router(ctx context.Context, state *datatypes.ConversationState) {
	ctx, span := tracer.Start(ctx, "ToolKit.Router")
	defer span.End()
	defer tk.observeChannel(datatypes.NodeRouter, tk.now())

	masked, err := tk.guard.GuardInput(ctx, state.Query)
	if err != nil {
		if v, ok := guardrail.IsViolation(err); ok {
			tk.recordViolation(string(v.Phase), v.Reason)
		}
		state.Default = datatypes.MsgSafetyDefault
		state.AppendHealthCode(datatypes.StatusContentSafety)
		state.Route = datatypes.NodeEnd
		return
	}
	state.Query = masked
	state.Country = tk.resolveCountry(masked)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: routerSystemPrompt},
		{Role: llm.RoleUser, Content: masked},
	}

	raw, err := tk.llm.Invoke(ctx, messages)
	if err != nil {
		slog.Error("Router LLM invocation failed", "conversationId", state.ConversationID, "error", err)
		state.Default = datatypes.MsgApology
		state.AppendHealthCode(datatypes.StatusLLMFailed)
		state.Route = datatypes.NodeEnd
		tk.persistExchange(ctx, state, datatypes.NodeRouter, state.Default)
		return
	}

	decision, err := parseRouterDecision(raw)
	if err != nil {
		slog.Error("Router reply was unparseable", "conversationId", state.ConversationID, "error", err)
		state.Default = datatypes.MsgApology
		state.AppendHealthCode(datatypes.StatusLLMFailed)
		state.Route = datatypes.NodeEnd
		tk.persistExchange(ctx, state, datatypes.NodeRouter, state.Default)
		return
	}

	state.Route = decision.Route
	state.RouteReason = decision.Reason
	span.SetAttributes(
		attribute.String("router.route", decision.Route),
		attribute.String("router.reason", decision.Reason),
	)

	if decision.Route == datatypes.NodeEnd {
		state.Default = decision.Response
		state.AppendHealthCode(datatypes.StatusRouterOK)
		if strings.EqualFold(decision.Reason, datatypes.RouteReasonPromptShort) {
			state.AppendHealthCode(datatypes.StatusPromptShort)
		}
		tk.persistExchange(ctx, state, datatypes.NodeRouter, state.Default)
	}
}

// =============================================================================
// Retrieval-Augmented Channel
// =============================================================================

// RAGProcessing answers the query from retrieved knowledge-base context.
//
// Zero retrieval hits short-circuit with ERR003: no LLM call is made and
// nothing is persisted, because the canned no-context reply is not
// conversation history.
func (tk *ToolKit) RAGProcessing(ctx context.Context, state *datatypes.ConversationState) {
	ctx, span := tracer.Start(ctx, "ToolKit.RAGProcessing")
	defer span.End()
	defer tk.observeChannel(datatypes.NodeRAGProcessing, tk.now())

	contexts, hits, err := tk.retriever.Retrieve(ctx, state.Query)
	if err != nil {
		slog.Error("Retrieval failed", "conversationId", state.ConversationID, "error", err)
		state.Default = datatypes.MsgApology
		state.AppendHealthCode(datatypes.StatusLLMFailed)
		return
	}
	span.SetAttributes(attribute.Int("retrieval.hits", hits))

	if hits == 0 {
		slog.Info("No context found, skipping LLM call", "conversationId", state.ConversationID)
		state.Default = datatypes.MsgNoContext
		state.AppendHealthCode(datatypes.StatusNoContext)
		return
	}

	history := tk.fetchHistory(ctx, state.ConversationID)
	prompt := searchPrompt(state.Query, contexts, history)

	answer, err := tk.llm.Invoke(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		slog.Error("RAG LLM invocation failed", "conversationId", state.ConversationID, "error", err)
		state.Default = datatypes.MsgApology
		state.AppendHealthCode(datatypes.StatusLLMFailed)
		tk.persistExchange(ctx, state, datatypes.NodeRAGProcessing, state.Default)
		return
	}

	state.Chat = answer
	state.AppendHealthCode(datatypes.StatusChannelOK)

	if state.FetchTopic == datatypes.FetchTopicYes {
		state.Topic = tk.topicTitle(ctx, answer)
	}
	tk.persistExchange(ctx, state, datatypes.NodeRAGProcessing, answer)
}

// =============================================================================
// Non-Retrieval Channel
// =============================================================================

// NonRAG answers the query from the conversation alone. Same shape as the
// RAG channel minus retrieval; a topic title is always derived.
func (tk *ToolKit) NonRAG(ctx context.Context, state *datatypes.ConversationState) {
	ctx, span := tracer.Start(ctx, "ToolKit.NonRAG")
	defer span.End()
	defer tk.observeChannel(datatypes.NodeNonRAG, tk.now())

	history := tk.fetchHistory(ctx, state.ConversationID)
	prompt := searchPrompt(state.Query, nil, history)

	answer, err := tk.llm.Invoke(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		slog.Error("Non-RAG LLM invocation failed", "conversationId", state.ConversationID, "error", err)
		state.Default = datatypes.MsgApology
		state.AppendHealthCode(datatypes.StatusLLMFailed)
		tk.persistExchange(ctx, state, datatypes.NodeNonRAG, state.Default)
		return
	}

	state.Chat = answer
	state.AppendHealthCode(datatypes.StatusChannelOK)
	state.Topic = tk.topicTitle(ctx, answer)
	tk.persistExchange(ctx, state, datatypes.NodeNonRAG, answer)
}

// =============================================================================
// Default Channel
// =============================================================================

// ResponseDefault emits the fixed out-of-scope reply. Nothing is
// persisted; the turn never produced content worth recalling.
func (tk *ToolKit) ResponseDefault(ctx context.Context, state *datatypes.ConversationState) {
	_, span := tracer.Start(ctx, "ToolKit.ResponseDefault")
	defer span.End()
	defer tk.observeChannel(datatypes.NodeResponseDefault, tk.now())

	state.Default = msgOutOfScope
	state.AppendHealthCode(datatypes.StatusRouterOK)
}

// =============================================================================
// Internal Guardrail Node
// =============================================================================

// GuardrailInternal re-applies the output guard to the channel's answer.
// A violation discards the answer in favor of the fixed safety message
// with ERR006; otherwise the masked answer replaces the original.
func (tk *ToolKit) GuardrailInternal(ctx context.Context, state *datatypes.ConversationState) {
	ctx, span := tracer.Start(ctx, "ToolKit.GuardrailInternal")
	defer span.End()

	if state.Chat == "" {
		return
	}

	masked, err := tk.guard.GuardOutput(ctx, state.Chat)
	if err != nil {
		if v, ok := guardrail.IsViolation(err); ok {
			tk.recordViolation(string(v.Phase), v.Reason)
		}
		state.Chat = ""
		state.Default = datatypes.MsgSafetyDefault
		state.AppendHealthCode(datatypes.StatusContentSafety)
		return
	}
	state.Chat = masked
}

// =============================================================================
// Shared Helpers
// =============================================================================

// topicTitle derives a short conversation title from the answer text.
// Failure is non-fatal and yields a synthetic timestamped title.
func (tk *ToolKit) topicTitle(ctx context.Context, answer string) string {
	title, err := tk.llm.Invoke(ctx, []llm.Message{{Role: llm.RoleUser, Content: titlePrompt(answer)}})
	if err != nil {
		slog.Warn("Topic title derivation failed, using fallback", "error", err)
		return "Topic_auto_" + tk.now().UTC().Format(topicFallbackFormat)
	}
	return strings.Trim(strings.TrimSpace(title), `"`)
}

// fetchHistory pulls recent turns for prompt context. Failure degrades to
// an empty history rather than failing the turn.
func (tk *ToolKit) fetchHistory(ctx context.Context, conversationID string) []datatypes.TurnRow {
	history, err := tk.store.History(ctx, conversationID, historyFetchLimit)
	if err != nil {
		slog.Warn("Failed to fetch conversation history", "conversationId", conversationID, "error", err)
		return nil
	}
	return history
}

// persistExchange writes the user/assistant exchange fire-and-forget.
// The write outlives the request context on purpose; a response must not
// wait on, or fail because of, history persistence.
func (tk *ToolKit) persistExchange(ctx context.Context, state *datatypes.ConversationState, channel, answer string) {
	now := tk.now().UnixMilli()
	rows := []datatypes.TurnRow{
		{
			Role:           "user",
			Content:        state.Query,
			Channel:        channel,
			ConversationID: state.ConversationID,
			Timestamp:      now,
			Topic:          state.Topic,
		},
		{
			Role:           "assistant",
			Content:        answer,
			Channel:        channel,
			ConversationID: state.ConversationID,
			Timestamp:      now + 1,
			Topic:          state.Topic,
		},
	}

	bgCtx := context.WithoutCancel(ctx)
	go func() {
		if err := tk.store.Append(bgCtx, rows); err != nil {
			slog.Error("Failed to persist conversation exchange", "conversationId", state.ConversationID, "error", err)
		}
	}()
}

// resolveCountry scans the masked query for a resolvable jurisdiction.
// Short tokens must be upper-case to count; "SG" is an ISO code, "in" is
// an English preposition.
func (tk *ToolKit) resolveCountry(text string) string {
	if tk.resolver == nil {
		return ""
	}
	for _, token := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	}) {
		if len(token) < 4 && token != strings.ToUpper(token) {
			continue
		}
		if name, ok := tk.resolver.Resolve(token); ok {
			return name
		}
	}
	return ""
}

func (tk *ToolKit) observeChannel(channel string, start time.Time) {
	if tk.metrics != nil {
		tk.metrics.RecordChannelDuration(channel, tk.now().Sub(start).Seconds())
	}
}

func (tk *ToolKit) recordViolation(phase, reason string) {
	if tk.metrics != nil {
		tk.metrics.RecordGuardrailViolation(phase, reason)
	}
}
