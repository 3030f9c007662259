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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ieqlabs/kbchat/services/orchestrator/datatypes"
	"github.com/ieqlabs/kbchat/services/orchestrator/observability"
	"github.com/ieqlabs/kbchat/services/orchestrator/registry"
)

var tracer = otel.Tracer("kbchat.orchestrator")

const (
	// DefaultTimeBudgetSeconds is the total wall-clock budget for one turn
	// when the caller does not supply one.
	DefaultTimeBudgetSeconds = 48.0

	// routerSafetyMargin is how many seconds must remain after the router
	// for the turn to continue into a channel.
	routerSafetyMargin = 3.0

	// channelSafetyMargin is the margin required after a channel step.
	channelSafetyMargin = 0.0
)

// StateMachine drives one conversation turn through the state graph.
//
// # Description
//
// The graph is fixed: router first, then a conditional hop to one of the
// three channels, then the internal guardrail for the two LLM channels,
// then terminal. Routes the router emits outside the known channel set
// terminate immediately. The whole traversal runs under a time budget;
// when the budget runs out, the answer produced so far is discarded and
// the fixed timeout message is substituted, because a technically
// successful but too-slow answer is a failure from the caller's side.
//
// # Thread Safety
//
// Safe for concurrent use; all per-turn data lives in ConversationState.
type StateMachine struct {
	tools    ToolSet
	registry *registry.ResponseRegistry
	metrics  *observability.TurnMetrics

	// now is injectable for tests.
	now func() time.Time
}

// NewStateMachine creates a state machine over the given node set.
// The registry and metrics may be nil.
func NewStateMachine(tools ToolSet, reg *registry.ResponseRegistry, metrics *observability.TurnMetrics) *StateMachine {
	return &StateMachine{
		tools:    tools,
		registry: reg,
		metrics:  metrics,
		now:      time.Now,
	}
}

// channelNodes are the routes the router may legally hand off to.
var channelNodes = map[string]bool{
	datatypes.NodeRAGProcessing:   true,
	datatypes.NodeNonRAG:          true,
	datatypes.NodeResponseDefault: true,
}

// Run executes one turn. The state is mutated in place and is also
// returned for convenience.
//
// # Inputs
//
//   - ctx: request context; a deadline derived from the budget is
//     attached so abandoned LLM and retrieval calls are cancelled.
//   - state: freshly created per-request state.
//   - budgetSeconds: total budget; <= 0 uses DefaultTimeBudgetSeconds.
func (sm *StateMachine) Run(ctx context.Context, state *datatypes.ConversationState, budgetSeconds float64) *datatypes.ConversationState {
	ctx, span := tracer.Start(ctx, "StateMachine.Run")
	defer span.End()

	if budgetSeconds <= 0 {
		budgetSeconds = DefaultTimeBudgetSeconds
	}
	start := sm.now()
	state.TimeRemain = budgetSeconds

	// The discard-and-substitute timeout policy only has integrity if the
	// underlying calls are actually cancelled.
	ctx, cancel := context.WithTimeout(ctx, time.Duration(budgetSeconds*float64(time.Second)))
	defer cancel()

	state.Route = datatypes.NodeRouter
	sm.tools.Router(ctx, state)
	channel := datatypes.NodeRouter

	if sm.budgetExceeded(state, start, budgetSeconds, routerSafetyMargin) {
		sm.timeout(state, channel)
		return sm.finish(span, state, channel)
	}

	switch {
	case state.Route == datatypes.NodeEnd:
		// Terminal router answer; codes already set by the router.

	case !channelNodes[state.Route]:
		slog.Warn("Router requested an unknown route", "conversationId", state.ConversationID, "route", state.Route)
		state.AppendHealthCode(datatypes.StatusUnknownRoute)
		if state.FinalAnswer() == "" {
			state.Default = datatypes.MsgApology
		}

	default:
		channel = state.Route
		sm.dispatch(ctx, state, channel)

		if sm.budgetExceeded(state, start, budgetSeconds, channelSafetyMargin) {
			sm.timeout(state, channel)
			return sm.finish(span, state, channel)
		}

		// Only answers carrying retrieved or generated free-form content
		// pass the output guard; the default channel's fixed reply does not.
		if channel == datatypes.NodeRAGProcessing || channel == datatypes.NodeNonRAG {
			sm.tools.GuardrailInternal(ctx, state)
		}
	}

	sm.budgetExceeded(state, start, budgetSeconds, 0)
	return sm.finish(span, state, channel)
}

func (sm *StateMachine) dispatch(ctx context.Context, state *datatypes.ConversationState, channel string) {
	switch channel {
	case datatypes.NodeRAGProcessing:
		sm.tools.RAGProcessing(ctx, state)
	case datatypes.NodeNonRAG:
		sm.tools.NonRAG(ctx, state)
	case datatypes.NodeResponseDefault:
		sm.tools.ResponseDefault(ctx, state)
	}
}

// budgetExceeded refreshes state.TimeRemain and reports whether less than
// margin seconds remain.
func (sm *StateMachine) budgetExceeded(state *datatypes.ConversationState, start time.Time, budget, margin float64) bool {
	state.TimeRemain = budget - sm.now().Sub(start).Seconds()
	return state.TimeRemain < margin
}

// timeout discards whatever answer the turn produced and substitutes the
// fixed timeout message.
func (sm *StateMachine) timeout(state *datatypes.ConversationState, channel string) {
	slog.Warn("Time budget exhausted, discarding answer",
		"conversationId", state.ConversationID,
		"channel", channel,
		"timeRemain", state.TimeRemain)

	state.Chat = ""
	state.Default = datatypes.MsgTimeout
	state.AppendHealthCode(datatypes.StatusBudgetExhausted)
	state.Route = datatypes.NodeEnd

	if sm.metrics != nil {
		sm.metrics.RecordTimeout(channel)
	}
}

// finish records terminal telemetry and the registry entry.
func (sm *StateMachine) finish(span trace.Span, state *datatypes.ConversationState, channel string) *datatypes.ConversationState {
	span.SetAttributes(
		attribute.String("turn.channel", channel),
		attribute.String("turn.health_code", state.HealthCode),
		attribute.Float64("turn.time_remain", state.TimeRemain),
	)

	if sm.metrics != nil {
		sm.metrics.RecordTurn(channel, state.HealthCode)
		sm.metrics.RecordBudgetRemaining(state.TimeRemain)
	}
	if sm.registry != nil {
		sm.registry.Put(state.ConversationID, registry.Entry{
			Route:      channel,
			Answer:     state.FinalAnswer(),
			HealthCode: state.HealthCode,
		})
	}
	return state
}
