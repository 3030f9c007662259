// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ieqlabs/kbchat/services/orchestrator/datatypes"
	"github.com/ieqlabs/kbchat/services/orchestrator/registry"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// fakeTools records visit order and runs per-node hooks.
type fakeTools struct {
	visits []string

	onRouter          func(*datatypes.ConversationState)
	onRAG             func(*datatypes.ConversationState)
	onNonRAG          func(*datatypes.ConversationState)
	onResponseDefault func(*datatypes.ConversationState)
	onGuardrail       func(*datatypes.ConversationState)
}

func (f *fakeTools) Router(_ context.Context, s *datatypes.ConversationState) {
	f.visits = append(f.visits, datatypes.NodeRouter)
	if f.onRouter != nil {
		f.onRouter(s)
	}
}

func (f *fakeTools) RAGProcessing(_ context.Context, s *datatypes.ConversationState) {
	f.visits = append(f.visits, datatypes.NodeRAGProcessing)
	if f.onRAG != nil {
		f.onRAG(s)
	}
}

func (f *fakeTools) NonRAG(_ context.Context, s *datatypes.ConversationState) {
	f.visits = append(f.visits, datatypes.NodeNonRAG)
	if f.onNonRAG != nil {
		f.onNonRAG(s)
	}
}

func (f *fakeTools) ResponseDefault(_ context.Context, s *datatypes.ConversationState) {
	f.visits = append(f.visits, datatypes.NodeResponseDefault)
	if f.onResponseDefault != nil {
		f.onResponseDefault(s)
	}
}

func (f *fakeTools) GuardrailInternal(_ context.Context, s *datatypes.ConversationState) {
	f.visits = append(f.visits, datatypes.NodeGuardrailInternal)
	if f.onGuardrail != nil {
		f.onGuardrail(s)
	}
}

func newTestMachine(tools *fakeTools, clock *fakeClock) *StateMachine {
	sm := NewStateMachine(tools, nil, nil)
	sm.now = clock.now
	return sm
}

func TestRunRAGFlow(t *testing.T) {
	clock := newFakeClock()
	tools := &fakeTools{
		onRouter: func(s *datatypes.ConversationState) {
			s.Route = datatypes.NodeRAGProcessing
		},
		onRAG: func(s *datatypes.ConversationState) {
			s.Chat = "grounded answer"
			s.AppendHealthCode(datatypes.StatusChannelOK)
		},
	}
	sm := newTestMachine(tools, clock)

	state := datatypes.NewConversationState("how do I file an IEQ report?", "conv-1")
	sm.Run(context.Background(), state, 48)

	assert.Equal(t, []string{
		datatypes.NodeRouter,
		datatypes.NodeRAGProcessing,
		datatypes.NodeGuardrailInternal,
	}, tools.visits)
	assert.Equal(t, "grounded answer", state.FinalAnswer())
	assert.Equal(t, datatypes.StatusChannelOK, state.HealthCode)
}

func TestRunNonRAGFlowVisitsGuardrail(t *testing.T) {
	clock := newFakeClock()
	tools := &fakeTools{
		onRouter: func(s *datatypes.ConversationState) {
			s.Route = datatypes.NodeNonRAG
		},
		onNonRAG: func(s *datatypes.ConversationState) {
			s.Chat = "chat-only answer"
			s.AppendHealthCode(datatypes.StatusChannelOK)
		},
	}
	sm := newTestMachine(tools, clock)

	state := datatypes.NewConversationState("summarize our conversation", "conv-2")
	sm.Run(context.Background(), state, 48)

	assert.Equal(t, []string{
		datatypes.NodeRouter,
		datatypes.NodeNonRAG,
		datatypes.NodeGuardrailInternal,
	}, tools.visits)
}

func TestRunDefaultChannelSkipsGuardrail(t *testing.T) {
	clock := newFakeClock()
	tools := &fakeTools{
		onRouter: func(s *datatypes.ConversationState) {
			s.Route = datatypes.NodeResponseDefault
		},
		onResponseDefault: func(s *datatypes.ConversationState) {
			s.Default = "fixed reply"
			s.AppendHealthCode(datatypes.StatusRouterOK)
		},
	}
	sm := newTestMachine(tools, clock)

	state := datatypes.NewConversationState("what's the weather?", "conv-3")
	sm.Run(context.Background(), state, 48)

	// The default channel's fixed reply never passes the output guard.
	assert.Equal(t, []string{
		datatypes.NodeRouter,
		datatypes.NodeResponseDefault,
	}, tools.visits)
}

func TestRunTerminalRouterAnswer(t *testing.T) {
	clock := newFakeClock()
	tools := &fakeTools{
		onRouter: func(s *datatypes.ConversationState) {
			s.Route = datatypes.NodeEnd
			s.Default = "Hello! How can I help you regarding IEQ queries?"
			s.AppendHealthCode(datatypes.StatusRouterOK)
		},
	}
	sm := newTestMachine(tools, clock)

	state := datatypes.NewConversationState("hi", "conv-4")
	sm.Run(context.Background(), state, 48)

	assert.Equal(t, []string{datatypes.NodeRouter}, tools.visits)
	assert.Equal(t, datatypes.StatusRouterOK, state.HealthCode)
	assert.Equal(t, "Hello! How can I help you regarding IEQ queries?", state.FinalAnswer())
}

func TestRunUnknownRoute(t *testing.T) {
	clock := newFakeClock()
	tools := &fakeTools{
		onRouter: func(s *datatypes.ConversationState) {
			s.Route = "unknown_value"
		},
	}
	sm := newTestMachine(tools, clock)

	state := datatypes.NewConversationState("anything", "conv-5")
	sm.Run(context.Background(), state, 48)

	// Unknown routes go straight to terminal, bypassing channels and the
	// internal guardrail node.
	assert.Equal(t, []string{datatypes.NodeRouter}, tools.visits)
	assert.True(t, state.HasHealthCode(datatypes.StatusUnknownRoute))
	assert.Equal(t, datatypes.MsgApology, state.FinalAnswer())
}

func TestRunBudgetExhaustedAfterChannel(t *testing.T) {
	clock := newFakeClock()
	tools := &fakeTools{
		onRouter: func(s *datatypes.ConversationState) {
			s.Route = datatypes.NodeRAGProcessing
		},
	}
	// The channel succeeds but finishes half a second past the budget.
	tools.onRAG = func(s *datatypes.ConversationState) {
		clock.advance(10500 * time.Millisecond)
		s.Chat = "slow but correct answer"
		s.AppendHealthCode(datatypes.StatusChannelOK)
	}
	sm := newTestMachine(tools, clock)

	state := datatypes.NewConversationState("slow question", "conv-6")
	sm.Run(context.Background(), state, 10)

	// The completed answer must be discarded, never delivered stale.
	require.NotContains(t, state.FinalAnswer(), "slow but correct")
	assert.Equal(t, datatypes.MsgTimeout, state.FinalAnswer())
	assert.True(t, state.HasHealthCode(datatypes.StatusBudgetExhausted))
	assert.NotContains(t, tools.visits, datatypes.NodeGuardrailInternal)
}

func TestRunRouterSafetyMargin(t *testing.T) {
	clock := newFakeClock()
	tools := &fakeTools{
		onRouter: func(s *datatypes.ConversationState) {
			// Router succeeds but leaves less than the 3-second margin.
			clock.advance(46 * time.Second)
			s.Route = datatypes.NodeRAGProcessing
		},
	}
	sm := newTestMachine(tools, clock)

	state := datatypes.NewConversationState("late question", "conv-7")
	sm.Run(context.Background(), state, 48)

	assert.Equal(t, []string{datatypes.NodeRouter}, tools.visits)
	assert.Equal(t, datatypes.MsgTimeout, state.FinalAnswer())
	assert.True(t, state.HasHealthCode(datatypes.StatusBudgetExhausted))
}

func TestRunDefaultBudgetApplied(t *testing.T) {
	clock := newFakeClock()
	tools := &fakeTools{
		onRouter: func(s *datatypes.ConversationState) {
			s.Route = datatypes.NodeEnd
			s.Default = "quick answer"
			s.AppendHealthCode(datatypes.StatusRouterOK)
		},
	}
	sm := newTestMachine(tools, clock)

	state := datatypes.NewConversationState("q", "conv-8")
	sm.Run(context.Background(), state, 0)

	assert.InDelta(t, DefaultTimeBudgetSeconds, state.TimeRemain, 0.01)
}

func TestRunRecordsRegistryEntry(t *testing.T) {
	clock := newFakeClock()
	tools := &fakeTools{
		onRouter: func(s *datatypes.ConversationState) {
			s.Route = datatypes.NodeNonRAG
		},
		onNonRAG: func(s *datatypes.ConversationState) {
			s.Chat = "registered answer"
			s.AppendHealthCode(datatypes.StatusChannelOK)
		},
	}
	reg := registry.New()
	defer reg.Close()

	sm := NewStateMachine(tools, reg, nil)
	sm.now = clock.now

	state := datatypes.NewConversationState("q", "conv-9")
	sm.Run(context.Background(), state, 48)

	entry, ok := reg.Get("conv-9")
	require.True(t, ok)
	assert.Equal(t, datatypes.NodeNonRAG, entry.Route)
	assert.Equal(t, "registered answer", entry.Answer)
	assert.Equal(t, datatypes.StatusChannelOK, entry.HealthCode)
}
