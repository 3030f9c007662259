// Copyright (C) 2026 IEQ Labs (engineering@ieqlabs.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides metrics and instrumentation for the orchestrator.
//
// # Description
//
// This package implements Prometheus metrics for monitoring conversation
// turns. Metrics include:
//   - Turn counters (by channel and health code)
//   - Guardrail violation counters (by phase and reason)
//   - Channel latency histograms
//   - Remaining-budget histograms
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "kbchat"

// Subsystem for orchestrator metrics
const orchestratorSubsystem = "orchestrator"

// TurnMetrics holds all Prometheus metrics for conversation processing.
//
// # Fields
//
//   - TurnsTotal: Counter of completed turns by channel and health code
//   - GuardrailViolationsTotal: Counter of guardrail rejections
//   - ChannelDurationSeconds: Histogram of per-channel latency
//   - BudgetRemainingSeconds: Histogram of budget left at terminal
//   - TimeoutsTotal: Counter of budget exhaustions by channel
//
// # Thread Safety
//
// All operations are thread-safe.
type TurnMetrics struct {
	// TurnsTotal counts completed conversation turns.
	// Labels: channel (router, RAG_processing, non_RAG, response_default),
	// health_code (OK000, OK001, ERR001, ...)
	TurnsTotal *prometheus.CounterVec

	// GuardrailViolationsTotal counts guardrail rejections.
	// Labels: phase (input, output), reason
	GuardrailViolationsTotal *prometheus.CounterVec

	// ChannelDurationSeconds measures per-channel processing latency.
	// Labels: channel
	ChannelDurationSeconds *prometheus.HistogramVec

	// BudgetRemainingSeconds measures how much of the time budget was
	// left when the turn reached the terminal node.
	BudgetRemainingSeconds prometheus.Histogram

	// TimeoutsTotal counts turns whose answer was discarded because the
	// budget ran out.
	// Labels: channel
	TimeoutsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of TurnMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *TurnMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *TurnMetrics {
	DefaultMetrics = &TurnMetrics{
		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestratorSubsystem,
				Name:      "turns_total",
				Help:      "Total conversation turns by channel and health code",
			},
			[]string{"channel", "health_code"},
		),

		GuardrailViolationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestratorSubsystem,
				Name:      "guardrail_violations_total",
				Help:      "Total guardrail rejections by phase and reason",
			},
			[]string{"phase", "reason"},
		),

		ChannelDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestratorSubsystem,
				Name:      "channel_duration_seconds",
				Help:      "Per-channel processing latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"channel"},
		),

		BudgetRemainingSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestratorSubsystem,
				Name:      "budget_remaining_seconds",
				Help:      "Seconds left in the request budget at the terminal node",
				Buckets:   []float64{0, 1, 3, 5, 10, 20, 30, 48},
			},
		),

		TimeoutsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: orchestratorSubsystem,
				Name:      "timeouts_total",
				Help:      "Turns whose answer was discarded due to budget exhaustion",
			},
			[]string{"channel"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordTurn records a completed conversation turn.
func (m *TurnMetrics) RecordTurn(channel, healthCode string) {
	m.TurnsTotal.WithLabelValues(channel, healthCode).Inc()
}

// RecordGuardrailViolation records a guardrail rejection.
func (m *TurnMetrics) RecordGuardrailViolation(phase, reason string) {
	m.GuardrailViolationsTotal.WithLabelValues(phase, reason).Inc()
}

// RecordChannelDuration records per-channel latency.
func (m *TurnMetrics) RecordChannelDuration(channel string, seconds float64) {
	m.ChannelDurationSeconds.WithLabelValues(channel).Observe(seconds)
}

// RecordBudgetRemaining records the budget left at the terminal node.
func (m *TurnMetrics) RecordBudgetRemaining(seconds float64) {
	m.BudgetRemainingSeconds.Observe(seconds)
}

// RecordTimeout records a budget exhaustion.
func (m *TurnMetrics) RecordTimeout(channel string) {
	m.TimeoutsTotal.WithLabelValues(channel).Inc()
}
