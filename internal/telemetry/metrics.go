// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package telemetry exposes prometheus metrics and otel spans for pipeline activity.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes.
const (
	StatusSuccess = "success"
	StatusBlocked = "blocked"
	StatusError   = "error"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is a no-op.
type Metrics struct {
	turnsTotal      *prometheus.CounterVec
	turnDuration    *prometheus.HistogramVec
	guardrailBlocks *prometheus.CounterVec
	comparisons     *prometheus.CounterVec
	stepsFinalized  prometheus.Counter
	rollbacks       prometheus.Counter

	registry *prometheus.Registry
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrelay_turns_total",
				Help: "Agent turns by model and outcome",
			},
			[]string{"model", "status"},
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agentrelay_turn_duration_seconds",
				Help:    "Model call latency per agent turn",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),
		guardrailBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrelay_guardrail_blocks_total",
				Help: "Outbound messages blocked by guardrail category",
			},
			[]string{"category", "severity"},
		),
		comparisons: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agentrelay_comparison_results_total",
				Help: "Per-model results of comparison fan-outs",
			},
			[]string{"model", "status"},
		),
		stepsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentrelay_steps_finalized_total",
			Help: "Pipeline steps finalized",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentrelay_rollbacks_total",
			Help: "Pipeline rollbacks",
		}),
		registry: registry,
	}
	registry.MustRegister(
		m.turnsTotal,
		m.turnDuration,
		m.guardrailBlocks,
		m.comparisons,
		m.stepsFinalized,
		m.rollbacks,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTurn(model, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(model, status).Inc()
	if status != StatusBlocked {
		m.turnDuration.WithLabelValues(model).Observe(d.Seconds())
	}
}

func (m *Metrics) GuardrailBlocked(category, severity string) {
	if m == nil {
		return
	}
	m.guardrailBlocks.WithLabelValues(category, severity).Inc()
}

func (m *Metrics) ComparisonResult(model, status string) {
	if m == nil {
		return
	}
	m.comparisons.WithLabelValues(model, status).Inc()
}

func (m *Metrics) StepFinalized() {
	if m == nil {
		return
	}
	m.stepsFinalized.Inc()
}

func (m *Metrics) Rollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}
