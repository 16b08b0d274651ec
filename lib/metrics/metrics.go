// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes wrapper counters in Prometheus format.
//
// All recorder methods are nil-safe: a nil *Metrics records nothing,
// so callers never branch on whether metrics are enabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the wrapper's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions  prometheus.Gauge
	tokensTotal     *prometheus.CounterVec
	compactions     *prometheus.CounterVec
	savedTokens     prometheus.Counter
	recordsTotal    *prometheus.CounterVec
	decodeFailures  prometheus.Counter
	bufferOverflows prometheus.Counter
	processExits    *prometheus.CounterVec
}

// New creates a metrics set with a fresh registry.
func New() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yurucode_active_sessions",
			Help: "Number of sessions with a live subprocess",
		}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yurucode_tokens_total",
			Help: "Tokens consumed, by category",
		}, []string{"category"}),
		compactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yurucode_compactions_total",
			Help: "Context compactions observed, by origin",
		}, []string{"origin"}),
		savedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yurucode_compaction_saved_tokens_total",
			Help: "Tokens discarded by context compactions",
		}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yurucode_records_total",
			Help: "Stream records processed, by type",
		}, []string{"type"}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yurucode_decode_failures_total",
			Help: "Lines that failed stream-json decoding",
		}),
		bufferOverflows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yurucode_buffer_overflows_total",
			Help: "Oversized lines discarded by the reassembler",
		}),
		processExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "yurucode_process_exits_total",
			Help: "Subprocess exits, by outcome",
		}, []string{"outcome"}),
	}
	metrics.registry.MustRegister(
		metrics.activeSessions,
		metrics.tokensTotal,
		metrics.compactions,
		metrics.savedTokens,
		metrics.recordsTotal,
		metrics.decodeFailures,
		metrics.bufferOverflows,
		metrics.processExits,
	)
	return metrics
}

// Handler serves the registry in Prometheus exposition format.
func (metrics *Metrics) Handler() http.Handler {
	if metrics == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

// SessionStarted increments the active-session gauge.
func (metrics *Metrics) SessionStarted() {
	if metrics == nil {
		return
	}
	metrics.activeSessions.Inc()
}

// SessionEnded decrements the active-session gauge.
func (metrics *Metrics) SessionEnded() {
	if metrics == nil {
		return
	}
	metrics.activeSessions.Dec()
}

// AddTokens records a usage delta by category.
func (metrics *Metrics) AddTokens(input, output, cacheCreation, cacheRead int64) {
	if metrics == nil {
		return
	}
	metrics.tokensTotal.WithLabelValues("input").Add(float64(input))
	metrics.tokensTotal.WithLabelValues("output").Add(float64(output))
	metrics.tokensTotal.WithLabelValues("cache_creation").Add(float64(cacheCreation))
	metrics.tokensTotal.WithLabelValues("cache_read").Add(float64(cacheRead))
}

// CompactionObserved records a compaction. Origin is "inferred" for
// the zero-usage signal, "upstream" for an announced boundary.
func (metrics *Metrics) CompactionObserved(origin string, savedTokens int64) {
	if metrics == nil {
		return
	}
	metrics.compactions.WithLabelValues(origin).Inc()
	if savedTokens > 0 {
		metrics.savedTokens.Add(float64(savedTokens))
	}
}

// RecordProcessed counts one stream record by type. Opaque lines are
// counted under "opaque".
func (metrics *Metrics) RecordProcessed(recordType string) {
	if metrics == nil {
		return
	}
	if recordType == "" {
		recordType = "unknown"
	}
	metrics.recordsTotal.WithLabelValues(recordType).Inc()
}

// DecodeFailure counts one undecodable line.
func (metrics *Metrics) DecodeFailure() {
	if metrics == nil {
		return
	}
	metrics.decodeFailures.Inc()
}

// BufferOverflow counts one discarded oversized line.
func (metrics *Metrics) BufferOverflow() {
	if metrics == nil {
		return
	}
	metrics.bufferOverflows.Inc()
}

// ProcessExited records a subprocess exit. Outcome is "clean",
// "error", or "killed".
func (metrics *Metrics) ProcessExited(outcome string) {
	if metrics == nil {
		return
	}
	metrics.processExits.WithLabelValues(outcome).Inc()
}
