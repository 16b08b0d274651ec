// Copyright 2026 The Yurucode Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	recorder := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	if recorder.Code != 200 {
		t.Fatalf("scrape status = %d", recorder.Code)
	}
	return recorder.Body.String()
}

func TestMetricsExposition(t *testing.T) {
	metrics := New()
	metrics.SessionStarted()
	metrics.AddTokens(100, 50, 20, 1000)
	metrics.CompactionObserved("inferred", 45000)
	metrics.RecordProcessed("assistant")
	metrics.RecordProcessed("")
	metrics.DecodeFailure()
	metrics.BufferOverflow()
	metrics.ProcessExited("clean")
	metrics.SessionEnded()

	body := scrape(t, metrics)
	for _, want := range []string{
		`yurucode_active_sessions 0`,
		`yurucode_tokens_total{category="input"} 100`,
		`yurucode_tokens_total{category="cache_read"} 1000`,
		`yurucode_compactions_total{origin="inferred"} 1`,
		`yurucode_compaction_saved_tokens_total 45000`,
		`yurucode_records_total{type="assistant"} 1`,
		`yurucode_records_total{type="unknown"} 1`,
		`yurucode_decode_failures_total 1`,
		`yurucode_buffer_overflows_total 1`,
		`yurucode_process_exits_total{outcome="clean"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.SessionStarted()
	metrics.SessionEnded()
	metrics.AddTokens(1, 2, 3, 4)
	metrics.CompactionObserved("inferred", 10)
	metrics.RecordProcessed("result")
	metrics.DecodeFailure()
	metrics.BufferOverflow()
	metrics.ProcessExited("error")
}
