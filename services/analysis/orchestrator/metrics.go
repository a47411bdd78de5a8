// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Request Orchestration
// =============================================================================

var (
	// requestsTotal counts Process calls.
	// Labels: path (cache, inflight, pipeline, direct), outcome (ok, error)
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mosaic",
		Subsystem: "orchestrator",
		Name:      "requests_total",
		Help:      "Total Process calls by path and outcome",
	}, []string{"path", "outcome"})

	// requestDuration measures Process latency.
	// Labels: path
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mosaic",
		Subsystem: "orchestrator",
		Name:      "request_duration_seconds",
		Help:      "Process latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"path"})

	// resultsTotal counts results returned.
	// Labels: modality
	resultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mosaic",
		Subsystem: "orchestrator",
		Name:      "results_total",
		Help:      "Results produced by modality",
	}, []string{"modality"})

	// cacheWrites counts cache write decisions.
	// Labels: scope (request, item), decision (stored, rejected, error)
	cacheWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mosaic",
		Subsystem: "orchestrator",
		Name:      "cache_writes_total",
		Help:      "Cache write decisions by scope",
	}, []string{"scope", "decision"})

	// modalityFailures counts per-modality failures absorbed into partial
	// results.
	// Labels: modality, reason (unavailable, provider, timeout, canceled, other)
	modalityFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mosaic",
		Subsystem: "orchestrator",
		Name:      "modality_failures_total",
		Help:      "Per-modality failures absorbed into partial results",
	}, []string{"modality", "reason"})
)

func recordRequest(path, outcome string, seconds float64) {
	requestsTotal.WithLabelValues(path, outcome).Inc()
	requestDuration.WithLabelValues(path).Observe(seconds)
}
