// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Prometheus Metrics for Process Pools
// =============================================================================

var (
	// poolSize tracks live pool slots by state.
	// Labels: tool, state (idle, in_use)
	poolSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "codenav",
		Subsystem: "pool",
		Name:      "processes",
		Help:      "Live pool processes by state",
	}, []string{"tool", "state"})

	// poolAcquires counts acquisitions by outcome.
	// Labels: tool, outcome (idle, spawn, timeout)
	poolAcquires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codenav",
		Subsystem: "pool",
		Name:      "acquires_total",
		Help:      "Total pool acquisitions by outcome",
	}, []string{"tool", "outcome"})

	// poolAcquireWait measures the time acquirers spent blocked at the
	// ceiling before getting a slot or giving up.
	// Labels: tool
	poolAcquireWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "codenav",
		Subsystem: "pool",
		Name:      "acquire_wait_seconds",
		Help:      "Time spent waiting for a pool slot",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"tool"})

	// poolEvictions counts idle-timeout evictions.
	// Labels: tool
	poolEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codenav",
		Subsystem: "pool",
		Name:      "evictions_total",
		Help:      "Total idle process evictions",
	}, []string{"tool"})

	// poolCrashes counts processes removed after unexpected exits.
	// Labels: tool
	poolCrashes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "codenav",
		Subsystem: "pool",
		Name:      "crashes_total",
		Help:      "Total processes removed after crashing",
	}, []string{"tool"})
)

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// setPoolSize sets the size gauges for a tool.
func setPoolSize(tool string, idle, inUse int) {
	poolSize.WithLabelValues(tool, "idle").Set(float64(idle))
	poolSize.WithLabelValues(tool, "in_use").Set(float64(inUse))
}

// recordAcquire records one acquisition outcome.
func recordAcquire(tool, outcome string) {
	poolAcquires.WithLabelValues(tool, outcome).Inc()
}

// observeAcquireWait records how long an acquirer was blocked.
func observeAcquireWait(tool string, seconds float64) {
	poolAcquireWait.WithLabelValues(tool).Observe(seconds)
}

// recordEviction records one idle eviction.
func recordEviction(tool string) {
	poolEvictions.WithLabelValues(tool).Inc()
}

// recordCrash records one crash removal.
func recordCrash(tool string) {
	poolCrashes.WithLabelValues(tool).Inc()
}
