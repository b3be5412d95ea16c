// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/logger"
	"github.com/united-manufacturing-hub/united-manufacturing-hub/umh-checks/pkg/sentry"
)

const (
	// Component Labels.
	ComponentControlLoop = "control_loop"
	ComponentScheduler   = "scheduler"
	ComponentExtractor   = "extractor"
	ComponentForwarder   = "forwarder"
)

var (
	// Namespace and subsystem for all metrics.
	namespace = "umh"
	subsystem = "checks"

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "errors_total",
			Help:      "Total number of errors by component, instance and error category",
		},
		[]string{"component", "instance", "category"},
	)

	cycleTime = promauto.NewSummaryVec(
		prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cycle_duration_milliseconds",
			Help:      "Time taken by one check cycle (in milliseconds)",
			Objectives: map[float64]float64{
				0.5:  0.01,
				0.9:  0.01,
				0.95: 0.01,
				0.99: 0.01,
			},
		},
		[]string{"check", "instance"},
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_total",
			Help:      "Records read from saved searches by outcome (emitted, suppressed, failed)",
		},
		[]string{"check", "search", "outcome"},
	)

	searchState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "search_state",
			Help:      "Current state of a saved search (0=uninitialized, 1=recovering, 2=steady, -1=unknown)",
		},
		[]string{"check", "search"},
	)

	searchWatermark = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "search_watermark_seconds",
			Help:      "Committed watermark of a saved search in epoch seconds",
		},
		[]string{"check", "search"},
	)

	starvationSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "control_loop_starved_total_seconds",
			Help:      "Total seconds the control loop went without a tick",
		},
	)

	forwardedItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "forwarded_items_total",
			Help:      "Items handed to the forwarder by kind",
		},
		[]string{"kind"},
	)
)

// SetupMetricsEndpoint starts an HTTP server to expose metrics
// This should be called once at application startup.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.ReportIssue(err, sentry.IssueTypeFatal, logger.For("metrics"))
		}
	}()

	return server
}

// IncErrorCount increments the error counter for a component.
func IncErrorCount(component, instance, category string) {
	errorCounter.WithLabelValues(component, instance, category).Inc()
}

// ObserveCycleTime records the time taken by one check cycle.
func ObserveCycleTime(check, instance string, duration time.Duration) {
	cycleTime.WithLabelValues(check, instance).Observe(float64(duration.Milliseconds()))
}

// AddRecords counts records of one search by outcome. Zero is a no-op.
func AddRecords(check, search, outcome string, n int) {
	if n == 0 {
		return
	}

	recordsTotal.WithLabelValues(check, search, outcome).Add(float64(n))
}

// UpdateSearch publishes the state and committed watermark of a saved search.
func UpdateSearch(check, search, state string, watermark int64) {
	searchState.WithLabelValues(check, search).Set(getStateValue(state))

	if watermark > 0 {
		searchWatermark.WithLabelValues(check, search).Set(float64(watermark))
	}
}

// AddForwarded counts items handed to the forwarder.
func AddForwarded(kind string, n int) {
	forwardedItems.WithLabelValues(kind).Add(float64(n))
}

// AddStarvationTime increases the starvation counter by the specified seconds.
func AddStarvationTime(seconds float64) {
	starvationSeconds.Add(seconds)
}

// getStateValue converts a state string to a numeric value for the metric.
func getStateValue(state string) float64 {
	switch state {
	case "uninitialized":
		return 0
	case "recovering":
		return 1
	case "steady":
		return 2
	default:
		return -1
	}
}
