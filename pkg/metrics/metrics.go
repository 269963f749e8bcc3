// Package metrics exposes the Prometheus registry the provisioner reports to.
// All metrics are defined in their respective packages (client, poll, guard,
// ratelimit, provisioner) to keep those packages free of a shared dependency.
//
// This package provides the scrape handler and documents every metric.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gatherer is the gatherer served by Handler. Every provisioner metric is
// registered with the default registerer via promauto.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the /metrics scrape handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - provisioner_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - provisioner_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - provisioner_transport_errors_total{kind} (Counter): Transport errors by kind (timeout, network, status, encode, rate_limited)
//
// Poll Metrics (pkg/poll):
//   - provisioner_poll_attempts_total{state} (Counter): Job status checks by observed state
//   - provisioner_poll_outcomes_total{outcome} (Counter): Finished poll sequences by outcome
//
// Guard Metrics (pkg/guard):
//   - provisioner_guard_rejections_total{guard} (Counter): Workflow starts refused while another was running
//
// Rate Budget Metrics (pkg/ratelimit):
//   - provisioner_rate_budget_remaining (Gauge): Calls remaining in the current rate window
//   - provisioner_rate_budget_blocks_total (Counter): Calls refused on an exhausted budget
//   - provisioner_rate_budget_throttles_total (Counter): Calls delayed on a low budget
//
// Workflow Metrics (pkg/provisioner):
//   - provisioner_workflow_runs_total{workflow, result} (Counter): Finished workflows
//   - provisioner_workflow_items_total{workflow, status} (Counter): Processed items
//   - provisioner_workflow_duration_seconds{workflow} (Histogram): Workflow wall time
//   - provisioner_workflow_running (Gauge): 1 while a workflow holds the guard
//
// Example Prometheus Queries:
//
//   # Item failure rate
//   sum(rate(provisioner_workflow_items_total{status!="success"}[1h])) /
//   sum(rate(provisioner_workflow_items_total[1h]))
//
//   # Jobs that never finished
//   rate(provisioner_poll_outcomes_total{outcome="timeout"}[1h])
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(provisioner_request_duration_seconds_bucket[5m]))
//
//   # Concurrent start attempts
//   increase(provisioner_guard_rejections_total[1d])
