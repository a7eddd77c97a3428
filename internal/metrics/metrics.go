// Package metrics registers every counter/histogram/gauge named in
// spec.md's component sections, backed by
// github.com/prometheus/client_golang — present in the pack via
// jordigilh-kubernaut and vjache-cie, absent from the teacher but a
// direct, unambiguous fit for the /metrics Prometheus-text surface.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Frontend metrics (spec.md §4.2).
var (
	FrontendJobsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frontend_jobs_received_total",
		Help: "Jobs received per object type.",
	}, []string{"object_type"})

	FrontendJobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frontend_jobs_completed_total",
		Help: "Jobs whose aggregation finished successfully.",
	}, []string{"object_type"})

	FrontendJobsTimedOut = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frontend_jobs_timed_out_total",
		Help: "Jobs that exceeded their work TTL.",
	}, []string{"object_type"})

	FrontendJobsMaxRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frontend_jobs_max_retries_total",
		Help: "Jobs that exhausted their retry budget.",
	}, []string{"object_type"})

	FrontendJobsRescheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "frontend_jobs_rescheduled_total",
		Help: "Jobs rescheduled after a transient backend error.",
	}, []string{"object_type"})

	FrontendObjectProcessingSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "frontend_object_processing_seconds",
		Help: "Time spent in one backend invocation for a single object.",
	}, []string{"object_type"})

	FrontendWorkProcessingSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "frontend_work_processing_seconds",
		Help: "Time from job receipt to aggregated result for a subtree.",
	}, []string{"object_type"})

	FrontendJobsWaiting = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "frontend_job_waiting_count",
		Help: "Children currently awaited before aggregation, per object type.",
	}, []string{"object_type"})
)

// Endpoint metrics (spec.md §4.3).
var (
	EndpointRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "endpoint_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"endpoint", "status"})

	EndpointResponseSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "endpoint_response_time_seconds",
		Help: "HTTP response time.",
	}, []string{"endpoint"})

	EndpointWorkRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "endpoint_work_requests_total",
		Help: "Number of work requests published.",
	})
)

// Grapher metrics (spec.md §4.4).
var (
	GrapherResultsCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grapher_results_committed_total",
		Help: "Job results successfully committed to the graph.",
	})

	GrapherCommitFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "grapher_commit_failures_total",
		Help: "Job results that failed to commit and were redelivered.",
	})

	GrapherCommitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "grapher_commit_seconds",
		Help: "Time spent inside one result-commit transaction.",
	})
)

// Director metrics (spec.md §4.5).
var (
	DirectorRequestsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "director_requests_processed_total",
		Help: "DirectorRequest messages evaluated.",
	})

	DirectorScenariosMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "director_scenarios_matched_total",
		Help: "Scenario matches fired, per scenario id.",
	}, []string{"scenario_id"})

	DirectorReloadGeneration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "director_scenario_reload_generation",
		Help: "Last scenario_reload generation this director instance observed.",
	})
)

// Sigmgr metrics (spec.md §4.6).
var (
	SigmgrSignaturesDeployed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sigmgr_signatures_deployed",
		Help: "Signatures in the last written NDB file.",
	})

	SigmgrClamdPingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sigmgr_clamd_ping_failures_total",
		Help: "Consecutive clamd ping failures since the last success.",
	})
)
