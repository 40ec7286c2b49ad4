// Package metrics holds the Prometheus collectors shared by the
// intelligence service and the batch worker.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OutcomesSynced counts outcome records created by the sync job.
	OutcomesSynced = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shipsight_outcomes_synced_total",
		Help: "Outcome records created by the incremental sync job",
	})

	// CensoredRefreshed counts censored records relabeled by the refresh job.
	CensoredRefreshed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shipsight_censored_refreshed_total",
		Help: "Censored outcome records relabeled by the refresh job",
	})

	// CurvesFitted counts survival curves written by the refit job.
	CurvesFitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shipsight_curves_fitted_total",
		Help: "Survival curves written by the refit job",
	})

	// BatchUnitErrors counts failed batch units by job name.
	BatchUnitErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipsight_batch_unit_errors_total",
		Help: "Failed units of work in batch jobs",
	}, []string{"job"})

	// EstimatesServed counts delivery probability estimates computed.
	EstimatesServed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "shipsight_estimates_served_total",
		Help: "Delivery probability estimates computed",
	})

	// EstimateDuration tracks how long one estimate takes.
	EstimateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shipsight_estimate_duration_seconds",
		Help:    "Duration of one delivery probability estimate",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestsTotal counts API requests by route, method, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shipsight_http_requests_total",
		Help: "HTTP requests served by the intelligence API",
	}, []string{"route", "method", "status"})

	// HTTPRequestDuration tracks API request latency by route and method.
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "shipsight_http_request_duration_seconds",
		Help:    "HTTP request duration of the intelligence API",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// from both binaries and repeatedly from tests.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			OutcomesSynced,
			CensoredRefreshed,
			CurvesFitted,
			BatchUnitErrors,
			EstimatesServed,
			EstimateDuration,
			HTTPRequestsTotal,
			HTTPRequestDuration,
		)
	})
}
