// Package metrics wires the work source's statistics hooks (spec.md §6's
// stats.{lock, jobsreceived, supports_rollntime}) to real Prometheus
// collectors, grounded on chimera-pool-core's internal/monitoring/prometheus.go
// (dynamically registered CounterVec/GaugeVec on a private registry) and
// internal/monitoring/health/prometheus.go (the /metrics http.Server wiring).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry implements worksource.MetricsSink. The concrete type lives here,
// outside internal/worksource, so that package never needs to import
// Prometheus directly — it only depends on the MetricsSink interface.
type Registry struct {
	registry *prometheus.Registry

	jobsReceived      prometheus.Counter
	jobsPushed        *prometheus.CounterVec
	fetchersRunning   prometheus.Gauge
	fetchersPending   prometheus.Gauge
	shares            *prometheus.CounterVec
	jobEpoch          prometheus.Gauge
	lpEpoch           prometheus.Gauge
	supportsRollNtime prometheus.Gauge
}

// NewRegistry creates a Registry with its own private prometheus.Registry,
// matching chimera-pool-core's choice of prometheus.NewRegistry() over the
// global DefaultRegisterer.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.jobsReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "worksource_jobs_received_total",
		Help: "Jobs accounted for by the job builder, including dropped batches.",
	})
	r.jobsPushed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worksource_jobs_pushed_total",
		Help: "Jobs pushed into the framework work queue.",
	}, []string{"source"})
	r.fetchersRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worksource_fetchers_running",
		Help: "Fetcher workers currently executing a fetch transaction.",
	})
	r.fetchersPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worksource_fetchers_pending",
		Help: "Demand tokens waiting for a fetcher worker.",
	})
	r.shares = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worksource_shares_total",
		Help: "Share submissions by outcome.",
	}, []string{"result"})
	r.jobEpoch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worksource_job_epoch",
		Help: "Current jobEpoch value.",
	})
	r.lpEpoch = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worksource_lp_epoch",
		Help: "Current lpEpoch value.",
	})
	r.supportsRollNtime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "worksource_supports_rollntime",
		Help: "1 if the upstream last advertised roll-ntime support, else 0.",
	})

	r.registry.MustRegister(
		r.jobsReceived, r.jobsPushed, r.fetchersRunning, r.fetchersPending,
		r.shares, r.jobEpoch, r.lpEpoch, r.supportsRollNtime,
	)
	return r
}

// Handler returns the /metrics HTTP handler for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) JobsReceived(delta int) {
	if delta > 0 {
		r.jobsReceived.Add(float64(delta))
	}
}

func (r *Registry) JobsPushed(source string, n int) {
	r.jobsPushed.WithLabelValues(source).Add(float64(n))
}

func (r *Registry) FetchersRunning(n int) { r.fetchersRunning.Set(float64(n)) }
func (r *Registry) FetchersPending(n int) { r.fetchersPending.Set(float64(n)) }

func (r *Registry) Share(result string) { r.shares.WithLabelValues(result).Inc() }

func (r *Registry) JobEpoch(n uint64) { r.jobEpoch.Set(float64(n)) }
func (r *Registry) LPEpoch(n uint64)  { r.lpEpoch.Set(float64(n)) }

func (r *Registry) SupportsRollNtime(supported bool) {
	if supported {
		r.supportsRollNtime.Set(1)
	} else {
		r.supportsRollNtime.Set(0)
	}
}
