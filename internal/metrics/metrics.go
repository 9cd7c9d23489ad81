package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons and outcome labels.
const (
	ReasonBadInput    = "bad_input"
	ReasonSaturated   = "saturated"
	ReasonStore       = "store_unavailable"
	ReasonCancelled   = "cancelled"
	OutcomeSuccess    = "success"
	OutcomeFailure    = "failure"
	OutcomeDropped    = "dropped"
	OutcomeSkipped    = "skipped"
	OutcomeNotLeader  = "not_leader"
	OutcomeCountError = "count_error"
)

// Registry owns the service's collectors. Each Registry has its own
// prometheus.Registry so several can coexist in one process (tests).
type Registry struct {
	reg *prometheus.Registry

	Requests         prometheus.Counter
	UniqueClaims     prometheus.Counter
	Duplicates       prometheus.Counter
	Rejected         *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	WindowsPublished *prometheus.CounterVec
	LastUniqueCount  prometheus.Gauge
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verve_requests_total",
			Help: "Total accept requests received",
		}),
		UniqueClaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verve_unique_claims_total",
			Help: "Ids claimed for the first time in their window",
		}),
		Duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verve_duplicates_total",
			Help: "Ids already claimed in their window",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verve_rejected_total",
			Help: "Accept requests that failed, by reason",
		}, []string{"reason"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verve_notifications_total",
			Help: "Outbound callback notifications, by outcome",
		}, []string{"outcome"}),
		WindowsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verve_windows_published_total",
			Help: "Closed windows handed to the publisher, by outcome",
		}, []string{"outcome"}),
		LastUniqueCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "verve_last_unique_count",
			Help: "Unique count of the most recently closed window",
		}),
	}
	reg.MustRegister(
		r.Requests, r.UniqueClaims, r.Duplicates, r.Rejected,
		r.Notifications, r.WindowsPublished, r.LastUniqueCount,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RegisterPoolDepth exports the queue depth of a worker pool.
func (r *Registry) RegisterPoolDepth(pool string, depth func() float64) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "verve_pool_queue_depth",
		Help:        "Tasks waiting for a worker",
		ConstLabels: prometheus.Labels{"pool": pool},
	}, depth))
}

// Gatherer exposes the underlying registry (tests).
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
