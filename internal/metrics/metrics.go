package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dosu",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	gridsBuilt = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dosu",
			Name:      "grids_built_total",
			Help:      "Slot grids built by layout.",
		},
		[]string{"layout"},
	)

	occupancyDiagnostics = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dosu",
			Name:      "occupancy_diagnostics_total",
			Help:      "Appointments that could not be classified or placed, by kind.",
		},
		[]string{"kind"},
	)

	backendErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dosu",
			Name:      "backend_errors_total",
			Help:      "Failed schedule backend calls by endpoint.",
		},
		[]string{"endpoint"},
	)

	backendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dosu",
			Name:      "backend_request_duration_seconds",
			Help:      "Schedule backend call latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	slotClicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dosu",
			Name:      "slot_clicks_total",
			Help:      "Dispatched slot clicks by resulting action.",
		},
		[]string{"action"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, gridsBuilt, occupancyDiagnostics, backendErrors, backendLatency, slotClicks)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncGridBuilt(layout string) {
	gridsBuilt.WithLabelValues(layout).Inc()
}

func IncOccupancyDiagnostic(kind string) {
	occupancyDiagnostics.WithLabelValues(kind).Inc()
}

func IncBackendError(endpoint string) {
	backendErrors.WithLabelValues(endpoint).Inc()
}

// ObserveBackend records the duration of a backend call started at start.
func ObserveBackend(endpoint string, start time.Time) {
	backendLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

func IncSlotClick(action string) {
	slotClicks.WithLabelValues(action).Inc()
}
