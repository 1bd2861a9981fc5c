package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "e2ebind",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"bridge", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "e2ebind",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"bridge", "method", "path", "status"},
	)
	pendingRequests = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "e2ebind",
			Subsystem: "bridge",
			Name:      "pending_requests",
			Help:      "Outbound requests still awaiting a host reply.",
		},
		[]string{"bridge"},
	)
	pendingOldestAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "e2ebind",
			Subsystem: "bridge",
			Name:      "pending_oldest_age_seconds",
			Help:      "Age of the oldest outbound request awaiting a reply. Grows without bound when a reply is lost; there is no timeout.",
		},
		[]string{"bridge"},
	)
	inboundDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "e2ebind",
			Subsystem: "bridge",
			Name:      "inbound_dropped_total",
			Help:      "Inbound channel payloads dropped without processing.",
		},
		[]string{"bridge", "reason"},
	)
	inboundDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "e2ebind",
			Subsystem: "bridge",
			Name:      "inbound_dispatched_total",
			Help:      "Inbound host requests by action and outcome.",
		},
		[]string{"bridge", "action", "outcome"},
	)
	outboundRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "e2ebind",
			Subsystem: "bridge",
			Name:      "outbound_requests_total",
			Help:      "Outbound requests posted to the host channel.",
		},
		[]string{"bridge", "action"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			pendingRequests,
			pendingOldestAge,
			inboundDropped,
			inboundDispatched,
			outboundRequests,
		)
	})
}

func RecordHTTPRequest(bridge, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(bridge, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(bridge, method, path, statusLabel).Observe(duration.Seconds())
}

func SetPendingStats(bridge string, live int, oldestAge time.Duration) {
	RegisterMetrics()
	pendingRequests.WithLabelValues(bridge).Set(float64(live))
	pendingOldestAge.WithLabelValues(bridge).Set(oldestAge.Seconds())
}

func RecordInboundDrop(bridge, reason string) {
	RegisterMetrics()
	inboundDropped.WithLabelValues(bridge, reason).Inc()
}

func RecordDispatch(bridge, action, outcome string) {
	RegisterMetrics()
	inboundDispatched.WithLabelValues(bridge, action, outcome).Inc()
}

func RecordOutboundRequest(bridge, action string) {
	RegisterMetrics()
	outboundRequests.WithLabelValues(bridge, action).Inc()
}
