package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bw2c"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests served by the status surface.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status surface request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	framesRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "read_total",
			Help:      "Frames decoded from the agent, by command.",
		},
		[]string{"cmd"},
	)
	framesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "written_total",
			Help:      "Frames written to the agent, by command.",
		},
		[]string{"cmd"},
	)
	recordsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "frame",
			Name:      "records_dropped_total",
			Help:      "Records discarded because frame memory was exhausted, by record kind.",
		},
		[]string{"kind"},
	)
	transactErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "transact_errors_total",
			Help:      "Failed transact calls, by error class.",
		},
		[]string{"class"},
	)
	connectionLosses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connection_lost_total",
			Help:      "Agent connections marked lost.",
		},
	)
	pendingRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "pending_requests",
			Help:      "Request contexts waiting for frames.",
		},
	)
)

// Record kinds for RecordDroppedRecords.
const (
	KindHeader        = "header"
	KindPayloadObject = "payload_object"
	KindRoutingObject = "routing_object"
)

// Transact error classes.
const (
	ClassConnectionLost = "connection_lost"
	ClassInvalidFrame   = "invalid_frame"
	ClassWrite          = "write"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			framesRead,
			framesWritten,
			recordsDropped,
			transactErrors,
			connectionLosses,
			pendingRequests,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordFrameRead(cmd string) {
	RegisterMetrics()
	framesRead.WithLabelValues(cmd).Inc()
}

func RecordFrameWritten(cmd string) {
	RegisterMetrics()
	framesWritten.WithLabelValues(cmd).Inc()
}

func RecordDroppedRecords(kind string, n int) {
	if n <= 0 {
		return
	}
	RegisterMetrics()
	recordsDropped.WithLabelValues(kind).Add(float64(n))
}

func RecordTransactError(class string) {
	RegisterMetrics()
	transactErrors.WithLabelValues(class).Inc()
}

func RecordConnectionLost() {
	RegisterMetrics()
	connectionLosses.Inc()
}

func SetPendingRequests(n int) {
	RegisterMetrics()
	pendingRequests.Set(float64(n))
}
