package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RoleAgent      = "agent"
	RoleController = "controller"

	DirectionSent     = "sent"
	DirectionReceived = "received"
)

var (
	registerOnce sync.Once

	handshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsewire",
			Subsystem: "handshake",
			Name:      "total",
			Help:      "Control handshakes by role and terminal state.",
		},
		[]string{"role", "outcome"},
	)
	handshakeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pulsewire",
			Subsystem: "handshake",
			Name:      "duration_seconds",
			Help:      "Control handshake duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"role", "outcome"},
	)
	messages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsewire",
			Subsystem: "protocol",
			Name:      "messages_total",
			Help:      "Protocol messages by direction and kind.",
		},
		[]string{"direction", "kind"},
	)
	controlConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "pulsewire",
			Subsystem: "controller",
			Name:      "control_connections",
			Help:      "Open control connections on the controller.",
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsewire",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pulsewire",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(handshakes, handshakeDuration, messages, controlConnections, httpRequests, httpDuration)
	})
}

func RecordHandshake(role, outcome string, duration time.Duration) {
	RegisterMetrics()
	handshakes.WithLabelValues(role, outcome).Inc()
	handshakeDuration.WithLabelValues(role, outcome).Observe(duration.Seconds())
}

func RecordMessage(direction, kind string) {
	RegisterMetrics()
	messages.WithLabelValues(direction, kind).Inc()
}

func ControlConnectionOpened() {
	RegisterMetrics()
	controlConnections.Inc()
}

func ControlConnectionClosed() {
	RegisterMetrics()
	controlConnections.Dec()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
