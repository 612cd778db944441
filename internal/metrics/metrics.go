// Package metrics exposes Prometheus instrumentation for the gateway,
// executor, listener, and relay.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidal_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	functionExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidal_function_executions_total",
			Help: "Total number of function executions",
		},
		[]string{"function", "trigger", "status"},
	)

	functionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tidal_function_duration_seconds",
			Help:    "Function execution time in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"function", "trigger"},
	)

	notificationsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidal_notifications_received_total",
			Help: "Total number of change notifications received",
		},
		[]string{"channel"},
	)

	listenerReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tidal_listener_reconnects_total",
			Help: "Total number of listener reconnect attempts",
		},
	)

	realtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidal_realtime_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	realtimeSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tidal_realtime_subscriptions",
			Help: "Number of active topic subscriptions",
		},
	)

	broadcastsPushed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidal_broadcasts_pushed_total",
			Help: "Total number of messages pushed to subscribers",
		},
		[]string{"topic"},
	)

	resultReports = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tidal_result_reports_total",
			Help: "Total number of execution-result reports to the control plane",
		},
		[]string{"status"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func RecordExecution(function, trigger, status string, duration time.Duration) {
	functionExecutions.WithLabelValues(function, trigger, status).Inc()
	functionDuration.WithLabelValues(function, trigger).Observe(duration.Seconds())
}

func RecordNotification(channel string) {
	notificationsReceived.WithLabelValues(channel).Inc()
}

func RecordListenerReconnect() {
	listenerReconnects.Inc()
}

func UpdateRealtimeStats(connections, subscriptions int) {
	realtimeConnections.Set(float64(connections))
	realtimeSubscriptions.Set(float64(subscriptions))
}

func RecordBroadcast(topic string) {
	broadcastsPushed.WithLabelValues(topic).Inc()
}

func RecordResultReport(ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	resultReports.WithLabelValues(status).Inc()
}
