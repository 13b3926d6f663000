package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "whisparr_sync"

var (
	// Scene metrics
	ScenesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scenes_total",
			Help:      "Scenes processed, by outcome state and reason",
		},
		[]string{"state", "reason"},
	)

	SceneDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scene_duration_seconds",
			Help:      "Wall time spent processing one scene",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	// File metrics
	FilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Scene files processed, by result",
		},
		[]string{"result"}, // "imported", "already_imported", "failed"
	)

	FileMoves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "file_moves_total",
			Help:      "File moves attempted, by method and result",
		},
		[]string{"method", "result"}, // method: "rename", "copy"
	)

	// Remote API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests sent to Stash and Whisparr",
		},
		[]string{"client", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Latency of HTTP requests to Stash and Whisparr",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"client", "method"},
	)

	HTTPRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_retries_total",
			Help:      "Read requests retried after a transient failure",
		},
		[]string{"client"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from queueing a Whisparr command to its terminal status",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"command", "status"},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Hook server metrics
	HookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_requests_total",
			Help:      "Scene hook requests received, by response code",
		},
		[]string{"code"},
	)
)

// RecordScene counts a finished scene and observes its duration.
func RecordScene(state, reason string, duration time.Duration) {
	ScenesProcessed.WithLabelValues(state, reason).Inc()
	SceneDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records one HTTP exchange. code is 0 when no response arrived.
func RecordHTTPRequest(client, method string, code int, duration time.Duration) {
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	HTTPRequests.WithLabelValues(client, method, label).Inc()
	HTTPRequestDuration.WithLabelValues(client, method).Observe(duration.Seconds())
}

// RecordCommand observes how long a remote command took to finish.
func RecordCommand(name, status string, duration time.Duration) {
	CommandDuration.WithLabelValues(name, status).Observe(duration.Seconds())
}

// WriteTextfile dumps the default registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
