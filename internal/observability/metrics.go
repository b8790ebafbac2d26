package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Close reasons recorded on connections_closed_total.
const (
	ReasonEOF           = "eof"
	ReasonStalled       = "stalled"
	ReasonFrameTooLarge = "frame_too_large"
	ReasonShutdown      = "shutdown"
	ReasonIOError       = "io_error"
)

var (
	registerOnce sync.Once

	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lineecho",
			Subsystem: "tcp",
			Name:      "connections_accepted_total",
			Help:      "Total accepted TCP connections.",
		},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "lineecho",
			Subsystem: "tcp",
			Name:      "connections_active",
			Help:      "Connections currently owned by a handler.",
		},
	)
	connectionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lineecho",
			Subsystem: "tcp",
			Name:      "connections_closed_total",
			Help:      "Closed connections by reason.",
		},
		[]string{"reason"},
	)
	acceptErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lineecho",
			Subsystem: "tcp",
			Name:      "accept_errors_total",
			Help:      "Failed accept attempts.",
		},
	)
	bytesRead = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lineecho",
			Subsystem: "frame",
			Name:      "bytes_read_total",
			Help:      "Bytes read from client connections.",
		},
	)
	framesEchoed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lineecho",
			Subsystem: "frame",
			Name:      "frames_echoed_total",
			Help:      "Complete frames echoed back to clients.",
		},
	)
	bytesEchoed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lineecho",
			Subsystem: "frame",
			Name:      "bytes_echoed_total",
			Help:      "Frame payload bytes echoed back to clients.",
		},
	)
	frameSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "lineecho",
			Subsystem: "frame",
			Name:      "frame_size_bytes",
			Help:      "Echoed frame size in bytes, delimiter excluded.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 8),
		},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lineecho",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lineecho",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsAccepted,
			connectionsActive,
			connectionsClosed,
			acceptErrors,
			bytesRead,
			framesEchoed,
			bytesEchoed,
			frameSize,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordConnectionOpened() {
	RegisterMetrics()
	connectionsAccepted.Inc()
	connectionsActive.Inc()
}

func RecordConnectionClosed(reason string) {
	RegisterMetrics()
	connectionsActive.Dec()
	connectionsClosed.WithLabelValues(reason).Inc()
}

func RecordAcceptError() {
	RegisterMetrics()
	acceptErrors.Inc()
}

func RecordBytesRead(n int) {
	RegisterMetrics()
	bytesRead.Add(float64(n))
}

func RecordFrameEchoed(size int) {
	RegisterMetrics()
	framesEchoed.Inc()
	bytesEchoed.Add(float64(size))
	frameSize.Observe(float64(size))
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
