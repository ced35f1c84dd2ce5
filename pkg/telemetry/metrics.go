// Package telemetry exposes process metrics for the chat core.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chatcore_messages_created_total",
		Help: "Messages accepted by the write path.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_events_published_total",
		Help: "Events published on the bus, by type.",
	}, []string{"type"})

	OpenFeeds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chatcore_open_feeds",
		Help: "Currently open subscription feeds, by kind.",
	}, []string{"kind"})

	DroppedFeedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chatcore_feed_events_dropped_total",
		Help: "Events dropped because a feed consumer fell behind, by kind.",
	}, []string{"kind"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatcore_http_request_duration_seconds",
		Help:    "HTTP request latency by method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request latency and status for every handler it
// wraps, streaming ones included. The recorder passes Flush through, and
// a stream's observed latency is its connection lifetime.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		requestDuration.WithLabelValues(r.Method, strconv.Itoa(srw.status)).
			Observe(time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush passes streaming flushes through to the underlying writer.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
