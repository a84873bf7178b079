// ABOUTME: Prometheus collectors for channel traffic, HTTP calls, polling, and generation timing.
// ABOUTME: Collectors register on the default registry via promauto; Handler exposes them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conductor"

var (
	// ChannelEvents counts inbound channel events by name.
	ChannelEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_events_total",
		Help:      "Inbound channel events by event name.",
	}, []string{"event"})

	// DroppedEvents counts pushed events that were ignored, by reason.
	DroppedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "channel_dropped_events_total",
		Help:      "Pushed events dropped because they were stale, unknown, or malformed.",
	}, []string{"reason"})

	// HTTPRequests counts backend HTTP calls by operation and outcome.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Backend HTTP requests by operation and outcome.",
	}, []string{"op", "outcome"})

	// Polls counts running-set polls by outcome.
	Polls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poll_total",
		Help:      "Running-set polls by outcome.",
	}, []string{"outcome"})

	// Connected is 1 while the channel is connected.
	Connected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "channel_connected",
		Help:      "Whether the backend channel is currently connected.",
	})

	// GenerationDuration observes the wall time of finished generations.
	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "generation_duration_seconds",
		Help:      "Duration of generations from submit to a terminal state.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"outcome"})
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Outcome maps an error to an outcome label.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// SetConnected records the channel connection state.
func SetConnected(connected bool) {
	if connected {
		Connected.Set(1)
		return
	}
	Connected.Set(0)
}

// Handler returns the Prometheus scrape handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
