// Package metrics provides Prometheus metrics collection for bot operations
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP request outcomes used as label values by the GET-JSON client.
const (
	OutcomeSuccess     = "success"
	OutcomeSendError   = "send_error"
	OutcomeStatusError = "status_error"
	OutcomeDecodeError = "decode_error"
)

var (
	// Counter metrics
	errorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veebot_errors_total",
			Help: "Total number of error envelopes created",
		},
		[]string{"class", "kind"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veebot_http_requests_total",
			Help: "Total number of outbound GET-JSON requests",
		},
		[]string{"outcome"},
	)

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veebot_commands_total",
			Help: "Total number of chat commands dispatched",
		},
		[]string{"command", "outcome"},
	)

	tracksQueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veebot_tracks_queued_total",
			Help: "Total number of tracks added to play queues",
		},
	)

	gatewayEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veebot_gateway_events_total",
			Help: "Total number of gateway dispatch events received",
		},
		[]string{"event"},
	)

	voiceFramesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veebot_voice_frames_sent_total",
			Help: "Total number of audio frames sent to voice connections",
		},
	)

	// Gauge metrics
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "veebot_queue_depth",
			Help: "Current number of tracks in a guild play queue",
		},
		[]string{"guild"},
	)

	// Histogram metrics
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veebot_http_request_duration_seconds",
			Help:    "Duration of outbound GET-JSON requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		errorsTotal,
		httpRequestsTotal,
		commandsTotal,
		tracksQueuedTotal,
		gatewayEventsTotal,
		voiceFramesSentTotal,
		queueDepth,
		httpRequestDuration,
	)
}

// RecordError records an error envelope creation
func RecordError(class, kind string) {
	errorsTotal.WithLabelValues(class, kind).Inc()
}

// RecordHTTPRequest records an outbound request and its duration
func RecordHTTPRequest(outcome string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(outcome).Inc()
	httpRequestDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCommand records a dispatched chat command
func RecordCommand(command, outcome string) {
	commandsTotal.WithLabelValues(command, outcome).Inc()
}

// RecordTrackQueued records a track added to a play queue
func RecordTrackQueued() {
	tracksQueuedTotal.Inc()
}

// RecordGatewayEvent records a gateway dispatch event by type
func RecordGatewayEvent(event string) {
	gatewayEventsTotal.WithLabelValues(event).Inc()
}

// RecordVoiceFrames records audio frames sent to a voice connection
func RecordVoiceFrames(n int) {
	voiceFramesSentTotal.Add(float64(n))
}

// SetQueueDepth updates the queue depth gauge for a guild
func SetQueueDepth(guildID string, depth int) {
	queueDepth.WithLabelValues(guildID).Set(float64(depth))
}

// Handler returns the HTTP handler serving the metrics endpoint
func Handler() http.Handler {
	return promhttp.Handler()
}
