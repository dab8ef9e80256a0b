package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsEnded   prometheus.Counter
	SessionsSwept   prometheus.Counter
	SessionDuration prometheus.Histogram

	// Ingest metrics
	ChunksReceived  prometheus.Counter
	MalformedChunks prometheus.Counter
	UnitsCut        prometheus.Counter
	UnitDuration    prometheus.Histogram
	GateSkipped     prometheus.Counter

	// Recognition metrics
	RecognitionRequests  prometheus.Counter
	RecognitionSuccesses prometheus.Counter
	RecognitionFailures  *prometheus.CounterVec
	RecognitionDuration  prometheus.Histogram

	// Transcript metrics
	TranscriptMerges     prometheus.Counter
	TranscriptStaleDrops prometheus.Counter

	// Broadcast metrics
	EventsPublished   prometheus.Counter
	EventsDropped     prometheus.Counter
	ActiveSubscribers prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics on the default
// registry
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics on the given registerer. Tests pass
// a fresh registry to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nb_active_sessions",
			Help: "Current number of active transcription sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_sessions_ended_total",
			Help: "Total number of sessions ended",
		}),
		SessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_sessions_swept_total",
			Help: "Total number of idle sessions force-ended by the sweep",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nb_session_duration_seconds",
			Help:    "Duration of transcription sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),

		// Ingest metrics
		ChunksReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_chunks_received_total",
			Help: "Total number of audio chunk submissions received",
		}),
		MalformedChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_malformed_chunks_total",
			Help: "Total number of chunk submissions rejected for bad framing",
		}),
		UnitsCut: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_units_cut_total",
			Help: "Total number of recognition units cut by assemblers",
		}),
		UnitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nb_unit_duration_seconds",
			Help:    "Duration of cut recognition units",
			Buckets: prometheus.LinearBuckets(0.5, 0.5, 10), // 0.5s to 5s
		}),
		GateSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_gate_skipped_units_total",
			Help: "Total number of units classified as silence and skipped",
		}),

		// Recognition metrics
		RecognitionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_recognition_requests_total",
			Help: "Total number of recognition requests submitted",
		}),
		RecognitionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_recognition_successes_total",
			Help: "Total number of successful recognition requests",
		}),
		RecognitionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nb_recognition_failures_total",
			Help: "Total number of failed recognition requests",
		}, []string{"kind"}),
		RecognitionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "nb_recognition_duration_seconds",
			Help:    "Duration of recognition requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Transcript metrics
		TranscriptMerges: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_transcript_merges_total",
			Help: "Total number of recognition results merged into transcripts",
		}),
		TranscriptStaleDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_transcript_stale_drops_total",
			Help: "Total number of stale recognition results discarded",
		}),

		// Broadcast metrics
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_events_published_total",
			Help: "Total number of events delivered to stream subscribers",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "nb_events_dropped_total",
			Help: "Total number of events dropped for absent or slow subscribers",
		}),
		ActiveSubscribers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "nb_active_subscribers",
			Help: "Current number of attached event stream subscribers",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nb_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nb_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "nb_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
}

// RecordSessionEnded increments the sessions ended counter and records duration
func (m *Metrics) RecordSessionEnded(durationSeconds float64) {
	m.SessionsEnded.Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordSessionSwept increments the idle sweep counter
func (m *Metrics) RecordSessionSwept() {
	m.SessionsSwept.Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordChunkReceived increments the chunks received counter
func (m *Metrics) RecordChunkReceived() {
	m.ChunksReceived.Inc()
}

// RecordMalformedChunk increments the malformed chunks counter
func (m *Metrics) RecordMalformedChunk() {
	m.MalformedChunks.Inc()
}

// RecordUnitCut records a cut recognition unit
func (m *Metrics) RecordUnitCut(durationSeconds float64) {
	m.UnitsCut.Inc()
	m.UnitDuration.Observe(durationSeconds)
}

// RecordGateSkipped increments the silence gate skip counter
func (m *Metrics) RecordGateSkipped() {
	m.GateSkipped.Inc()
}

// RecordRecognitionRequest increments the recognition requests counter
func (m *Metrics) RecordRecognitionRequest() {
	m.RecognitionRequests.Inc()
}

// RecordRecognitionSuccess records a successful recognition
func (m *Metrics) RecordRecognitionSuccess(durationSeconds float64) {
	m.RecognitionSuccesses.Inc()
	m.RecognitionDuration.Observe(durationSeconds)
}

// RecordRecognitionFailure records a failed recognition by failure kind
func (m *Metrics) RecordRecognitionFailure(kind string, durationSeconds float64) {
	m.RecognitionFailures.WithLabelValues(kind).Inc()
	m.RecognitionDuration.Observe(durationSeconds)
}

// RecordTranscriptMerge increments the transcript merge counter
func (m *Metrics) RecordTranscriptMerge() {
	m.TranscriptMerges.Inc()
}

// RecordTranscriptStaleDrop increments the stale drop counter
func (m *Metrics) RecordTranscriptStaleDrop() {
	m.TranscriptStaleDrops.Inc()
}

// RecordEventPublished increments the published events counter
func (m *Metrics) RecordEventPublished() {
	m.EventsPublished.Inc()
}

// RecordEventDropped increments the dropped events counter
func (m *Metrics) RecordEventDropped() {
	m.EventsDropped.Inc()
}

// SetActiveSubscribers sets the current subscriber count
func (m *Metrics) SetActiveSubscribers(count int) {
	m.ActiveSubscribers.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
