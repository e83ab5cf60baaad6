package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lexiqai/voice-relay/internal/resilience"
)

var (
	// Connection metrics
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_relay_active_connections",
		Help: "Number of open relay websocket connections",
	})

	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_connections_total",
		Help: "Total number of accepted relay connections",
	})

	connectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_connection_duration_seconds",
		Help:    "Lifetime of relay connections in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	authFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_auth_failures_total",
		Help: "Upgrade requests rejected by credential verification",
	}, []string{"reason"})

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_turns_total",
		Help: "Completed turns by outcome",
	}, []string{"outcome"}) // completed, cancelled, empty_transcript, error

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_relay_turn_duration_seconds",
		Help:    "Time from audio submission to processing_end",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40},
	})

	droppedSubmissions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_dropped_submissions_total",
		Help: "Audio submissions ignored because a turn was already in progress",
	})

	cancelRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_cancel_requests_total",
		Help: "Cancel frames received",
	})

	// Upstream metrics
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_upstream_requests_total",
		Help: "Requests to upstream services",
	}, []string{"service", "status"}) // service: stt, llm, tts

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_relay_upstream_latency_seconds",
		Help:    "Upstream request latency in seconds (time to first token for llm)",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"service"})

	chunksEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_relay_audio_chunks_total",
		Help: "Synthesized audio chunks sent to clients",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_relay_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_relay_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // in: client recordings, out: synthesized speech
)

// Upstream service labels.
const (
	ServiceSTT = "stt"
	ServiceLLM = "llm"
	ServiceTTS = "tts"
)

// Turn outcome labels.
const (
	OutcomeCompleted       = "completed"
	OutcomeCancelled       = "cancelled"
	OutcomeEmptyTranscript = "empty_transcript"
	OutcomeError           = "error"
)

// Metrics tracks metrics for a single connection
type Metrics struct {
	connectionID string
	startTime    time.Time
}

// NewConnectionMetrics creates a new metrics tracker for a connection
func NewConnectionMetrics(connectionID string) *Metrics {
	return &Metrics{
		connectionID: connectionID,
		startTime:    time.Now(),
	}
}

// RecordConnectionStart records an accepted connection
func (m *Metrics) RecordConnectionStart() {
	activeConnections.Inc()
	connectionsTotal.Inc()
}

// RecordConnectionEnd records a closed connection
func (m *Metrics) RecordConnectionEnd() {
	activeConnections.Dec()
	connectionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTurn records the outcome and duration of one turn
func (m *Metrics) RecordTurn(outcome string, duration time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.Observe(duration.Seconds())
}

// RecordDroppedSubmission records an audio frame ignored while busy
func (m *Metrics) RecordDroppedSubmission() {
	droppedSubmissions.Inc()
}

// RecordCancel records a cancel frame
func (m *Metrics) RecordCancel() {
	cancelRequests.Inc()
}

// RecordChunk records one audio chunk sent to the client
func (m *Metrics) RecordChunk(bytes int) {
	chunksEmitted.Inc()
	audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// ObserveUpstream records one upstream request. Used by the stt, llm and tts
// clients, which are shared across connections.
func ObserveUpstream(service string, latency time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	upstreamRequests.WithLabelValues(service, status).Inc()
	upstreamLatency.WithLabelValues(service).Observe(latency.Seconds())
}

// RecordAuthFailure records a rejected upgrade request
func RecordAuthFailure(reason string) {
	authFailures.WithLabelValues(reason).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// TrackBreaker mirrors the breaker's state into the circuit breaker gauge.
func TrackBreaker(cb *resilience.CircuitBreaker) {
	UpdateCircuitBreakerState(cb.Name(), int(cb.GetState()))
	cb.OnStateChange(func(name string, _, to resilience.CircuitState) {
		UpdateCircuitBreakerState(name, int(to))
	})
}
