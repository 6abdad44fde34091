package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	activeClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dictation_gateway_active_clients",
		Help: "Number of connected dictation clients",
	})

	clientDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dictation_gateway_client_duration_seconds",
		Help:    "Duration of client connections in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	})

	// Dictation metrics
	activeListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dictation_gateway_listening_sessions",
		Help: "Number of controllers currently listening",
	})

	utterancesDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_utterances_total",
		Help: "Total finalized utterances delivered to clients",
	}, []string{"trigger"}) // trigger: silence, fallback, session_end

	utteranceLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dictation_gateway_utterance_seconds",
		Help:    "Time from first transcript fragment to delivery in seconds",
		Buckets: []float64{0.5, 1, 2, 4, 8, 15, 30},
	})

	recognitionRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_recognition_restarts_total",
		Help: "Total recognition session restarts",
	}, []string{"platform", "cause"}) // cause: unexpected_end, transient_error, tts_resume, continuous

	loopGuardTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_loop_guard_trips_total",
		Help: "Times the restart loop guard gave up on a session",
	}, []string{"platform"})

	suppressedResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_suppressed_results_total",
		Help: "Recognition results discarded before reaching the transcript",
	}, []string{"reason"}) // reason: tts_active, duplicate, inactive

	recognitionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_recognition_errors_total",
		Help: "Recognition errors by code",
	}, []string{"code"})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_tts_requests_total",
		Help: "Total number of TTS requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dictation_gateway_tts_latency_seconds",
		Help:    "TTS synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dictation_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dictation_gateway_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"
)

// Metrics tracks metrics for a single client connection
type Metrics struct {
	clientID       string
	platform       string
	startTime      time.Time
	utteranceStart time.Time
	ttsStartTime   time.Time
	listening      bool
	mu             sync.Mutex
}

// NewClientMetrics creates a new metrics tracker for a client connection
func NewClientMetrics(clientID, platform string) *Metrics {
	return &Metrics{
		clientID:  clientID,
		platform:  platform,
		startTime: time.Now(),
	}
}

// RecordClientStart records a new connection
func (m *Metrics) RecordClientStart() {
	activeClients.Inc()
}

// RecordClientEnd records the end of a connection
func (m *Metrics) RecordClientEnd() {
	activeClients.Dec()
	clientDuration.Observe(time.Since(m.startTime).Seconds())
	m.RecordListening(false)
}

// RecordListening tracks transitions of the listening intent
func (m *Metrics) RecordListening(listening bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listening == listening {
		return
	}
	m.listening = listening
	if listening {
		activeListeners.Inc()
	} else {
		activeListeners.Dec()
	}
}

// RecordFirstFragment marks the start of an utterance
func (m *Metrics) RecordFirstFragment() {
	m.mu.Lock()
	m.utteranceStart = time.Now()
	m.mu.Unlock()
}

// RecordUtterance records a delivered utterance
func (m *Metrics) RecordUtterance(trigger string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.utteranceStart.IsZero() {
		utteranceLatency.Observe(time.Since(m.utteranceStart).Seconds())
		m.utteranceStart = time.Time{}
	}
	utterancesDelivered.WithLabelValues(trigger).Inc()
}

// RecordRestart records a recognition session restart
func (m *Metrics) RecordRestart(cause string) {
	recognitionRestarts.WithLabelValues(m.platform, cause).Inc()
}

// RecordLoopGuardTrip records the loop guard giving up
func (m *Metrics) RecordLoopGuardTrip() {
	loopGuardTrips.WithLabelValues(m.platform).Inc()
}

// RecordSuppressed records a discarded recognition result
func (m *Metrics) RecordSuppressed(reason string) {
	suppressedResults.WithLabelValues(reason).Inc()
}

// RecordRecognitionError records a recognition error code
func (m *Metrics) RecordRecognitionError(code string) {
	recognitionErrors.WithLabelValues(code).Inc()
}

// RecordTTSStart records the start of TTS processing
func (m *Metrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of TTS processing
func (m *Metrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStartTime).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func (m *Metrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
