package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2025-SMHRD-SW-BigData/DevMour/internal/pipeline"
)

// Metrics holds all application metrics
type Metrics struct {
	// Acquisition counters
	CaptureAttempts     atomic.Uint64
	BlankFrames         atomic.Uint64
	EmptyFrames         atomic.Uint64
	AcquisitionFailures atomic.Uint64
	DegradedFrames      atomic.Uint64

	// Analysis counters
	AnalysesTotal      atomic.Uint64
	DetectionsTotal    atomic.Uint64
	DetectorFailures   atomic.Uint64
	AllDetectorsFailed atomic.Uint64
	SinkErrors         atomic.Uint64

	// Latency tracking
	AnalysisLatencyMs atomic.Uint64 // Last analysis duration in ms

	// Last scores, per source
	lastRisk     *prometheus.GaugeVec
	lastCompound *prometheus.GaugeVec
	lastSeverity *prometheus.GaugeVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		lastRisk: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roadrisk_last_risk_score",
			Help: "Total risk score of the last analysis",
		}, []string{"source"}),
		lastCompound: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roadrisk_last_compound_score",
			Help: "Compound (risk x weather) score of the last analysis",
		}, []string{"source"}),
		lastSeverity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roadrisk_last_weather_severity",
			Help: "Weather severity (0-5) used by the last analysis",
		}, []string{"source"}),
	}

	m.registerPrometheusMetrics()

	return m
}

// counter registers a GaugeFunc reading an atomic counter
func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Acquisition
	m.counter("roadrisk_capture_attempts_total", "Total frame capture attempts", &m.CaptureAttempts)
	m.counter("roadrisk_blank_frames_total", "Captured frames rejected as blank", &m.BlankFrames)
	m.counter("roadrisk_empty_frames_total", "Capture attempts that returned no frame", &m.EmptyFrames)
	m.counter("roadrisk_acquisition_failures_total", "Analyses aborted after exhausting capture retries", &m.AcquisitionFailures)
	m.counter("roadrisk_degraded_frames_total", "Analyses run on a placeholder frame", &m.DegradedFrames)

	// Analysis
	m.counter("roadrisk_analyses_total", "Completed analyses", &m.AnalysesTotal)
	m.counter("roadrisk_detections_total", "Fused detections across all analyses", &m.DetectionsTotal)
	m.counter("roadrisk_detector_failures_total", "Detector calls that failed", &m.DetectorFailures)
	m.counter("roadrisk_all_detectors_failed_total", "Analyses in which every detector failed", &m.AllDetectorsFailed)
	m.counter("roadrisk_sink_errors_total", "Result sink write failures", &m.SinkErrors)

	// Latency
	m.counter("roadrisk_analysis_latency_ms", "Duration of the last analysis in milliseconds", &m.AnalysisLatencyMs)

	m.registry.MustRegister(m.lastRisk, m.lastCompound, m.lastSeverity)
}

// ObserveAttempt records one capture attempt
func (m *Metrics) ObserveAttempt(_ string, _ int, blank, empty bool) {
	m.CaptureAttempts.Add(1)
	if blank {
		m.BlankFrames.Add(1)
	}
	if empty {
		m.EmptyFrames.Add(1)
	}
}

// ObserveAcquisitionFailure records an analysis aborted for lack of a usable frame
func (m *Metrics) ObserveAcquisitionFailure(string) {
	m.AcquisitionFailures.Add(1)
}

// ObserveReport records a completed analysis
func (m *Metrics) ObserveReport(r *pipeline.Report) {
	m.AnalysesTotal.Add(1)
	m.DetectionsTotal.Add(uint64(len(r.Detections)))
	m.DetectorFailures.Add(uint64(len(r.DetectorFailures)))
	if r.AllDetectorsFailed {
		m.AllDetectorsFailed.Add(1)
	}
	if r.Degraded {
		m.DegradedFrames.Add(1)
	}
	m.UpdateAnalysisLatency(r.FinishedAt.Sub(r.StartedAt))

	m.lastRisk.WithLabelValues(r.SourceID).Set(r.Risk.TotalRiskScore)
	m.lastCompound.WithLabelValues(r.SourceID).Set(r.CompoundScore)
	m.lastSeverity.WithLabelValues(r.SourceID).Set(float64(r.WeatherSeverity))
}

// ObserveSinkError records a failed sink write
func (m *Metrics) ObserveSinkError(string) {
	m.SinkErrors.Add(1)
}

// UpdateAnalysisLatency stores the last analysis duration
func (m *Metrics) UpdateAnalysisLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.AnalysisLatencyMs.Store(uint64(d.Milliseconds()))
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
