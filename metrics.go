package evacam

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus instruments for the controller.
type Metrics struct {
	registry          *prometheus.Registry
	tickDuration      prometheus.Histogram
	tickOverrunsTotal prometheus.Counter
	commandsIssued    prometheus.Counter
	commandsRejected  *prometheus.CounterVec
	samplesBuffered   prometheus.Gauge
	samplesFlushed    prometheus.Counter
	flushesTotal      prometheus.Counter
	emergencyStops    prometheus.Counter
}

// NewMetrics creates and registers the controller's instruments on a private
// registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	tickDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "evacam_tick_duration_seconds",
		Help:    "Control loop tick duration",
		Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05},
	})
	tickOverrunsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evacam_tick_overruns_total",
		Help: "Ticks that exceeded the configured period",
	})
	commandsIssued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evacam_commands_issued_total",
		Help: "Motion commands accepted by the arm transport",
	})
	commandsRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evacam_commands_rejected_total",
		Help: "Motion commands rejected before reaching the transport",
	}, []string{"reason"})
	samplesBuffered := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evacam_recorder_samples_buffered",
		Help: "Samples currently buffered in memory by the recorder",
	})
	samplesFlushed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evacam_recorder_samples_flushed_total",
		Help: "Samples flushed to persisted storage",
	})
	flushesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evacam_recorder_flushes_total",
		Help: "Buffer flushes performed by the recorder",
	})
	emergencyStops := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evacam_emergency_stops_total",
		Help: "Emergency stop trips",
	})

	registry.MustRegister(
		tickDuration,
		tickOverrunsTotal,
		commandsIssued,
		commandsRejected,
		samplesBuffered,
		samplesFlushed,
		flushesTotal,
		emergencyStops,
	)

	return &Metrics{
		registry:          registry,
		tickDuration:      tickDuration,
		tickOverrunsTotal: tickOverrunsTotal,
		commandsIssued:    commandsIssued,
		commandsRejected:  commandsRejected,
		samplesBuffered:   samplesBuffered,
		samplesFlushed:    samplesFlushed,
		flushesTotal:      flushesTotal,
		emergencyStops:    emergencyStops,
	}
}

// ObserveTick records one tick duration.
func (m *Metrics) ObserveTick(d time.Duration) {
	m.tickDuration.Observe(d.Seconds())
}

// IncOverruns counts a tick that exceeded its period.
func (m *Metrics) IncOverruns() {
	m.tickOverrunsTotal.Inc()
}

// IncIssued counts a command accepted by the transport.
func (m *Metrics) IncIssued() {
	m.commandsIssued.Inc()
}

// IncRejected counts a command rejected for the given reason.
func (m *Metrics) IncRejected(reason string) {
	m.commandsRejected.WithLabelValues(reason).Inc()
}

// SetBuffered reports the recorder's in-memory buffer depth.
func (m *Metrics) SetBuffered(n int) {
	m.samplesBuffered.Set(float64(n))
}

// AddFlushed counts samples persisted by one flush.
func (m *Metrics) AddFlushed(n int) {
	m.samplesFlushed.Add(float64(n))
	m.flushesTotal.Inc()
}

// IncEmergencyStops counts an emergency stop trip.
func (m *Metrics) IncEmergencyStops() {
	m.emergencyStops.Inc()
}

// Handler serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
