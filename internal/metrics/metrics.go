// Package metrics exposes Prometheus counters and gauges for the core,
// grounded on the orchestrator example's own-registry pattern: a private
// *prometheus.Registry rather than the global default, so tests can
// construct a fresh Metrics per case without collector-already-registered
// panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the core publishes.
type Metrics struct {
	registry *prometheus.Registry

	activationsTotal        prometheus.Counter
	activationDropsTotal    prometheus.Counter
	activeAtmosphereStreams prometheus.Gauge
	queueDepth              prometheus.Gauge
	queueDownloadsTotal     prometheus.Counter
	queueFailuresTotal      prometheus.Counter
	lightsTicksTotal        prometheus.Counter
	errorsTotal             prometheus.Counter
}

// New creates and registers every collector.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		activationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "immersed_activations_total",
			Help: "Total number of Activate calls, counted on entry (including ones that fail or are superseded).",
		}),
		activationDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "immersed_activation_mix_drops_total",
			Help: "Total number of atmosphere mix entries dropped for never resolving within the pre-stage ceiling.",
		}),
		activeAtmosphereStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "immersed_active_atmosphere_streams",
			Help: "Number of atmosphere streams currently playing.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "immersed_download_queue_depth",
			Help: "Number of URLs with an outstanding Download Queue record.",
		}),
		queueDownloadsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "immersed_downloads_total",
			Help: "Total number of downloads that completed successfully.",
		}),
		queueFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "immersed_download_failures_total",
			Help: "Total number of downloads that failed.",
		}),
		lightsTicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "immersed_lights_ticks_total",
			Help: "Total number of animation ticks sent to fixtures.",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "immersed_errors_total",
			Help: "Total number of one-shot Player spawn failures during Activate.",
		}),
	}

	registry.MustRegister(
		m.activationsTotal,
		m.activationDropsTotal,
		m.activeAtmosphereStreams,
		m.queueDepth,
		m.queueDownloadsTotal,
		m.queueFailuresTotal,
		m.lightsTicksTotal,
		m.errorsTotal,
	)
	return m
}

// Every method is nil-receiver safe so callers can hold a *Metrics field
// that is simply unset in tests, without needing a no-op stand-in type.

func (m *Metrics) IncActivations() {
	if m != nil {
		m.activationsTotal.Inc()
	}
}
func (m *Metrics) AddActivationDrops(n int) {
	if m != nil {
		m.activationDropsTotal.Add(float64(n))
	}
}
func (m *Metrics) SetActiveAtmosphereStreams(n int) {
	if m != nil {
		m.activeAtmosphereStreams.Set(float64(n))
	}
}
func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.queueDepth.Set(float64(n))
	}
}
func (m *Metrics) IncDownloads() {
	if m != nil {
		m.queueDownloadsTotal.Inc()
	}
}
func (m *Metrics) IncDownloadFailures() {
	if m != nil {
		m.queueFailuresTotal.Inc()
	}
}
func (m *Metrics) IncLightsTicks() {
	if m != nil {
		m.lightsTicksTotal.Inc()
	}
}
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// Handler serves the registry's metrics, invoking updateGauges first so
// gauge-backed values reflect live state at scrape time rather than the
// last time someone happened to call a setter.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
