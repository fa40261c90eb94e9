// Package telemetry holds the process metrics. Every metric starts as a
// no-op and is replaced by a Prometheus collector in InitMetrics, once
// InitializeTelemetry has created the registry.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/edgepub/edgepub/cfg"
)

const namespace = "edgepub"

var registry *prometheus.Registry

// registerer prefixes names and stamps worker_id on everything it registers
var registerer prometheus.Registerer

type Counter interface {
	Inc()
	Add(float64)
}

type Gauge interface {
	Set(float64)
}

type Histogram interface {
	Observe(float64)
}

type CounterVec interface {
	With(labels ...string) Counter
}

type GaugeVec interface {
	With(labels ...string) Gauge
}

type HistogramVec interface {
	With(labels ...string) Histogram
}

// NoopStat records nothing
type NoopStat struct{}

func (NoopStat) Inc()            {}
func (NoopStat) Add(float64)     {}
func (NoopStat) Set(float64)     {}
func (NoopStat) Observe(float64) {}

// labeled adapts a label lookup to the Vec interfaces
type labeled[M any] func(labels ...string) M

func (l labeled[M]) With(labels ...string) M { return l(labels...) }

var (
	noopCounterVec   CounterVec   = labeled[Counter](func(...string) Counter { return NoopStat{} })
	noopGaugeVec     GaugeVec     = labeled[Gauge](func(...string) Gauge { return NoopStat{} })
	noopHistogramVec HistogramVec = labeled[Histogram](func(...string) Histogram { return NoopStat{} })
)

func register[C prometheus.Collector](c C) C {
	registerer.MustRegister(c)
	return c
}

func NewCounter(name, help string) Counter {
	if registerer == nil {
		return NoopStat{}
	}
	return register(prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help}))
}

func NewGauge(name, help string) Gauge {
	if registerer == nil {
		return NoopStat{}
	}
	return register(prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help}))
}

// NewHistogram creates a histogram; nil buckets means the Prometheus defaults
func NewHistogram(name, help string, buckets []float64) Histogram {
	if registerer == nil {
		return NoopStat{}
	}
	return register(prometheus.NewHistogram(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}))
}

func NewCounterVec(name, help string, labels ...string) CounterVec {
	if registerer == nil {
		return noopCounterVec
	}
	vec := register(prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels))
	return labeled[Counter](func(values ...string) Counter { return vec.WithLabelValues(values...) })
}

func NewGaugeVec(name, help string, labels ...string) GaugeVec {
	if registerer == nil {
		return noopGaugeVec
	}
	vec := register(prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels))
	return labeled[Gauge](func(values ...string) Gauge { return vec.WithLabelValues(values...) })
}

func NewHistogramVec(name, help string, buckets []float64, labels ...string) HistogramVec {
	if registerer == nil {
		return noopHistogramVec
	}
	vec := register(prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}, labels))
	return labeled[Histogram](func(values ...string) Histogram { return vec.WithLabelValues(values...) })
}

// InitializeTelemetry creates the registry when Prometheus is enabled.
// Metrics created before this call are no-ops.
func InitializeTelemetry() {
	if !cfg.Config.Prometheus.Enabled {
		return
	}

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	registerer = prometheus.WrapRegistererWithPrefix(namespace+"_",
		prometheus.WrapRegistererWith(prometheus.Labels{"worker_id": cfg.Config.WorkerID}, registry))

	log.Info().Msg("Prometheus metrics enabled - served on the API port at /metrics")
}

// GetMetricsHandler returns the HTTP handler for Prometheus metrics
// Returns nil if Prometheus is not enabled
func GetMetricsHandler() http.Handler {
	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
