// Package metrics exposes Prometheus metrics for translation cycles.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the cycle driver reports to.
type Recorder interface {
	RecordDecision(kind, outcome string)
	RecordTranslation(kind, status string)
	RecordSourceFailure(kind, source string)
	RecordUnparseable(kind string, count int)
	RecordCycle(duration time.Duration, finishedAt time.Time)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	decisions      *prometheus.CounterVec
	translations   *prometheus.CounterVec
	sourceFailures *prometheus.CounterVec
	unparseable    *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	lastCycle      prometheus.Gauge
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazarr_autotranslate_decisions_total",
			Help: "Eligibility decisions by item kind and outcome.",
		}, []string{"kind", "outcome"}),
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazarr_autotranslate_translations_total",
			Help: "Translation triggers by item kind and result.",
		}, []string{"kind", "status"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazarr_autotranslate_source_failures_total",
			Help: "Failed wanted or history fetches.",
		}, []string{"kind", "source"}),
		unparseable: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bazarr_autotranslate_unparseable_timestamps_total",
			Help: "History records skipped because of an unreadable timestamp.",
		}, []string{"kind"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bazarr_autotranslate_cycle_duration_seconds",
			Help:    "Duration of complete translation cycles.",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}),
		lastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bazarr_autotranslate_last_cycle_timestamp_seconds",
			Help: "Unix time the last cycle finished.",
		}),
	}

	reg.MustRegister(
		c.decisions,
		c.translations,
		c.sourceFailures,
		c.unparseable,
		c.cycleDuration,
		c.lastCycle,
	)
	return c
}

func (c *Collector) RecordDecision(kind, outcome string) {
	c.decisions.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) RecordTranslation(kind, status string) {
	c.translations.WithLabelValues(kind, status).Inc()
}

func (c *Collector) RecordSourceFailure(kind, source string) {
	c.sourceFailures.WithLabelValues(kind, source).Inc()
}

func (c *Collector) RecordUnparseable(kind string, count int) {
	if count > 0 {
		c.unparseable.WithLabelValues(kind).Add(float64(count))
	}
}

func (c *Collector) RecordCycle(duration time.Duration, finishedAt time.Time) {
	c.cycleDuration.Observe(duration.Seconds())
	c.lastCycle.Set(float64(finishedAt.Unix()))
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordDecision(string, string) {}
func (Nop) RecordTranslation(string, string) {}
func (Nop) RecordSourceFailure(string, string) {}
func (Nop) RecordUnparseable(string, int) {}
func (Nop) RecordCycle(time.Duration, time.Time) {}

// WriteTextfile dumps gatherer in the node_exporter textfile format.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create metrics directory: %w", err)
		}
	}
	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Handler returns the /metrics handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
