// Package observability holds the Prometheus metrics of an acquisition run.
// A CLI run is short-lived, so metrics are flushed to a node-exporter
// textfile instead of being scraped.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
)

const namespace = "fim_prep"

// Metrics holds the counters, histograms and gauges for acquisition runs.
type Metrics struct {
	Registry *prometheus.Registry

	HUCsProcessed *prometheus.CounterVec // labels: status={ok,not_found,failed}
	HUCDuration   prometheus.Histogram
	StepDuration  *prometheus.HistogramVec // labels: step={nhd,wbd,huclist,hydrofabric}

	BatchDuration    prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
	LastRunSuccess   prometheus.Gauge
	ListedHUCs       *prometheus.GaugeVec // labels: level={4,6,8}
}

// NewMetrics creates all metrics on a fresh registry, so repeated calls never
// collide.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		HUCsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hucs_processed_total",
			Help:      "HU4 codes processed by outcome.",
		}, []string{"status"}),
		HUCDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "huc_duration_seconds",
			Help:      "Time spent preparing the NHD inputs of one HU4.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of each acquisition step.",
			Buckets:   []float64{1, 10, 60, 300, 900, 1800, 3600},
		}, []string{"step"}),
		BatchDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of the last acquisition batch.",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last acquisition batch finished.",
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 when the last batch did not fail, 0 otherwise.",
		}),
		ListedHUCs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listed_hucs",
			Help:      "Codes written to the included HUC lists by level.",
		}, []string{"level"}),
	}

	m.Registry.MustRegister(
		m.HUCsProcessed,
		m.HUCDuration,
		m.StepDuration,
		m.BatchDuration,
		m.LastRunTimestamp,
		m.LastRunSuccess,
		m.ListedHUCs,
	)
	return m
}

// WriteTextfile writes every registered metric in the text exposition
// format. The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	return eris.Wrapf(prometheus.WriteToTextfile(path, m.Registry), "observability: write %s", path)
}
