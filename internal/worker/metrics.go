package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry         *prometheus.Registry
	batchesTotal     *prometheus.CounterVec
	batchDuration    *prometheus.HistogramVec
	activeBatches    prometheus.Gauge
	filesTotal       *prometheus.CounterVec
	outputBytesTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagepress_worker_batches_total",
			Help: "Total worker batches by final status.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagepress_worker_batch_duration_seconds",
			Help:    "Total processing duration for each batch.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		activeBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagepress_worker_active_batches",
			Help: "Current number of batches being processed.",
		}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagepress_worker_files_total",
			Help: "Total per-file outcomes across all batches.",
		}, []string{"outcome"}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imagepress_worker_output_bytes_total",
			Help: "Total converted output bytes written to object storage.",
		}),
	}

	registry.MustRegister(
		m.batchesTotal,
		m.batchDuration,
		m.activeBatches,
		m.filesTotal,
		m.outputBytesTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
