package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the recorder.
type Metrics struct {
	registry            *prometheus.Registry
	captureStartsTotal  prometheus.Counter
	captureExitsTotal   prometheus.Counter
	stallsTotal         prometheus.Counter
	restartsTotal       prometheus.Counter
	mergesTotal         prometheus.Counter
	mergeFailuresTotal  prometheus.Counter
	segmentsMergedTotal prometheus.Counter
	filesDeletedTotal   prometheus.Counter
	bytesFreedTotal     prometheus.Counter
	activeCameras       prometheus.Gauge
}

// New creates and registers Prometheus metrics for the recorder.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	captureStartsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_capture_starts_total",
		Help: "Total number of capture processes launched",
	})
	captureExitsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_capture_exits_total",
		Help: "Total number of capture process exits, voluntary or killed",
	})
	stallsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_stalls_total",
		Help: "Total number of stall verdicts that forced a capture restart",
	})
	restartsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_restarts_total",
		Help: "Total number of capture restart cycles entered",
	})
	mergesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_merges_total",
		Help: "Total number of minute buckets merged successfully",
	})
	mergeFailuresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_merge_failures_total",
		Help: "Total number of failed bucket merges (retried next tick)",
	})
	segmentsMergedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_segments_merged_total",
		Help: "Total number of segment files folded into merged files",
	})
	filesDeletedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_retention_files_deleted_total",
		Help: "Total number of files removed by the retention sweeper",
	})
	bytesFreedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "recorder_retention_bytes_freed_total",
		Help: "Total bytes freed by the retention sweeper",
	})
	activeCameras := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "recorder_active_cameras",
		Help: "Number of cameras with a supervisor running",
	})

	registry.MustRegister(
		captureStartsTotal,
		captureExitsTotal,
		stallsTotal,
		restartsTotal,
		mergesTotal,
		mergeFailuresTotal,
		segmentsMergedTotal,
		filesDeletedTotal,
		bytesFreedTotal,
		activeCameras,
	)

	return &Metrics{
		registry:            registry,
		captureStartsTotal:  captureStartsTotal,
		captureExitsTotal:   captureExitsTotal,
		stallsTotal:         stallsTotal,
		restartsTotal:       restartsTotal,
		mergesTotal:         mergesTotal,
		mergeFailuresTotal:  mergeFailuresTotal,
		segmentsMergedTotal: segmentsMergedTotal,
		filesDeletedTotal:   filesDeletedTotal,
		bytesFreedTotal:     bytesFreedTotal,
		activeCameras:       activeCameras,
	}
}

// IncCaptureStarts increments the capture launch counter.
func (m *Metrics) IncCaptureStarts() {
	m.captureStartsTotal.Inc()
}

// IncCaptureExits increments the capture exit counter.
func (m *Metrics) IncCaptureExits() {
	m.captureExitsTotal.Inc()
}

// IncStalls increments the stall counter.
func (m *Metrics) IncStalls() {
	m.stallsTotal.Inc()
}

// IncRestarts increments the restart cycle counter.
func (m *Metrics) IncRestarts() {
	m.restartsTotal.Inc()
}

// IncMerges increments the successful merge counter.
func (m *Metrics) IncMerges() {
	m.mergesTotal.Inc()
}

// IncMergeFailures increments the failed merge counter.
func (m *Metrics) IncMergeFailures() {
	m.mergeFailuresTotal.Inc()
}

// AddSegmentsMerged adds n to the merged segment counter.
func (m *Metrics) AddSegmentsMerged(n int) {
	m.segmentsMergedTotal.Add(float64(n))
}

// AddFilesDeleted adds n to the retention deletion counter.
func (m *Metrics) AddFilesDeleted(n int) {
	m.filesDeletedTotal.Add(float64(n))
}

// AddBytesFreed adds n to the retention bytes counter.
func (m *Metrics) AddBytesFreed(n int64) {
	m.bytesFreedTotal.Add(float64(n))
}

// SetActiveCameras sets the running supervisor gauge.
func (m *Metrics) SetActiveCameras(n int) {
	m.activeCameras.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
