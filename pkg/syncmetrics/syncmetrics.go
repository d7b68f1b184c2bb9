// Package syncmetrics exports sync counters in Prometheus format.
package syncmetrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paulschiretz/pgl-booksync/pkg/pathsync"
)

const namespace = "pgl_booksync"

// Collector owns a private registry with all sync metrics.
type Collector struct {
	registry *prometheus.Registry

	files        *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	passDuration *prometheus.HistogramVec
	lastPass     *prometheus.GaugeVec
	runs         *prometheus.CounterVec
	inProgress   prometheus.Gauge
}

// New registers the sync metrics and the Go runtime collectors on a fresh
// registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		files: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "files_total",
				Help:      "Files handled per replica, by action.",
			},
			[]string{"replica", "action"},
		),
		bytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bytes_total",
				Help:      "Bytes hashed or written per replica.",
			},
			[]string{"replica", "kind"},
		),
		passDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "replica_pass_duration_seconds",
				Help:      "Duration of one replica pass.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"replica", "status"},
		),
		lastPass: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "replica_last_pass_timestamp_seconds",
				Help:      "Unix time of the last finished replica pass.",
			},
			[]string{"replica"},
		),
		runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Sync runs over all replicas, by result.",
			},
			[]string{"result"},
		),
		inProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "run_in_progress",
				Help:      "1 while a sync run is active.",
			},
		),
	}
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// ForReplica returns pass metrics for one replica. The result still logs
// progress and summaries like pathsync.SyncMetrics.
func (c *Collector) ForReplica(replica string) pathsync.Metrics {
	return &replicaMetrics{
		SyncMetrics: pathsync.NewSyncMetrics(replica).(*pathsync.SyncMetrics),
		c:           c,
		replica:     replica,
	}
}

// RunStarted marks a run as active.
func (c *Collector) RunStarted() { c.inProgress.Set(1) }

// RunFinished records the result of a whole run: "success", "partial" or
// "failed".
func (c *Collector) RunFinished(result string) {
	c.inProgress.Set(0)
	c.runs.WithLabelValues(result).Inc()
}

type replicaMetrics struct {
	*pathsync.SyncMetrics
	c       *Collector
	replica string
}

func (m *replicaMetrics) addFiles(action string, n int64) {
	m.c.files.WithLabelValues(m.replica, action).Add(float64(n))
}

func (m *replicaMetrics) AddFilesAdded(n int64) {
	m.SyncMetrics.AddFilesAdded(n)
	m.addFiles("added", n)
}

func (m *replicaMetrics) AddFilesUpdated(n int64) {
	m.SyncMetrics.AddFilesUpdated(n)
	m.addFiles("updated", n)
}

func (m *replicaMetrics) AddFilesDeleted(n int64) {
	m.SyncMetrics.AddFilesDeleted(n)
	m.addFiles("deleted", n)
}

func (m *replicaMetrics) AddFilesUnchanged(n int64) {
	m.SyncMetrics.AddFilesUnchanged(n)
	m.addFiles("unchanged", n)
}

func (m *replicaMetrics) AddFilesIgnored(n int64) {
	m.SyncMetrics.AddFilesIgnored(n)
	m.addFiles("ignored", n)
}

func (m *replicaMetrics) AddFileErrors(n int64) {
	m.SyncMetrics.AddFileErrors(n)
	m.addFiles("error", n)
}

func (m *replicaMetrics) AddBytesHashed(n int64) {
	m.SyncMetrics.AddBytesHashed(n)
	m.c.bytes.WithLabelValues(m.replica, "hashed").Add(float64(n))
}

func (m *replicaMetrics) AddBytesWritten(n int64) {
	m.SyncMetrics.AddBytesWritten(n)
	m.c.bytes.WithLabelValues(m.replica, "written").Add(float64(n))
}

func (m *replicaMetrics) ObservePass(d time.Duration, failed bool) {
	status := "ok"
	if failed {
		status = "failed"
	}
	m.c.passDuration.WithLabelValues(m.replica, status).Observe(d.Seconds())
	m.c.lastPass.WithLabelValues(m.replica).SetToCurrentTime()
}

var _ pathsync.Metrics = (*replicaMetrics)(nil)
