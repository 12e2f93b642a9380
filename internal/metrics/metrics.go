// Package metrics exposes Prometheus metrics for the repository, the HTTP API
// and the query engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "outpack_server"

// RepositoryStats is read on every scrape
type RepositoryStats interface {
	// MetadataCount is the number of packets whose metadata is known
	MetadataCount() int
	// PacketCount is the number of packets unpacked in the local location
	PacketCount() int
	// FileStats returns the number and total size of files in the file store
	FileStats() (count int, bytes int64)
}

// Metrics holds all Prometheus metrics for one server. Each instance owns its
// own registry so several servers (or tests) can coexist in a process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Query metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration prometheus.Histogram
	CacheLookups  *prometheus.CounterVec

	// Ingest metrics
	PacketsIngested prometheus.Counter
	IngestErrors    prometheus.Counter

	// Event stream metrics
	EventClients prometheus.Gauge
}

// New creates metrics registered against a fresh registry, including the Go
// runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),

		QueriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of query evaluations by outcome",
		}, []string{"outcome"}), // outcome: ok, parse_error, eval_error

		QueryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Query evaluation latency in seconds, excluding cache hits",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_cache_lookups_total",
			Help:      "Query result cache lookups by result",
		}, []string{"result"}), // result: hit, miss, error

		PacketsIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_ingested_total",
			Help:      "Packets added to the metadata index since start",
		}),

		IngestErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_errors_total",
			Help:      "Metadata files that failed to ingest",
		}),

		EventClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_clients",
			Help:      "Number of connected packet event stream clients",
		}),
	}
}

// RegisterRepository adds gauges that read repository totals at scrape time
func (m *Metrics) RegisterRepository(stats RepositoryStats) {
	factory := promauto.With(m.registry)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "metadata_total",
		Help:      "Number of packets with metadata in the repository",
	}, func() float64 { return float64(stats.MetadataCount()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "packets_total",
		Help:      "Number of packets unpacked in the local location",
	}, func() float64 { return float64(stats.PacketCount()) })

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "files_total",
		Help:      "Number of files in the file store",
	}, func() float64 {
		count, _ := stats.FileStats()
		return float64(count)
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "file_size_bytes_total",
		Help:      "Total size of files in the file store",
	}, func() float64 {
		_, size := stats.FileStats()
		return float64(size)
	})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordRequest records one completed HTTP request
func (m *Metrics) RecordRequest(method, route, status string, d time.Duration) {
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveQuery records one query evaluation
func (m *Metrics) ObserveQuery(outcome string, d time.Duration) {
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	m.QueryDuration.Observe(d.Seconds())
}

// ObserveCache records a query cache lookup
func (m *Metrics) ObserveCache(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordIngest records the outcome of ingesting one metadata file
func (m *Metrics) RecordIngest(err error) {
	if err != nil {
		m.IngestErrors.Inc()
		return
	}
	m.PacketsIngested.Inc()
}

// ClientConnected records a new event stream client
func (m *Metrics) ClientConnected() { m.EventClients.Inc() }

// ClientDisconnected records an event stream client going away
func (m *Metrics) ClientDisconnected() { m.EventClients.Dec() }
