// Package metrics exposes the service's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "healthq"

const (
	StageRewrite  = "rewrite"
	StageRetrieve = "retrieve"
	StageCompose  = "compose"
	StageAppend   = "append"
	StageLoad     = "load"
	StageIndex    = "index"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type Metrics struct {
	registry       *prometheus.Registry
	turns          *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	indexBuilds    *prometheus.CounterVec
	indexChunks    prometheus.Gauge
	cacheLookups   *prometheus.CounterVec
	archivePublish *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns handled, by outcome.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage", "status"}),
		indexBuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_builds_total",
			Help:      "Index builds, by outcome.",
		}, []string{"status"}),
		indexChunks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "knowledge_base_chunks",
			Help:      "Chunks in the active knowledge base.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "knowledge_base_lookups_total",
			Help:      "Knowledge base lookups, by result (hit or miss).",
		}, []string{"result"}),
		archivePublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_archive_publish_total",
			Help:      "Turn archive publishes, by outcome.",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.turns,
		m.stageDuration,
		m.indexBuilds,
		m.indexChunks,
		m.cacheLookups,
		m.archivePublish,
	)
	return m
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// The observe helpers accept a nil receiver so callers can run without
// metrics.

func (m *Metrics) ObserveTurn(err error) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) ObserveStage(stage string, started time.Time, err error) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage, status(err)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveIndexBuild(err error) {
	if m == nil {
		return
	}
	m.indexBuilds.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) SetKnowledgeBaseChunks(n int) {
	if m == nil {
		return
	}
	m.indexChunks.Set(float64(n))
}

func (m *Metrics) ObserveCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveArchivePublish(err error) {
	if m == nil {
		return
	}
	m.archivePublish.WithLabelValues(status(err)).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
