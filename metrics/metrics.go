package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ingest"

// 流水线阶段
const (
	StageDownload = "download"
	StageParse    = "parse"
	StageEmbed    = "embed"
	StageIndex    = "index"
)

// Metrics 导入流水线的指标，方法对 nil 接收者安全
type Metrics struct {
	registry *prometheus.Registry

	tasks          *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	recordsIndexed prometheus.Counter
	indexBatches   *prometheus.CounterVec
	embedTexts     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_total",
			Help:      "Import tasks finished, by terminal status.",
		}, []string{"status"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"stage"}),
		recordsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_indexed_total",
			Help:      "Records written to both indexes.",
		}),
		indexBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_batches_total",
			Help:      "Index sub-batches, by target index and result.",
		}, []string{"index", "result"}),
		embedTexts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedded_texts_total",
			Help:      "Texts sent to the embedding runtime, by model.",
		}, []string{"model"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.tasks,
		m.stageDuration,
		m.recordsIndexed,
		m.indexBatches,
		m.embedTexts,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) TaskFinished(status string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(status).Inc()
}

// ObserveStage 用法：defer m.ObserveStage(metrics.StageParse, time.Now())
func (m *Metrics) ObserveStage(stage string, start time.Time) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

func (m *Metrics) RecordsIndexed(n int) {
	if m == nil {
		return
	}
	m.recordsIndexed.Add(float64(n))
}

func (m *Metrics) IndexBatch(index string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.indexBatches.WithLabelValues(index, result).Inc()
}

func (m *Metrics) TextsEmbedded(model string, n int) {
	if m == nil {
		return
	}
	m.embedTexts.WithLabelValues(model).Add(float64(n))
}
