package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Global metrics instance for singleton pattern
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Import pipeline metrics
	ImportsTotal       *prometheus.CounterVec
	ImportDuration     prometheus.Histogram
	ClassifierRequests *prometheus.CounterVec
	ExtractorRequests  *prometheus.CounterVec
	ExtractorDuration  *prometheus.HistogramVec

	// LLM metrics
	LLMTokens   *prometheus.CounterVec
	LLMDuration *prometheus.HistogramVec

	// Queue metrics
	QueueJobs    *prometheus.CounterVec
	QueueDepth   *prometheus.GaugeVec
	WorkersBusy  prometheus.Gauge
	RestructureN prometheus.Counter

	// Cache metrics
	CacheRequests *prometheus.CounterVec
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	// Singleton avoids duplicate registration in tests.
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	importsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Total number of URL imports by outcome",
		},
		[]string{"status"},
	)

	importDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "End-to-end import pipeline duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	classifierRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_requests_total",
			Help:      "Total number of Phase-1 classifications by outcome",
		},
		[]string{"outcome"},
	)

	extractorRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_requests_total",
			Help:      "Total number of extractor runs",
		},
		[]string{"extractor", "outcome"},
	)

	extractorDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extractor_duration_seconds",
			Help:      "Extractor fetch and parse duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"extractor"},
	)

	llmTokens := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"phase", "direction"},
	)

	llmDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"phase"},
	)

	queueJobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_jobs_total",
			Help:      "Total queue job transitions",
		},
		[]string{"event"},
	)

	queueDepth := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of jobs per status",
		},
		[]string{"status"},
	)

	workersBusy := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enricher_workers_busy",
			Help:      "Number of enrichment workers currently holding a job",
		},
	)

	restructures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hierarchy_restructures_total",
			Help:      "Total number of executed hierarchy restructures",
		},
	)

	cacheRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Cache lookups by cache name and result",
		},
		[]string{"cache", "result"},
	)

	registry.MustRegister(
		httpRequests,
		httpDuration,
		importsTotal,
		importDuration,
		classifierRequests,
		extractorRequests,
		extractorDuration,
		llmTokens,
		llmDuration,
		queueJobs,
		queueDepth,
		workersBusy,
		restructures,
		cacheRequests,
	)

	globalCollector = &Collector{
		registry:           registry,
		HTTPRequests:       httpRequests,
		HTTPDuration:       httpDuration,
		ImportsTotal:       importsTotal,
		ImportDuration:     importDuration,
		ClassifierRequests: classifierRequests,
		ExtractorRequests:  extractorRequests,
		ExtractorDuration:  extractorDuration,
		LLMTokens:          llmTokens,
		LLMDuration:        llmDuration,
		QueueJobs:          queueJobs,
		QueueDepth:         queueDepth,
		WorkersBusy:        workersBusy,
		RestructureN:       restructures,
		CacheRequests:      cacheRequests,
	}

	return globalCollector
}

// Registry exposes the collector's registry for the /metrics handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ResetForTesting resets the global collector for testing purposes
func ResetForTesting() {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	globalCollector = nil
}
