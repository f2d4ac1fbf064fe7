// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	MetricsNamespace         = "internalwiki"
	MetricsSubsystemSystem   = "system"
	MetricsSubsystemHTTP     = "http"
	MetricsSubsystemAPI      = "api"
	MetricsSubsystemPipeline = "pipeline"
	MetricsSubsystemLLM      = "llm"

	MetricsVersionLabel = "version"
)

type Metrics interface {
	GetRegistry() *prometheus.Registry

	ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64)

	IncrementHTTPRequests()
	IncrementHTTPErrors()

	ObserveQuery(organizationID, verificationStatus string, retrievalSeconds, generationSeconds float64)
	IncrementRetrievalFallbacks(organizationID string)

	GetMetricsForAIService(llmName string) *llmMetrics
}

type InstanceInfo struct {
	Version string
}

// metrics instruments the service in prometheus.
type metrics struct {
	registry *prometheus.Registry

	serviceStartTime prometheus.Gauge
	serviceInfo      prometheus.Gauge

	apiTime *prometheus.HistogramVec

	httpRequestsTotal prometheus.Counter
	httpErrorsTotal   prometheus.Counter

	queriesTotal       *prometheus.CounterVec
	retrievalTime      prometheus.Histogram
	generationTime     prometheus.Histogram
	retrievalFallbacks *prometheus.CounterVec
	llmRequestsTotal   *prometheus.CounterVec
	llmErrorsTotal     *prometheus.CounterVec
}

// NewMetrics creates a new metrics collector.
func NewMetrics(info InstanceInfo) Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	options := collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}
	m.registry.MustRegister(collectors.NewProcessCollector(options))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.serviceStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "start_timestamp_seconds",
		Help:      "The time the service started.",
	})
	m.serviceStartTime.SetToCurrentTime()
	m.registry.MustRegister(m.serviceStartTime)

	m.serviceInfo = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "info",
		Help:      "The service version.",
		ConstLabels: map[string]string{
			MetricsVersionLabel: info.Version,
		},
	})
	m.serviceInfo.Set(1)
	m.registry.MustRegister(m.serviceInfo)

	m.apiTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystemAPI,
			Name:      "time_seconds",
			Help:      "Time to execute the api handler",
		},
		[]string{"handler", "method", "status_code"},
	)
	m.registry.MustRegister(m.apiTime)

	m.httpRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "requests_total",
		Help:      "The total number of http API requests.",
	})
	m.registry.MustRegister(m.httpRequestsTotal)

	m.httpErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "errors_total",
		Help:      "The total number of http API errors.",
	})
	m.registry.MustRegister(m.httpErrorsTotal)

	m.queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPipeline,
		Name:      "queries_total",
		Help:      "The total number of answered queries by contract verdict.",
	}, []string{"organization_id", "verification_status"})
	m.registry.MustRegister(m.queriesTotal)

	m.retrievalTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPipeline,
		Name:      "retrieval_time_seconds",
		Help:      "Time spent retrieving chunks for a query.",
	})
	m.registry.MustRegister(m.retrievalTime)

	m.generationTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPipeline,
		Name:      "generation_time_seconds",
		Help:      "Time spent generating an answer for a query.",
	})
	m.registry.MustRegister(m.generationTime)

	m.retrievalFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemPipeline,
		Name:      "retrieval_fallbacks_total",
		Help:      "The total number of queries answered from document-summary fallback.",
	}, []string{"organization_id"})
	m.registry.MustRegister(m.retrievalFallbacks)

	m.llmRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "requests_total",
		Help:      "The total number of LLM requests.",
	}, []string{"llm_name"})
	m.registry.MustRegister(m.llmRequestsTotal)

	m.llmErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "errors_total",
		Help:      "The total number of failed LLM requests.",
	}, []string{"llm_name"})
	m.registry.MustRegister(m.llmErrorsTotal)

	return m
}

func (m *metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *metrics) ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64) {
	if m != nil {
		m.apiTime.With(prometheus.Labels{"handler": handler, "method": method, "status_code": statusCode}).Observe(elapsed)
	}
}

func (m *metrics) IncrementHTTPRequests() {
	if m != nil {
		m.httpRequestsTotal.Inc()
	}
}

func (m *metrics) IncrementHTTPErrors() {
	if m != nil {
		m.httpErrorsTotal.Inc()
	}
}

func (m *metrics) ObserveQuery(organizationID, verificationStatus string, retrievalSeconds, generationSeconds float64) {
	if m == nil {
		return
	}

	// Use "unknown" for missing dimensions to allow aggregation.
	if organizationID == "" {
		organizationID = "unknown"
	}
	m.queriesTotal.With(prometheus.Labels{
		"organization_id":     organizationID,
		"verification_status": verificationStatus,
	}).Inc()
	m.retrievalTime.Observe(retrievalSeconds)
	m.generationTime.Observe(generationSeconds)
}

func (m *metrics) IncrementRetrievalFallbacks(organizationID string) {
	if m == nil {
		return
	}
	if organizationID == "" {
		organizationID = "unknown"
	}
	m.retrievalFallbacks.With(prometheus.Labels{"organization_id": organizationID}).Inc()
}

func (m *metrics) GetMetricsForAIService(llmName string) *llmMetrics {
	if m == nil {
		return nil
	}

	return &llmMetrics{
		llmRequestsTotal: m.llmRequestsTotal.MustCurryWith(prometheus.Labels{"llm_name": llmName}),
		llmErrorsTotal:   m.llmErrorsTotal.MustCurryWith(prometheus.Labels{"llm_name": llmName}),
	}
}

type LLMetrics interface {
	IncrementLLMRequests()
	IncrementLLMErrors()
}

type llmMetrics struct {
	llmRequestsTotal *prometheus.CounterVec
	llmErrorsTotal   *prometheus.CounterVec
}

func (m *llmMetrics) IncrementLLMRequests() {
	if m != nil {
		m.llmRequestsTotal.With(prometheus.Labels{}).Inc()
	}
}

func (m *llmMetrics) IncrementLLMErrors() {
	if m != nil {
		m.llmErrorsTotal.With(prometheus.Labels{}).Inc()
	}
}
