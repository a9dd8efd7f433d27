package core

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quizlab-ai/quizlab/pkg/metrics"
)

type Metrics struct {
	apiResponseTime  *prometheus.HistogramVec
	apiErrorCounter  *prometheus.CounterVec
	shareIssued      *prometheus.CounterVec
	shareAccess      *prometheus.CounterVec
	shareLinkCleanup *prometheus.CounterVec
}

func NewMetrics(ns, system string) *Metrics {
	// setup metric
	metrics.SetupMetricsManager(ns, system, prometheus.DefaultRegisterer.(*prometheus.Registry))

	m := &Metrics{
		apiResponseTime:  metrics.NewHistogramVec("api_response_time", []string{"api"}),
		apiErrorCounter:  metrics.NewCounterVec("api_error", []string{"method", "api", "status"}),
		shareIssued:      metrics.NewCounterVec("share_link_issued", []string{"scope"}),
		shareAccess:      metrics.NewCounterVec("share_link_access", []string{"result"}),
		shareLinkCleanup: metrics.NewCounterVec("share_link_cleanup", []string{"kind"}),
	}

	return m
}

func (m *Metrics) ApiErrorInc(method, api string, status int) {
	m.apiErrorCounter.WithLabelValues(method, api, strconv.Itoa(status)).Inc()
}

func (m *Metrics) ApiResponseTimer(api string) *prometheus.Timer {
	return prometheus.NewTimer(m.apiResponseTime.WithLabelValues(api))
}

func (m *Metrics) ShareIssuedInc(scope string) {
	m.shareIssued.WithLabelValues(scope).Inc()
}

func (m *Metrics) ShareAccessInc(result string) {
	m.shareAccess.WithLabelValues(result).Inc()
}

func (m *Metrics) ShareCleanupAdd(kind string, n float64) {
	m.shareLinkCleanup.WithLabelValues(kind).Add(n)
}
