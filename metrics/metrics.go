// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var AnalysisInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "roteirista_analysis_invocations_total",
	Help: "Analysis invocations by kind and outcome.",
}, []string{"kind", "outcome"})

var AnalysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "roteirista_analysis_duration_seconds",
	Help:    "Provider round-trip time of analysis invocations.",
	Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 120},
}, []string{"kind"})

var QuotaDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "roteirista_quota_decisions_total",
	Help: "Quota decisions by resource and decision (reserve, exhausted, consume, release, settle_failed).",
}, []string{"resource", "decision"})

var BillingEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "roteirista_billing_events_total",
	Help: "Payment events by settlement outcome.",
}, []string{"outcome"})

var Granted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "roteirista_entitlements_granted_total",
	Help: "Units granted by billing settlement, by resource.",
}, []string{"resource"})

// Handler serves the default registry.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
