/**
 * @description
 * Prometheus instrumentation for the openbanking-service. Metrics are registered
 * on a private registry exposed by Handler, so tests can build as many
 * instances as they like. All methods are safe on a nil *Metrics.
 *
 * @dependencies
 * - github.com/prometheus/client_golang: metric types and the /metrics handler.
 */
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Gateway request outcomes.
const (
	OutcomeSuccess        = "success"
	OutcomeClientError    = "client_error"
	OutcomeServerError    = "server_error"
	OutcomeTransportError = "transport_error"
)

// Metrics holds the service's collectors.
type Metrics struct {
	registry        *prometheus.Registry
	gatewayRequests *prometheus.CounterVec
	gatewayLatency  *prometheus.HistogramVec
	accountsSynced  *prometheus.CounterVec
	upsertedRecords prometheus.Counter
}

// New creates and registers the service metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		gatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openbanking",
			Name:      "gateway_requests_total",
			Help:      "Gateway requests by operation and outcome.",
		}, []string{"operation", "outcome"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "openbanking",
			Name:      "gateway_request_duration_seconds",
			Help:      "Gateway request latency by operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		accountsSynced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "openbanking",
			Name:      "customer_syncs_total",
			Help:      "Customer account syncs by trigger and result.",
		}, []string{"trigger", "result"}),
		upsertedRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "openbanking",
			Name:      "accounts_upserted_total",
			Help:      "Normalized account rows written to the store.",
		}),
	}
	registry.MustRegister(
		m.gatewayRequests,
		m.gatewayLatency,
		m.accountsSynced,
		m.upsertedRecords,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveGatewayRequest records one gateway exchange.
func (m *Metrics) ObserveGatewayRequest(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayRequests.WithLabelValues(operation, outcome).Inc()
	m.gatewayLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// ObserveSync records a customer sync attempt.
func (m *Metrics) ObserveSync(trigger string, err error, upserted int) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.accountsSynced.WithLabelValues(trigger, result).Inc()
	m.upsertedRecords.Add(float64(upserted))
}

// OutcomeForStatus buckets an HTTP status code.
func OutcomeForStatus(status int) string {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status >= 400 && status < 500:
		return OutcomeClientError
	case status >= 500:
		return OutcomeServerError
	default:
		return "status_" + strconv.Itoa(status)
	}
}
