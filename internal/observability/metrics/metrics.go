package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "carwash"

// GatewayMetrics tracks calls made to the M-Pesa Daraja API.
type GatewayMetrics struct {
	requestsTotal  *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

func NewGatewayMetrics(reg prometheus.Registerer) *GatewayMetrics {
	m := &GatewayMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mpesa",
			Name:      "requests_total",
			Help:      "Total Daraja API calls by operation and outcome",
		}, []string{"operation", "outcome"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mpesa",
			Name:      "request_latency_seconds",
			Help:      "Latency of Daraja API calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	register(reg, m.requestsTotal, m.requestLatency)
	return m
}

func (m *GatewayMetrics) ObserveRequest(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(operation, outcome).Inc()
	m.requestLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// CallbackMetrics tracks STK callbacks and status-query results applied by the reconciler.
type CallbackMetrics struct {
	appliedTotal *prometheus.CounterVec
}

func NewCallbackMetrics(reg prometheus.Registerer) *CallbackMetrics {
	m := &CallbackMetrics{
		appliedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payments",
			Name:      "callbacks_total",
			Help:      "Payment results received, by subject kind, source and outcome",
		}, []string{"kind", "source", "outcome"}),
	}
	register(reg, m.appliedTotal)
	return m
}

// ObserveCallback records a payment result. outcome is one of
// successful, failed, cancelled, duplicate, unmatched or invalid.
func (m *CallbackMetrics) ObserveCallback(kind, source, outcome string) {
	if m == nil {
		return
	}
	m.appliedTotal.WithLabelValues(kind, source, outcome).Inc()
}

// BookingMetrics tracks booking lifecycle events.
type BookingMetrics struct {
	createdTotal     *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		createdTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "create_total",
			Help:      "Booking create attempts by outcome",
		}, []string{"outcome"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bookings",
			Name:      "transitions_total",
			Help:      "Booking status transitions",
		}, []string{"from", "to"}),
	}
	register(reg, m.createdTotal, m.transitionsTotal)
	return m
}

func (m *BookingMetrics) ObserveCreate(outcome string) {
	if m == nil {
		return
	}
	m.createdTotal.WithLabelValues(outcome).Inc()
}

func (m *BookingMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func register(reg prometheus.Registerer, cs ...prometheus.Collector) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(cs...)
}

// HTTPMetrics tracks inbound API requests by route pattern.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Inbound HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Inbound HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	register(reg, m.requestsTotal, m.requestDuration)
	return m
}

func (m *HTTPMetrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
