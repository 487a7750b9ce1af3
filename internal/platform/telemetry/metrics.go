// Package telemetry wires Prometheus metrics and OpenTelemetry tracing for the
// ledger service.
package telemetry

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

const namespace = "hms_ledger"

// Metrics holds every collector the service exports. A nil *Metrics is valid
// and records nothing, which keeps services usable without a registry.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlight        prometheus.Gauge

	DocumentsIssued   *prometheus.CounterVec
	InvoicesTotal     *prometheus.CounterVec
	PaymentsTotal     *prometheus.CounterVec
	PaymentAmount     *prometheus.CounterVec
	ReservationsTotal *prometheus.CounterVec
	AssignmentsTotal  *prometheus.CounterVec
	TxFailures        *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method", "route"}),

		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Requests currently being served.",
		}),

		DocumentsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sequence",
			Name:      "documents_issued_total",
			Help:      "Document numbers minted per kind.",
		}, []string{"kind"}),

		InvoicesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "invoices_total",
			Help:      "Invoice lifecycle events (created, cancelled, deleted).",
		}, []string{"event"}),

		PaymentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "payments_total",
			Help:      "Payments recorded or reversed, by method.",
		}, []string{"event", "method"}),

		PaymentAmount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "payment_amount_total",
			Help:      "Sum of recorded payment amounts by method.",
		}, []string{"method"}),

		ReservationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resource",
			Name:      "reservations_total",
			Help:      "Reservation attempts by resource kind and outcome.",
		}, []string{"kind", "outcome"}),

		AssignmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workflow",
			Name:      "assignments_total",
			Help:      "Admission and ambulance trip lifecycle events.",
		}, []string{"workflow", "event"}),

		TxFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "transaction_failures_total",
			Help:      "Transactions rolled back by an unexpected error, by operation.",
		}, []string{"operation"}),
	}
}

func (m *Metrics) DocumentIssued(kind string) {
	if m == nil {
		return
	}
	m.DocumentsIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) InvoiceEvent(event string) {
	if m == nil {
		return
	}
	m.InvoicesTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) PaymentRecorded(method string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.PaymentsTotal.WithLabelValues("recorded", method).Inc()
	f, _ := amount.Float64()
	m.PaymentAmount.WithLabelValues(method).Add(f)
}

func (m *Metrics) PaymentReversed(method string) {
	if m == nil {
		return
	}
	m.PaymentsTotal.WithLabelValues("reversed", method).Inc()
}

func (m *Metrics) Reservation(kind, outcome string) {
	if m == nil {
		return
	}
	m.ReservationsTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Assignment(workflow, event string) {
	if m == nil {
		return
	}
	m.AssignmentsTotal.WithLabelValues(workflow, event).Inc()
}

func (m *Metrics) TxFailure(operation string) {
	if m == nil {
		return
	}
	m.TxFailures.WithLabelValues(operation).Inc()
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) echo.HandlerFunc {
	h := promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}

// HTTPHandler is Handler for plain net/http muxes.
func HTTPHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
