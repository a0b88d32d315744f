package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics counts provider events and charge outcomes.
type PaymentMetrics struct {
	events  *prometheus.CounterVec
	charges *prometheus.CounterVec
	refunds *prometheus.CounterVec
}

var (
	paymentMetricsOnce sync.Once
	paymentMetrics     *PaymentMetrics
)

// Payments returns the singleton payment metrics registry.
func Payments() *PaymentMetrics {
	return PaymentsWithConfig(Config{})
}

// PaymentsWithConfig returns the singleton payment metrics registry using config labels.
func PaymentsWithConfig(cfg Config) *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentMetrics = newPaymentMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return paymentMetrics
}

// ResetPaymentMetricsForTest resets the payment metrics singleton for tests.
func ResetPaymentMetricsForTest() {
	paymentMetricsOnce = sync.Once{}
	paymentMetrics = nil
}

func newPaymentMetrics(registerer prometheus.Registerer, cfg Config) *PaymentMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constantLabels(cfg)

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billing_payment_events_total",
		Help:        "Verified provider webhook events by provider and type.",
		ConstLabels: constLabels,
	}, []string{"provider", "event_type"})
	charges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billing_payment_charges_total",
		Help:        "Initiated charges by provider and immediate status.",
		ConstLabels: constLabels,
	}, []string{"provider", "status"})
	refunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "billing_payment_refunds_total",
		Help:        "Issued refunds by provider.",
		ConstLabels: constLabels,
	}, []string{"provider"})

	registerer.MustRegister(events, charges, refunds)

	return &PaymentMetrics{
		events:  events,
		charges: charges,
		refunds: refunds,
	}
}

func (m *PaymentMetrics) RecordEvent(provider, eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(strings.TrimSpace(provider), strings.TrimSpace(eventType)).Inc()
}

func (m *PaymentMetrics) RecordCharge(provider, status string) {
	if m == nil {
		return
	}
	m.charges.WithLabelValues(strings.TrimSpace(provider), strings.TrimSpace(status)).Inc()
}

func (m *PaymentMetrics) RecordRefund(provider string) {
	if m == nil {
		return
	}
	m.refunds.WithLabelValues(strings.TrimSpace(provider)).Inc()
}
