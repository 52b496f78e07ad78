package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics tracks payment and fulfillment outcomes.
type SagaMetrics struct {
	payments      *prometheus.CounterVec
	compensations *prometheus.CounterVec
	expiry        prometheus.Counter
	outboxLag     prometheus.Histogram
	deviceStart   *prometheus.HistogramVec
}

// NewSagaMetrics registers the saga metrics on the provided registerer.
func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	if reg == nil {
		return &SagaMetrics{}
	}
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transactions_total",
		Help: "Payment transactions by method and terminal status.",
	}, []string{"method", "status"})
	compensations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_compensations_total",
		Help: "Compensation actions taken after fulfillment failures.",
	}, []string{"action"})
	expiry := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "qr_transactions_expired_total",
		Help: "Dynamic QR transactions invalidated after the payment window.",
	})
	outboxLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "outbox_publish_lag_seconds",
		Help:    "Delay between outbox row creation and publish.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	deviceStart := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "device_start_duration_seconds",
		Help:    "Duration of device start commands in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	reg.MustRegister(payments, compensations, expiry, outboxLag, deviceStart)
	return &SagaMetrics{
		payments:      payments,
		compensations: compensations,
		expiry:        expiry,
		outboxLag:     outboxLag,
		deviceStart:   deviceStart,
	}
}

// IncPayment counts a transaction reaching a terminal status.
func (m *SagaMetrics) IncPayment(method, status string) {
	if m == nil || m.payments == nil {
		return
	}
	m.payments.WithLabelValues(jobLabel(method), jobLabel(status)).Inc()
}

// IncCompensation counts a compensation action such as a refund or voucher rollback.
func (m *SagaMetrics) IncCompensation(action string) {
	if m == nil || m.compensations == nil {
		return
	}
	m.compensations.WithLabelValues(jobLabel(action)).Inc()
}

// IncExpired counts an invalidated QR transaction.
func (m *SagaMetrics) IncExpired() {
	if m == nil || m.expiry == nil {
		return
	}
	m.expiry.Inc()
}

// ObserveOutboxLag records how long an event waited before publish.
func (m *SagaMetrics) ObserveOutboxLag(lag time.Duration) {
	if m == nil || m.outboxLag == nil {
		return
	}
	m.outboxLag.Observe(lag.Seconds())
}

// ObserveDeviceStart records the duration of a device start attempt.
func (m *SagaMetrics) ObserveDeviceStart(outcome string, duration time.Duration) {
	if m == nil || m.deviceStart == nil {
		return
	}
	m.deviceStart.WithLabelValues(jobLabel(outcome)).Observe(duration.Seconds())
}
