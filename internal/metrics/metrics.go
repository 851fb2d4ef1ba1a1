// Package metrics holds the Prometheus collectors for the mock server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates all collectors. A nil *Metrics is safe to use; every
// observer method no-ops.
type Metrics struct {
	// API surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Simulated payments
	PaymentsTotal       *prometheus.CounterVec
	PaymentDeclineTotal *prometheus.CounterVec

	// Billing engine
	BillingCyclesTotal    prometheus.Counter
	BillingSubsProcessed  prometheus.Counter
	BillingSubsPastDue    prometheus.Counter
	BillingCycleDuration  prometheus.Histogram

	// Event + webhook pipeline
	EventsEmittedTotal    *prometheus.CounterVec
	WebhookAttemptsTotal  *prometheus.CounterVec
	WebhookRetriesTotal   prometheus.Counter
	WebhookBreakerOpens   prometheus.Counter
	WebhookDuration       prometheus.Histogram

	// Chaos decisions
	ChaosDecisionsTotal *prometheus.CounterVec

	// Idempotency cache
	IdempotencyHitsTotal *prometheus.CounterVec
}

// New registers all collectors with the given registerer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertiger_requests_total",
				Help: "Total API requests by method and status class",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "papertiger_request_duration_seconds",
				Help:    "API request latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method"},
		),
		PaymentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertiger_payments_total",
				Help: "Simulated payment attempts by outcome",
			},
			[]string{"outcome"},
		),
		PaymentDeclineTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertiger_payment_declines_total",
				Help: "Simulated declines by code",
			},
			[]string{"code"},
		),
		BillingCyclesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "papertiger_billing_cycles_total",
				Help: "Billing engine poll cycles executed",
			},
		),
		BillingSubsProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "papertiger_billing_subscriptions_processed_total",
				Help: "Subscriptions advanced through the billing state machine",
			},
		),
		BillingSubsPastDue: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "papertiger_billing_subscriptions_past_due_total",
				Help: "Subscriptions transitioned to past_due by dunning",
			},
		),
		BillingCycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "papertiger_billing_cycle_duration_seconds",
				Help:    "Wall time per billing poll",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1},
			},
		),
		EventsEmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertiger_events_emitted_total",
				Help: "Lifecycle events materialized, by type",
			},
			[]string{"type"},
		),
		WebhookAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertiger_webhook_attempts_total",
				Help: "Webhook delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
		WebhookRetriesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "papertiger_webhook_retries_total",
				Help: "Webhook delivery retries scheduled",
			},
		),
		WebhookBreakerOpens: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "papertiger_webhook_breaker_opens_total",
				Help: "Circuit breaker transitions to open per endpoint",
			},
		),
		WebhookDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "papertiger_webhook_duration_seconds",
				Help:    "Webhook HTTP attempt latency",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5},
			},
		),
		ChaosDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertiger_chaos_decisions_total",
				Help: "Chaos coordinator decisions by family and verdict",
			},
			[]string{"family", "verdict"},
		),
		IdempotencyHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "papertiger_idempotency_total",
				Help: "Idempotency cache outcomes",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveRequest records one API request.
func (m *Metrics) ObserveRequest(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	class := "2xx"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	}
	m.RequestsTotal.WithLabelValues(method, class).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObservePayment records one simulated payment decision.
func (m *Metrics) ObservePayment(declineCode string, failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.PaymentsTotal.WithLabelValues("failed").Inc()
		m.PaymentDeclineTotal.WithLabelValues(declineCode).Inc()
		return
	}
	m.PaymentsTotal.WithLabelValues("succeeded").Inc()
}

// ObserveEvent records a materialized event.
func (m *Metrics) ObserveEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsEmittedTotal.WithLabelValues(eventType).Inc()
}

// ObserveWebhookAttempt records one delivery attempt.
func (m *Metrics) ObserveWebhookAttempt(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.WebhookAttemptsTotal.WithLabelValues(outcome).Inc()
	m.WebhookDuration.Observe(elapsed.Seconds())
}

// ObserveWebhookRetry records a scheduled retry.
func (m *Metrics) ObserveWebhookRetry() {
	if m == nil {
		return
	}
	m.WebhookRetriesTotal.Inc()
}

// ObserveBreakerOpen records a circuit breaker opening.
func (m *Metrics) ObserveBreakerOpen() {
	if m == nil {
		return
	}
	m.WebhookBreakerOpens.Inc()
}

// ObserveBillingCycle records one poll of the billing engine.
func (m *Metrics) ObserveBillingCycle(processed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.BillingCyclesTotal.Inc()
	m.BillingSubsProcessed.Add(float64(processed))
	m.BillingCycleDuration.Observe(elapsed.Seconds())
}

// ObservePastDue records a dunning transition.
func (m *Metrics) ObservePastDue() {
	if m == nil {
		return
	}
	m.BillingSubsPastDue.Inc()
}

// ObserveChaosDecision records one chaos verdict for the given fault family.
func (m *Metrics) ObserveChaosDecision(family, verdict string) {
	if m == nil {
		return
	}
	m.ChaosDecisionsTotal.WithLabelValues(family, verdict).Inc()
}

// ObserveIdempotency records a cache outcome (new, replay, conflict).
func (m *Metrics) ObserveIdempotency(outcome string) {
	if m == nil {
		return
	}
	m.IdempotencyHitsTotal.WithLabelValues(outcome).Inc()
}
