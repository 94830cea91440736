package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure reasons used as the reason label on SubscriptionFailures.
const (
	ReasonValidation  = "validation"
	ReasonConflict    = "conflict"
	ReasonPersistence = "persistence"
	ReasonDelivery    = "delivery"
	ReasonTimeout     = "timeout"
)

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	SubscriptionsCreated   prometheus.Counter
	SubscriptionsConfirmed prometheus.Counter
	SubscriptionFailures   *prometheus.CounterVec
	ConfirmationEmailsSent prometheus.Counter
	OutboxPublished        prometheus.Counter
	RequestDuration        *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() so constructors can run more than once.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SubscriptionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsletter_subscriptions_created_total",
			Help: "Total number of pending subscriptions created",
		}),
		SubscriptionsConfirmed: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsletter_subscriptions_confirmed_total",
			Help: "Total number of subscribers moved to confirmed",
		}),
		SubscriptionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "newsletter_subscription_failures_total",
			Help: "Failed subscription attempts by reason",
		}, []string{"reason"}),
		ConfirmationEmailsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsletter_confirmation_emails_sent_total",
			Help: "Confirmation emails accepted by the email backend",
		}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "newsletter_outbox_published_total",
			Help: "Outbox events delivered to the event publisher",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newsletter_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"route", "method", "status"}),
	}
}

// IncrementSubscriptionsCreated records a committed pending subscription.
func (m *Metrics) IncrementSubscriptionsCreated() {
	if m == nil {
		return
	}
	m.SubscriptionsCreated.Inc()
}

func (m *Metrics) IncrementSubscriptionsConfirmed() {
	if m == nil {
		return
	}
	m.SubscriptionsConfirmed.Inc()
}

// IncrementFailure records a failed create by reason.
func (m *Metrics) IncrementFailure(reason string) {
	if m == nil {
		return
	}
	m.SubscriptionFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementConfirmationEmailsSent() {
	if m == nil {
		return
	}
	m.ConfirmationEmailsSent.Inc()
}

func (m *Metrics) IncrementOutboxPublished() {
	if m == nil {
		return
	}
	m.OutboxPublished.Inc()
}

// ObserveRequest records one HTTP request.
// Call with time.Now() at the start of the request.
func (m *Metrics) ObserveRequest(route, method, status string, start time.Time) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(route, method, status).Observe(time.Since(start).Seconds())
}
