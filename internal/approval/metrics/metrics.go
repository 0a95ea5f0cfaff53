package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the approval core.
type Metrics struct {
	// Requests created by the issuer
	RequestsCreated prometheus.Counter

	// Credentials issued per approver fan-out
	CredentialsIssued prometheus.Counter

	// Decision attempts by outcome ("approved", "rejected", "silent",
	// "already_processed", "token_expired", ...)
	DecisionOutcome *prometheus.CounterVec

	// Sibling credentials revoked after a winning decision
	TokensRevoked prometheus.Counter

	// Publish retries before an event was durably enqueued
	PublishRetries prometheus.Counter

	// Full Decide latency including the publish
	DecideLatency prometheus.Histogram

	// Executor messages by result ("completed", "duplicate", "failed")
	MessagesProcessed *prometheus.CounterVec
}

// New creates a new Metrics instance with all approval metrics registered.
func New() *Metrics {
	return &Metrics{
		RequestsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "approvalgate_requests_created_total",
			Help: "Total approval requests created",
		}),
		CredentialsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "approvalgate_credentials_issued_total",
			Help: "Total per-approver decision credentials issued",
		}),
		DecisionOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalgate_decision_outcomes_total",
			Help: "Total decision attempts by outcome",
		}, []string{"outcome"}),
		TokensRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "approvalgate_tokens_revoked_total",
			Help: "Total sibling credentials revoked after a winning decision",
		}),
		PublishRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "approvalgate_publish_retries_total",
			Help: "Total decision event publish retries",
		}),
		DecideLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "approvalgate_decide_duration_seconds",
			Help:    "Duration of full Decide calls including event publish",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		MessagesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "approvalgate_executor_messages_total",
			Help: "Total decision events processed by the executor, by result",
		}, []string{"result"}),
	}
}

// IncrementOutcome records a decision attempt outcome.
func (m *Metrics) IncrementOutcome(outcome string) {
	if m != nil {
		m.DecisionOutcome.WithLabelValues(outcome).Inc()
	}
}

// ObserveDecideLatency records the total Decide duration.
func (m *Metrics) ObserveDecideLatency(d time.Duration) {
	if m != nil {
		m.DecideLatency.Observe(d.Seconds())
	}
}

// IncrementProcessed records an executor message result.
func (m *Metrics) IncrementProcessed(result string) {
	if m != nil {
		m.MessagesProcessed.WithLabelValues(result).Inc()
	}
}

// AddRequestCreated records a new approval request.
func (m *Metrics) AddRequestCreated(credentials int) {
	if m != nil {
		m.RequestsCreated.Inc()
		m.CredentialsIssued.Add(float64(credentials))
	}
}

// AddTokensRevoked records sibling revocations.
func (m *Metrics) AddTokensRevoked(n int) {
	if m != nil {
		m.TokensRevoked.Add(float64(n))
	}
}

// AddPublishRetry records one publish retry.
func (m *Metrics) AddPublishRetry() {
	if m != nil {
		m.PublishRetries.Inc()
	}
}
