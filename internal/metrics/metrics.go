// Package metrics provides Prometheus instrumentation for the Genie client.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Genie client collectors. A nil *Metrics records nothing.
type Metrics struct {
	HTTPRequests  *prometheus.CounterVec
	Polls         prometheus.Counter
	Conversations *prometheus.CounterVec
	AwaitDuration prometheus.Histogram
}

// NewMetrics creates and registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genie_http_requests_total",
			Help: "Genie API requests by operation and HTTP status code",
		}, []string{"op", "code"}),
		Polls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "genie_polls_total",
			Help: "Message status polls issued",
		}),
		Conversations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genie_conversations_total",
			Help: "Awaited messages by final outcome",
		}, []string{"outcome"}),
		AwaitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "genie_await_duration_seconds",
			Help:    "Time from start to terminal state",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
		}),
	}
	reg.MustRegister(m.HTTPRequests, m.Polls, m.Conversations, m.AwaitDuration)
	return m
}

// ObserveRequest counts one API call. code 0 means no response was received.
func (m *Metrics) ObserveRequest(op string, code int) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.HTTPRequests.WithLabelValues(op, label).Inc()
}

// ObservePoll counts one status poll.
func (m *Metrics) ObservePoll() {
	if m == nil {
		return
	}
	m.Polls.Inc()
}

// ObserveOutcome records how an awaited message ended and how long it took.
func (m *Metrics) ObserveOutcome(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Conversations.WithLabelValues(outcome).Inc()
	m.AwaitDuration.Observe(elapsed.Seconds())
}
