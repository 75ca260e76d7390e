// Package metrics holds the Prometheus collectors of the delivery path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chathub"

// Drop reasons.
const (
	DropOverflow = "overflow"
	DropStale    = "stale"
)

// Consume results.
const (
	ConsumeAck     = "ack"
	ConsumeRetry   = "retry"
	ConsumeSkipped = "skipped"
	ConsumeInvalid = "invalid"
)

// SessionSource is the registry view exported as gauges.
type SessionSource interface {
	Count() int
	OnlineUsers() int
}

// Metrics bundles the collectors. All of them are registered on Registry.
type Metrics struct {
	Registry *prometheus.Registry

	Accepted        *prometheus.CounterVec
	Rejected        *prometheus.CounterVec
	Pushes          *prometheus.CounterVec
	Drops           *prometheus.CounterVec
	Published       *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	Consumed        *prometheus.CounterVec
	Disconnects     *prometheus.CounterVec
	PersistLatency  prometheus.Histogram
}

// New registers the collectors on reg, or on a fresh registry when reg is nil.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Accepted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_accepted_total",
			Help:      "Inbound events accepted by the fan-out engine.",
		}, []string{"kind"}),
		Rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Inbound events rejected before fan-out.",
		}, []string{"kind", "code"}),
		Pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_pushes_total",
			Help:      "Frames handed to live sessions.",
		}, []string{"type"}),
		Drops: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_drops_total",
			Help:      "Frames that did not reach a session.",
		}, []string{"reason"}),
		Published: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_published_total",
			Help:      "Envelopes accepted by the broker.",
		}, []string{"queue"}),
		PublishFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_publish_failures_total",
			Help:      "Envelopes the broker refused. They are not retried.",
		}, []string{"queue"}),
		Consumed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broker_consumed_total",
			Help:      "Envelopes processed by the queue consumers.",
		}, []string{"queue", "result"}),
		Disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_disconnects_total",
			Help:      "Sessions closed by the server.",
		}, []string{"reason"}),
		PersistLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_persist_seconds",
			Help:      "Time spent persisting a message before fan-out.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// TrackSessions exports live session and online user counts read from src at
// scrape time.
func (m *Metrics) TrackSessions(src SessionSource) {
	f := promauto.With(m.Registry)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_live",
		Help:      "Live transport sessions on this instance.",
	}, func() float64 { return float64(src.Count()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "users_online",
		Help:      "Users with at least one live session on this instance.",
	}, func() float64 { return float64(src.OnlineUsers()) })
}
