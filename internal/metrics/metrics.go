// Package metrics holds the Prometheus collectors shared by the competition
// components.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "coderelay"

type Metrics struct {
	Logins           *prometheus.CounterVec // result: ok|invalid|banned|limited
	RelayTransitions prometheus.Counter
	RelayLostRaces   prometheus.Counter
	RelayWrites      *prometheus.CounterVec // result: ok|forbidden
	Submissions      *prometheus.CounterVec // kind, result: autosave|passed|failed|locked
	GradeDuration    prometheus.Histogram
	Violations       *prometheus.CounterVec // type
	Bans             *prometheus.CounterVec // action: ban|unban
	FeedPublishes    *prometheus.CounterVec // topic
	ActiveRelays     prometheus.Gauge
}

// New registers the collectors with reg. A nil reg leaves them
// unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		RelayTransitions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_transitions_total",
			Help:      "Relay turn hand-offs performed.",
		}),
		RelayLostRaces: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_lost_races_total",
			Help:      "Transitions abandoned because another request advanced the turn first.",
		}),
		RelayWrites: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_writes_total",
			Help:      "Shared code writes by result.",
		}, []string{"result"}),
		Submissions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submissions by kind and result.",
		}, []string{"kind", "result"}),
		GradeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grade_duration_seconds",
			Help:      "Time spent grading a final submission.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		Violations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Recorded anti-cheat violations by type.",
		}, []string{"type"}),
		Bans: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bans_total",
			Help:      "Ban switches by action.",
		}, []string{"action"}),
		FeedPublishes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_publishes_total",
			Help:      "Change feed payloads published by topic.",
		}, []string{"topic"}),
		ActiveRelays: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_relays",
			Help:      "Teams with live relay state.",
		}),
	}
}
