package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Reject reasons used as label values on EventsRejected.
const (
	ReasonUnknownEndpoint = "unknown_endpoint"
	ReasonReplay          = "replay"
	ReasonRateLimit       = "rate_limit"
	ReasonMalformed       = "malformed"
	ReasonDuplicate       = "duplicate"
)

// Metrics holds the daemon's counters. All are registered on the
// registry passed to New, so tests can use a private registry.
type Metrics struct {
	EventsConsumed    prometheus.Counter
	EventsRejected    *prometheus.CounterVec
	RuleMatches       *prometheus.CounterVec
	AlertsCreated     prometheus.Counter
	DedupHits         prometheus.Counter
	CampaignsCreated  prometheus.Counter
	CampaignsExtended prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_events_consumed_total",
			Help: "Events pulled from the input queue.",
		}),
		EventsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nightwatch_events_rejected_total",
			Help: "Events dropped before analysis, by reason.",
		}, []string{"reason"}),
		RuleMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nightwatch_rule_matches_total",
			Help: "Detection results produced, by rule.",
		}, []string{"rule"}),
		AlertsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_alerts_created_total",
			Help: "Alerts persisted after deduplication.",
		}),
		DedupHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_alert_dedup_hits_total",
			Help: "Detections suppressed as duplicates of stored alerts.",
		}),
		CampaignsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_campaigns_created_total",
			Help: "Campaigns started.",
		}),
		CampaignsExtended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nightwatch_campaigns_extended_total",
			Help: "Alerts linked into existing campaigns.",
		}),
	}
	reg.MustRegister(
		m.EventsConsumed,
		m.EventsRejected,
		m.RuleMatches,
		m.AlertsCreated,
		m.DedupHits,
		m.CampaignsCreated,
		m.CampaignsExtended,
	)
	return m
}
