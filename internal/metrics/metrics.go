package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailrulez_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"process", "result"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailrulez_run_duration_seconds",
			Help:    "Duration of pipeline runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"process"},
	)

	MessagesDispositioned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailrulez_messages_dispositioned_total",
			Help: "Messages routed by the triage pipeline, by category",
		},
		[]string{"category"},
	)
)

// Mailbox operation metrics
var (
	MovesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailrulez_moves_total",
			Help: "Messages moved, by move mode and result",
		},
		[]string{"mode", "result"},
	)

	RetentionPurged = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailrulez_retention_purged_total",
			Help: "Messages deleted by retention purges",
		},
	)

	RetentionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailrulez_retention_failures_total",
			Help: "Retention purges that failed",
		},
	)
)

// Rule engine metrics
var (
	RulesLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailrulez_rules_loaded",
			Help: "Number of rules currently held by the rule engine",
		},
	)

	RuleMatches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailrulez_rule_matches_total",
			Help: "Messages matched by a rule during apply",
		},
	)

	RuleActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailrulez_rule_actions_total",
			Help: "Rule actions executed, by action type and status",
		},
		[]string{"action", "status"},
	)
)
