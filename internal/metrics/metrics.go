package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skilltree_sessions_opened_total",
		Help: "Total number of selector sessions opened, labelled by selector.",
	}, []string{"selector"})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skilltree_sessions_closed_total",
		Help: "Total number of selector sessions closed, labelled by reason.",
	}, []string{"reason"})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skilltree_active_sessions",
		Help: "Number of selector sessions currently open.",
	})

	Actions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skilltree_actions_total",
		Help: "Total number of UI actions handled, labelled by kind and outcome.",
	}, []string{"kind", "outcome"})

	AutoDeselected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skilltree_auto_deselected_total",
		Help: "Total number of selections dropped because they became locked.",
	})

	RecomputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "skilltree_recompute_duration_us",
		Help:    "Availability recompute latency in microseconds, labelled by scope.",
		Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000},
	}, []string{"scope"})

	Redraws = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skilltree_redraws_total",
		Help: "Total number of flushed redraw frames, labelled by kind (full/partial).",
	}, []string{"kind"})

	ConnectorsPainted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "skilltree_connectors_painted_total",
		Help: "Total number of connectors drawn or recoloured by redraw frames.",
	})

	CatalogReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skilltree_catalog_reloads_total",
		Help: "Total number of catalog reload attempts, labelled by status.",
	}, []string{"status"})

	Commits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "skilltree_commits_total",
		Help: "Total number of confirmed selections persisted, labelled by status.",
	}, []string{"status"})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "skilltree_commit_duration_ms",
		Help:    "Store write latency for confirmed selections in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "skilltree_commit_queue_utilization_ratio",
		Help: "Current commit queue utilization (0–1).",
	})
)
