package diffsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("diffsync")

var (
	// commitsTotal counts commits by whether a snapshot was cut.
	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diffsync_commits_total",
		Help: "Total commits by snapshot outcome",
	}, []string{"snapshot"})

	// pullsTotal counts pulls by reconciliation outcome.
	pullsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diffsync_pulls_total",
		Help: "Total pulls by outcome",
	}, []string{"result"})

	// pullDuration tracks end-to-end pull latency.
	pullDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "diffsync_pull_duration_seconds",
		Help:    "Pull duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
	})

	// workspaceNodes tracks how many revision nodes a reconciliation loaded.
	workspaceNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "diffsync_workspace_nodes",
		Help:    "Revision nodes collected per reconciliation",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 1000},
	})

	// signalsTotal counts received signals by how they were applied.
	signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "diffsync_signals_total",
		Help: "Total received signals by outcome",
	}, []string{"result"})
)

// Pull outcomes.
const (
	pullUpToDate    = "up_to_date"
	pullBootstrap   = "bootstrap"
	pullFastForward = "fast_forward"
	pullFork        = "fork"
	pullUnrelated   = "unrelated"
	pullBehind      = "latest_behind"
	pullError       = "error"
)
