// Package telemetry holds the Upload Coordinator's Prometheus metric
// definitions, following the promauto registration style of
// afreidah-s3-proxy's internal/telemetry package.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChunksAcceptedTotal counts chunk uploads by outcome (accepted,
	// duplicate, rejected).
	ChunksAcceptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_chunks_total",
			Help: "Total number of chunk uploads processed, by outcome",
		},
		[]string{"outcome"},
	)

	// FinalizeDuration tracks the wall-clock time of the finalize
	// pipeline's post-assembly checks (size, hash, archive validation).
	FinalizeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "upload_finalize_duration_seconds",
			Help:    "Finalize pipeline latency in seconds",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// FinalizeTotal counts finalize attempts by terminal outcome.
	FinalizeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_finalize_total",
			Help: "Total number of finalize attempts, by outcome",
		},
		[]string{"outcome"},
	)

	// RecoverySweepDuration tracks the wall-clock time of a full
	// RecoveryService sweep (both Sweep A and Sweep B).
	RecoverySweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upload_recovery_sweep_duration_seconds",
			Help:    "RecoveryService sweep latency in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		},
		[]string{"sweep"},
	)

	// RecoveryActionsTotal counts corrective actions taken by a sweep.
	RecoveryActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upload_recovery_actions_total",
			Help: "Total number of sessions acted on by a recovery sweep, by sweep and action",
		},
		[]string{"sweep", "action"},
	)

	// ActiveSessions reports the current count of sessions in UPLOADING.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "upload_active_sessions",
			Help: "Number of sessions currently accepting chunks",
		},
	)
)
