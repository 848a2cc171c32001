// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

// Package metrics exposes Prometheus instrumentation for the training
// and evaluation pipeline:
//   - training step throughput and divergence events
//   - epoch and fine-tune period durations
//   - evaluated users, skipped anomalies and cold-start counts
//   - checkpoint writes
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TrainingSteps counts optimization steps per phase (pretrain, finetune).
	TrainingSteps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairstream_training_steps_total",
			Help: "Total number of optimization steps applied to the model",
		},
		[]string{"phase"},
	)

	// DivergenceEvents counts passes aborted on non-finite predictions.
	DivergenceEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairstream_divergence_events_total",
			Help: "Total number of training passes aborted on non-finite predictions",
		},
		[]string{"phase"},
	)

	// EpochDuration observes wall time per training pass.
	EpochDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fairstream_epoch_duration_seconds",
			Help:    "Duration of training passes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"phase"},
	)

	// SnapshotDuration observes wall time per fine-tune period.
	SnapshotDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fairstream_snapshot_duration_seconds",
			Help:    "Duration of per-snapshot fine-tuning in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"snapshot"},
	)

	// EvaluatedUsers counts users contributing to an evaluation pass.
	EvaluatedUsers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairstream_evaluated_users_total",
			Help: "Total number of users scored during evaluation",
		},
		[]string{"setting"},
	)

	// EvalAnomalies counts users skipped as data inconsistencies.
	EvalAnomalies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fairstream_eval_anomalies_total",
			Help: "Total number of users skipped during evaluation due to missing test positives",
		},
		[]string{"setting"},
	)

	// EvalDuration observes wall time of evaluation passes.
	EvalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fairstream_eval_duration_seconds",
			Help:    "Duration of evaluation passes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		},
		[]string{"setting"},
	)

	// CheckpointsSaved counts checkpoint writes by snapshot tag.
	CheckpointsSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fairstream_checkpoints_saved_total",
			Help: "Total number of model checkpoints written",
		},
	)
)

// ObserveEpoch records the duration of one training pass.
func ObserveEpoch(phase string, start time.Time) {
	EpochDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// ObserveSnapshot records the duration of one fine-tune period.
func ObserveSnapshot(snapIdx int, start time.Time) {
	SnapshotDuration.WithLabelValues(strconv.Itoa(snapIdx)).Observe(time.Since(start).Seconds())
}

// ObserveEval records the duration of one evaluation pass.
func ObserveEval(setting string, start time.Time) {
	EvalDuration.WithLabelValues(setting).Observe(time.Since(start).Seconds())
}
