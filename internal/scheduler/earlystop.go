// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

// Package scheduler drives the continual-training state machine:
// pre-training over the first snapshot, checkpointing, and per-period
// fine-tuning over later snapshots.
package scheduler

// nonIncreasing reports whether xs never rises.
func nonIncreasing(xs []float64) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[i-1] {
			return false
		}
	}
	return true
}

// ShouldStop decides early termination from an improvement criterion
// (higher is better). Training stops once more than 20 epochs have run
// and the last patience values never improved, or once the best epoch
// lies more than 20 epochs in the past.
func ShouldStop(criterion []float64, patience int) bool {
	if len(criterion) > 20 && patience > 0 && len(criterion) >= patience &&
		nonIncreasing(criterion[len(criterion)-patience:]) {
		return true
	}
	best := 0
	for i, v := range criterion {
		if v > criterion[best] {
			best = i
		}
	}
	return len(criterion) > 0 && len(criterion)-best > 20
}
