// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ModeKind identifies the training strategy driven by the scheduler.
type ModeKind int

const (
	// ModeFullTrain trains on the full data and writes one checkpoint
	// tagged with the configured snapshot index.
	ModeFullTrain ModeKind = iota

	// ModePreTrain trains on snapshot 0 and seeds a checkpoint for every
	// snapshot boundary, for later independent runs.
	ModePreTrain

	// ModeFineTune pre-trains on snapshot 0 and then fine-tunes through
	// the remaining snapshots in order.
	ModeFineTune

	// ModeModiFine is fine-tuning that resumes after an external re-run
	// already covered snapshots up to the threshold: those snapshots are
	// neither trained nor re-checkpointed.
	ModeModiFine
)

// Mode is the parsed training strategy. It replaces substring matching on
// the raw mode string with a variant decided once at configuration load.
type Mode struct {
	Kind ModeKind

	// Threshold is the last snapshot index covered externally. Snapshots
	// with index greater than Threshold are fine-tuned. -1 (the default)
	// fine-tunes every snapshot.
	Threshold int
}

// ParseMode parses a mode string: "fulltrain", "pretrain", "finetune" or
// "modi-fine<N>" with a non-negative integer suffix.
func ParseMode(s string) (Mode, error) {
	switch {
	case s == "fulltrain":
		return Mode{Kind: ModeFullTrain, Threshold: -1}, nil
	case s == "pretrain":
		return Mode{Kind: ModePreTrain, Threshold: -1}, nil
	case s == "finetune":
		return Mode{Kind: ModeFineTune, Threshold: -1}, nil
	case strings.HasPrefix(s, "modi-fine"):
		suffix := strings.TrimPrefix(s, "modi-fine")
		n, err := strconv.Atoi(suffix)
		if err != nil || n < 0 {
			return Mode{}, fmt.Errorf("mode %q: modi-fine requires a non-negative integer suffix", s)
		}
		return Mode{Kind: ModeModiFine, Threshold: n}, nil
	default:
		return Mode{}, fmt.Errorf("unknown training mode: %q (supported: fulltrain, pretrain, finetune, modi-fine<N>)", s)
	}
}

// FineTunes reports whether the mode enters the fine-tuning phase after
// pre-training.
func (m Mode) FineTunes() bool {
	return m.Kind == ModeFineTune || m.Kind == ModeModiFine
}

// TrainsSnapshot reports whether snapshot idx receives fine-tuning passes.
// Snapshot 0 is the pre-training partition and is never fine-tuned.
func (m Mode) TrainsSnapshot(idx int) bool {
	return idx > 0 && idx > m.Threshold
}

// SkipsCheckpoint reports whether the checkpoint for snapshot idx is left
// untouched because an external re-run already wrote it.
func (m Mode) SkipsCheckpoint(idx int) bool {
	return m.Kind == ModeModiFine && idx <= m.Threshold
}

// String returns the canonical mode string.
func (m Mode) String() string {
	switch m.Kind {
	case ModeFullTrain:
		return "fulltrain"
	case ModePreTrain:
		return "pretrain"
	case ModeFineTune:
		return "finetune"
	case ModeModiFine:
		return fmt.Sprintf("modi-fine%d", m.Threshold)
	default:
		return "unknown"
	}
}
