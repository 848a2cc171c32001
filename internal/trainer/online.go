// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package trainer

import (
	"fmt"
	"math"
	"strings"

	"github.com/fairstream/fairstream/internal/metrics"
	"github.com/fairstream/fairstream/internal/model"
)

// ParamPolicy selects which parameter groups the optimizer touches.
type ParamPolicy string

const (
	// PolicyAll updates every parameter group the model exposes.
	PolicyAll ParamPolicy = "all"

	// PolicyCustom updates only the groups the model marks tunable.
	PolicyCustom ParamPolicy = "custom"
)

// ParseParamPolicy maps a config string to a ParamPolicy.
func ParseParamPolicy(s string) (ParamPolicy, error) {
	switch strings.ToLower(s) {
	case "all":
		return PolicyAll, nil
	case "custom", "":
		return PolicyCustom, nil
	default:
		return "", fmt.Errorf("unknown parameter policy: %q", s)
	}
}

// StepResult reports the outcome of one training step.
type StepResult struct {
	Loss        float64
	BaseLoss    float64
	FairLoss    float64
	Parity      float64
	FairWeight  float64
	HasFairness bool

	// Diverged is set when the forward pass produced a non-finite
	// value. The step applies no update in that case.
	Diverged bool
}

// Config for building a Trainer.
type Config struct {
	Optimizer    string
	LearningRate float64
	WeightDecay  float64
	Policy       ParamPolicy
}

// Trainer drives per-batch updates of a Recommender. The optimizer is
// built lazily on the first step so a fresh Trainer can be handed a
// model that is still loading checkpoints.
type Trainer struct {
	cfg   Config
	rec   model.Recommender
	opt   Optimizer
	phase string
}

// New returns a Trainer for rec. The optimizer name is validated
// eagerly, its state is allocated on the first Step.
func New(cfg Config, rec model.Recommender) (*Trainer, error) {
	if _, err := NewOptimizer(cfg.Optimizer, cfg.LearningRate, cfg.WeightDecay); err != nil {
		return nil, err
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyCustom
	}
	return &Trainer{cfg: cfg, rec: rec, phase: "pretrain"}, nil
}

// SetPhase labels subsequent steps for metrics.
func (t *Trainer) SetPhase(phase string) { t.phase = phase }

// Reset discards optimizer state. Used when a new training period
// starts so stale moments do not leak across snapshots.
func (t *Trainer) Reset() { t.opt = nil }

func (t *Trainer) params() []*model.Param {
	if t.cfg.Policy == PolicyAll {
		return t.rec.Parameters()
	}
	return t.rec.CustomizableParameters()
}

// Step runs one forward/backward pass over b and applies the update.
// A non-finite prediction flags divergence instead of erroring; the
// caller decides whether to stop the phase.
func (t *Trainer) Step(b model.Batch) (StepResult, error) {
	if len(b.Items) < 2 {
		return StepResult{}, fmt.Errorf("batch for user %d needs a positive and at least one negative item", b.User)
	}
	t.rec.TrainMode()

	pred := t.rec.TrainStep(b)
	for _, s := range pred {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			metrics.DivergenceEvents.WithLabelValues(t.phase).Inc()
			return StepResult{Diverged: true}, nil
		}
	}

	parts := t.rec.Loss(pred, b)
	if math.IsNaN(parts.Total) || math.IsInf(parts.Total, 0) {
		metrics.DivergenceEvents.WithLabelValues(t.phase).Inc()
		t.discardGradients()
		return StepResult{Diverged: true}, nil
	}

	if t.opt == nil {
		opt, err := NewOptimizer(t.cfg.Optimizer, t.cfg.LearningRate, t.cfg.WeightDecay)
		if err != nil {
			return StepResult{}, err
		}
		t.opt = opt
	}
	t.opt.Step(t.params())
	t.discardGradients()
	metrics.TrainingSteps.WithLabelValues(t.phase).Inc()

	return StepResult{
		Loss:        parts.Total,
		BaseLoss:    parts.Base,
		FairLoss:    parts.Fairness,
		Parity:      parts.Parity,
		FairWeight:  parts.FairWeight,
		HasFairness: parts.HasFairness,
	}, nil
}

// StepBatch accumulates gradients over a micro-batch of examples and
// applies a single update, reporting batch-mean losses. A non-finite
// value anywhere in the batch flags divergence and applies no update.
func (t *Trainer) StepBatch(batch []model.Batch) (StepResult, error) {
	if len(batch) == 0 {
		return StepResult{}, fmt.Errorf("empty micro-batch")
	}
	if len(batch) == 1 {
		return t.Step(batch[0])
	}
	t.rec.TrainMode()

	var agg StepResult
	for _, b := range batch {
		if len(b.Items) < 2 {
			t.discardGradients()
			return StepResult{}, fmt.Errorf("batch for user %d needs a positive and at least one negative item", b.User)
		}
		pred := t.rec.TrainStep(b)
		for _, s := range pred {
			if math.IsNaN(s) || math.IsInf(s, 0) {
				metrics.DivergenceEvents.WithLabelValues(t.phase).Inc()
				t.discardGradients()
				return StepResult{Diverged: true}, nil
			}
		}
		parts := t.rec.Loss(pred, b)
		if math.IsNaN(parts.Total) || math.IsInf(parts.Total, 0) {
			metrics.DivergenceEvents.WithLabelValues(t.phase).Inc()
			t.discardGradients()
			return StepResult{Diverged: true}, nil
		}
		agg.Loss += parts.Total
		agg.BaseLoss += parts.Base
		agg.FairLoss += parts.Fairness
		agg.Parity += parts.Parity
		agg.FairWeight = parts.FairWeight
		agg.HasFairness = agg.HasFairness || parts.HasFairness
	}

	n := float64(len(batch))
	agg.Loss /= n
	agg.BaseLoss /= n
	agg.FairLoss /= n
	agg.Parity /= n

	if t.opt == nil {
		opt, err := NewOptimizer(t.cfg.Optimizer, t.cfg.LearningRate, t.cfg.WeightDecay)
		if err != nil {
			return StepResult{}, err
		}
		t.opt = opt
	}
	t.opt.Step(t.params())
	t.discardGradients()
	metrics.TrainingSteps.WithLabelValues(t.phase).Inc()
	return agg, nil
}

// discardGradients clears accumulated gradients on every parameter
// group so a rejected batch cannot leak into the next update.
func (t *Trainer) discardGradients() {
	for _, p := range t.rec.Parameters() {
		p.ZeroGrad()
	}
}
