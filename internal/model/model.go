// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

// Package model defines the capability interface consumed by the
// training scheduler and the evaluation engine, plus the default
// matrix-factorization implementation.
//
// The pipeline never assumes a concrete model type: anything satisfying
// Recommender can be trained, checkpointed and evaluated. Gradient
// computation is model-internal; the trainer only sequences
// TrainStep/Loss and applies the optimizer to the exposed parameter
// groups.
package model

// Batch is one streamed training example: a user with a positive item
// and its sampled negatives. Items[0] is the positive.
type Batch struct {
	User  int
	Items []int
}

// LossParts is the decomposed loss of one training step. The fairness
// components are absent (HasFairness false) when the model carries no
// fairness regularizer or the user has no attribute.
type LossParts struct {
	Total      float64
	Base       float64
	Fairness   float64
	Parity     float64
	FairWeight float64

	HasFairness bool
}

// Param is one named parameter group. Rows and Grad are parallel; the
// optimizer updates only the rows listed in Touched and the model resets
// Touched and Grad after each step via ZeroGrad.
type Param struct {
	Name string
	Rows [][]float64
	Grad [][]float64

	// Touched lists the row indices with non-zero gradients this step.
	Touched []int
}

// ZeroGrad clears the touched gradients.
func (p *Param) ZeroGrad() {
	for _, r := range p.Touched {
		for j := range p.Grad[r] {
			p.Grad[r][j] = 0
		}
	}
	p.Touched = p.Touched[:0]
}

// touch records a row as carrying gradient, once.
func (p *Param) touch(row int) {
	for _, r := range p.Touched {
		if r == row {
			return
		}
	}
	p.Touched = append(p.Touched, row)
}

// Recommender is the capability set consumed by the scheduler, trainer
// and evaluator.
type Recommender interface {
	// TrainStep runs the forward pass for one example and returns the
	// raw prediction per candidate item, Items order preserved.
	TrainStep(b Batch) []float64

	// Loss decomposes the step loss and accumulates gradients into the
	// parameter groups.
	Loss(pred []float64, b Batch) LossParts

	// Relevance scores candidate items for a user, for ranking.
	Relevance(user int, items []int) []float64

	// Parameters returns every parameter group.
	Parameters() []*Param

	// CustomizableParameters returns the trainable subset used under the
	// "custom" parameter policy.
	CustomizableParameters() []*Param

	// Save persists the model state under the given checkpoint tag.
	Save(tag string) error

	// Load restores the model state from the given checkpoint tag.
	Load(tag string) error

	// TrainMode switches the model into training behavior.
	TrainMode()

	// EvalMode switches the model into inference behavior.
	EvalMode()
}
