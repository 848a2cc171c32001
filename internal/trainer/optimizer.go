// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

// Package trainer applies single optimization steps to a model and
// reports numerical divergence.
package trainer

import (
	"fmt"
	"math"
	"strings"

	"github.com/fairstream/fairstream/internal/model"
)

// Optimizer applies one in-place update to the touched rows of the
// parameter groups it was built for.
type Optimizer interface {
	// Step consumes the accumulated gradients of the touched rows.
	Step(params []*model.Param)

	// Name returns the optimizer identifier.
	Name() string
}

// NewOptimizer builds an optimizer by name. Unrecognized names are a
// configuration error.
func NewOptimizer(name string, lr, weightDecay float64) (Optimizer, error) {
	switch strings.ToLower(name) {
	case "gd":
		return &sgd{lr: lr, wd: weightDecay}, nil
	case "adam":
		return &adam{lr: lr, wd: weightDecay, beta1: 0.9, beta2: 0.999, eps: 1e-8, state: map[string]*momentState{}}, nil
	case "adagrad":
		return &adagrad{lr: lr, wd: weightDecay, eps: 1e-10, state: map[string][][]float64{}}, nil
	case "adadelta":
		return &adadelta{rho: 0.9, eps: 1e-6, lr: lr, wd: weightDecay, state: map[string]*momentState{}}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer: %q", name)
	}
}

// sgd is plain gradient descent with L2 weight decay.
type sgd struct {
	lr, wd float64
}

func (o *sgd) Name() string { return "gd" }

func (o *sgd) Step(params []*model.Param) {
	for _, p := range params {
		for _, r := range p.Touched {
			row, grad := p.Rows[r], p.Grad[r]
			for f := range row {
				row[f] -= o.lr * (grad[f] + o.wd*row[f])
			}
		}
	}
}

// momentState carries two per-row moment buffers, grown on demand.
type momentState struct {
	m [][]float64
	v [][]float64
	t int
}

func (s *momentState) rowsFor(p *model.Param, r int) (m, v []float64) {
	for len(s.m) < len(p.Rows) {
		s.m = append(s.m, nil)
		s.v = append(s.v, nil)
	}
	if s.m[r] == nil {
		s.m[r] = make([]float64, len(p.Rows[r]))
		s.v[r] = make([]float64, len(p.Rows[r]))
	}
	return s.m[r], s.v[r]
}

// adam implements the Adam update with bias correction.
type adam struct {
	lr, wd       float64
	beta1, beta2 float64
	eps          float64
	state        map[string]*momentState
}

func (o *adam) Name() string { return "adam" }

func (o *adam) Step(params []*model.Param) {
	for _, p := range params {
		st, ok := o.state[p.Name]
		if !ok {
			st = &momentState{}
			o.state[p.Name] = st
		}
		st.t++
		c1 := 1 - math.Pow(o.beta1, float64(st.t))
		c2 := 1 - math.Pow(o.beta2, float64(st.t))

		for _, r := range p.Touched {
			row, grad := p.Rows[r], p.Grad[r]
			m, v := st.rowsFor(p, r)
			for f := range row {
				g := grad[f] + o.wd*row[f]
				m[f] = o.beta1*m[f] + (1-o.beta1)*g
				v[f] = o.beta2*v[f] + (1-o.beta2)*g*g
				row[f] -= o.lr * (m[f] / c1) / (math.Sqrt(v[f]/c2) + o.eps)
			}
		}
	}
}

// adagrad accumulates squared gradients per coordinate.
type adagrad struct {
	lr, wd float64
	eps    float64
	state  map[string][][]float64
}

func (o *adagrad) Name() string { return "adagrad" }

func (o *adagrad) Step(params []*model.Param) {
	for _, p := range params {
		acc := o.state[p.Name]
		for len(acc) < len(p.Rows) {
			acc = append(acc, nil)
		}
		for _, r := range p.Touched {
			if acc[r] == nil {
				acc[r] = make([]float64, len(p.Rows[r]))
			}
			row, grad := p.Rows[r], p.Grad[r]
			for f := range row {
				g := grad[f] + o.wd*row[f]
				acc[r][f] += g * g
				row[f] -= o.lr * g / (math.Sqrt(acc[r][f]) + o.eps)
			}
		}
		o.state[p.Name] = acc
	}
}

// adadelta keeps decaying averages of squared gradients and updates.
type adadelta struct {
	rho, eps float64
	lr, wd   float64
	state    map[string]*momentState
}

func (o *adadelta) Name() string { return "adadelta" }

func (o *adadelta) Step(params []*model.Param) {
	for _, p := range params {
		st, ok := o.state[p.Name]
		if !ok {
			st = &momentState{}
			o.state[p.Name] = st
		}
		for _, r := range p.Touched {
			row, grad := p.Rows[r], p.Grad[r]
			eg, ed := st.rowsFor(p, r)
			for f := range row {
				g := grad[f] + o.wd*row[f]
				eg[f] = o.rho*eg[f] + (1-o.rho)*g*g
				delta := math.Sqrt(ed[f]+o.eps) / math.Sqrt(eg[f]+o.eps) * g
				ed[f] = o.rho*ed[f] + (1-o.rho)*delta*delta
				row[f] -= o.lr * delta
			}
		}
	}
}
