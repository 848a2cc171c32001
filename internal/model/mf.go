// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/fairstream/fairstream/internal/checkpoint"
)

// MFConfig configures the default matrix-factorization model.
type MFConfig struct {
	// NumFactors is the latent dimension. Default: 64.
	NumFactors int

	// Seed makes factor initialization reproducible. Default: 42.
	Seed int64

	// FairWeight scales the fairness regularizer; 0 disables it.
	FairWeight float64

	// Smoothing is the coefficient of the per-group running score mean
	// backing the fairness term. Default: 0.1.
	Smoothing float64
}

// DefaultMFConfig returns the default model configuration.
func DefaultMFConfig() MFConfig {
	return MFConfig{
		NumFactors: 64,
		Seed:       42,
		FairWeight: 0,
		Smoothing:  0.1,
	}
}

// MF scores user-item pairs as a dot product of latent factors plus an
// item bias, trained with a pairwise sigmoid ranking loss. An optional
// fairness regularizer penalizes the gap between the running mean
// positive scores of the two sensitive groups.
//
// Users and items outside the training vocabulary score through
// deterministic pseudo-random factors derived from their id, so repeated
// evaluations of the same checkpoint are bit-for-bit identical.
type MF struct {
	cfg MFConfig

	userIndex   map[int]int
	itemIndex   map[int]int
	indexToUser []int
	indexToItem []int

	userFactors *Param
	itemFactors *Param
	itemBias    *Param

	// userGroup is the binary sensitive group per user (dimension 0 of
	// the attribute file). Users with other values carry no fairness term.
	userGroup map[int]int

	// groupScore is the running mean positive score per group.
	groupScore [2]float64
	groupSeen  [2]bool

	training bool
	ckpt     *checkpoint.Store
}

// NewMF builds a model over the known user and item vocabularies.
// Factors are initialized from the configured seed the way the training
// vocabulary orders them, so two models built from the same inputs are
// identical.
func NewMF(cfg MFConfig, users, items []int, attrs map[int][]int, ckpt *checkpoint.Store) *MF {
	if cfg.NumFactors <= 0 {
		cfg.NumFactors = 64
	}
	if cfg.Seed == 0 {
		cfg.Seed = 42
	}
	if cfg.Smoothing <= 0 {
		cfg.Smoothing = 0.1
	}

	m := &MF{
		cfg:       cfg,
		userIndex: make(map[int]int, len(users)),
		itemIndex: make(map[int]int, len(items)),
		userGroup: make(map[int]int),
		ckpt:      ckpt,
	}
	for _, u := range users {
		if _, ok := m.userIndex[u]; ok {
			continue
		}
		m.userIndex[u] = len(m.indexToUser)
		m.indexToUser = append(m.indexToUser, u)
	}
	for _, it := range items {
		if _, ok := m.itemIndex[it]; ok {
			continue
		}
		m.itemIndex[it] = len(m.indexToItem)
		m.indexToItem = append(m.indexToItem, it)
	}
	for u, cols := range attrs {
		if len(cols) > 0 && (cols[0] == 0 || cols[0] == 1) {
			m.userGroup[u] = cols[0]
		}
	}

	//nolint:gosec // G404: math/rand is acceptable for factor initialization
	rng := rand.New(rand.NewSource(cfg.Seed))
	m.userFactors = newParam("user_factors", len(m.indexToUser), cfg.NumFactors, rng)
	m.itemFactors = newParam("item_factors", len(m.indexToItem), cfg.NumFactors, rng)
	m.itemBias = newParam("item_bias", len(m.indexToItem), 1, nil)
	return m
}

func newParam(name string, rows, cols int, rng *rand.Rand) *Param {
	p := &Param{
		Name: name,
		Rows: make([][]float64, rows),
		Grad: make([][]float64, rows),
	}
	for r := 0; r < rows; r++ {
		p.Rows[r] = make([]float64, cols)
		p.Grad[r] = make([]float64, cols)
		if rng != nil {
			for c := 0; c < cols; c++ {
				p.Rows[r][c] = (rng.Float64() - 0.5) * 0.01
			}
		}
	}
	return p
}

// TrainStep runs the forward pass for one example.
func (m *MF) TrainStep(b Batch) []float64 {
	preds := make([]float64, len(b.Items))
	uVec := m.userVec(b.User)
	for i, item := range b.Items {
		preds[i] = dot(uVec, m.itemVec(item)) + m.biasFor(item)
	}
	return preds
}

// Loss decomposes the pairwise ranking loss of one step and accumulates
// gradients for the touched embedding rows.
func (m *MF) Loss(pred []float64, b Batch) LossParts {
	if len(b.Items) < 2 || len(pred) != len(b.Items) {
		return LossParts{}
	}

	uRow, uKnown := m.userIndex[b.User]
	posRow, posKnown := m.itemIndex[b.Items[0]]
	uVec := m.userVec(b.User)
	posVec := m.itemVec(b.Items[0])

	numNeg := float64(len(b.Items) - 1)
	var base float64
	for n := 1; n < len(b.Items); n++ {
		x := pred[0] - pred[n]
		base += softplus(-x) / numNeg

		// d/dx ln(sigmoid(x)) = sigmoid(-x); gradients are for descent.
		sig := sigmoid(-x) / numNeg

		negRow, negKnown := m.itemIndex[b.Items[n]]
		negVec := m.itemVec(b.Items[n])

		if uKnown {
			g := m.userFactors.Grad[uRow]
			for f := range g {
				g[f] += -sig * (posVec[f] - negVec[f])
			}
			m.userFactors.touch(uRow)
		}
		if posKnown {
			g := m.itemFactors.Grad[posRow]
			for f := range g {
				g[f] += -sig * uVec[f]
			}
			m.itemFactors.touch(posRow)
			m.itemBias.Grad[posRow][0] += -sig
			m.itemBias.touch(posRow)
		}
		if negKnown {
			g := m.itemFactors.Grad[negRow]
			for f := range g {
				g[f] += sig * uVec[f]
			}
			m.itemFactors.touch(negRow)
			m.itemBias.Grad[negRow][0] += sig
			m.itemBias.touch(negRow)
		}
	}

	parts := LossParts{Total: base, Base: base}

	group, hasGroup := m.userGroup[b.User]
	if m.cfg.FairWeight > 0 && hasGroup && isFinite(pred[0]) {
		if m.training {
			if !m.groupSeen[group] {
				m.groupScore[group] = pred[0]
				m.groupSeen[group] = true
			} else {
				a := m.cfg.Smoothing
				m.groupScore[group] = (1-a)*m.groupScore[group] + a*pred[0]
			}
		}

		parity := 0.0
		if m.groupSeen[0] && m.groupSeen[1] {
			parity = m.groupScore[0] - m.groupScore[1]
		}
		fair := m.cfg.FairWeight * math.Abs(parity)

		// The current user's positive score moves its group mean by the
		// smoothing coefficient; push it toward closing the gap.
		if m.training && parity != 0 {
			dir := sign(parity) * m.cfg.FairWeight * m.cfg.Smoothing
			if group == 1 {
				dir = -dir
			}
			if uKnown {
				g := m.userFactors.Grad[uRow]
				for f := range g {
					g[f] += dir * posVec[f]
				}
				m.userFactors.touch(uRow)
			}
			if posKnown {
				g := m.itemFactors.Grad[posRow]
				for f := range g {
					g[f] += dir * uVec[f]
				}
				m.itemFactors.touch(posRow)
				m.itemBias.Grad[posRow][0] += dir
				m.itemBias.touch(posRow)
			}
		}

		parts.Total = base + fair
		parts.Fairness = fair
		parts.Parity = parity
		parts.FairWeight = m.cfg.FairWeight
		parts.HasFairness = true
	}

	return parts
}

// Relevance scores candidate items for ranking. Items or users outside
// the training vocabulary fall back to deterministic hash factors.
func (m *MF) Relevance(user int, items []int) []float64 {
	scores := make([]float64, len(items))
	uVec := m.userVec(user)
	for i, item := range items {
		scores[i] = dot(uVec, m.itemVec(item)) + m.biasFor(item)
	}
	return scores
}

// Parameters returns every parameter group.
func (m *MF) Parameters() []*Param {
	return []*Param{m.userFactors, m.itemFactors, m.itemBias}
}

// CustomizableParameters returns the embedding groups; biases stay
// frozen under the custom policy.
func (m *MF) CustomizableParameters() []*Param {
	return []*Param{m.userFactors, m.itemFactors}
}

// mfState is the gob checkpoint payload.
type mfState struct {
	Cfg         MFConfig
	IndexToUser []int
	IndexToItem []int
	UserFactors [][]float64
	ItemFactors [][]float64
	ItemBias    [][]float64
	GroupScore  [2]float64
	GroupSeen   [2]bool
}

// Save persists the model state under the given checkpoint tag.
func (m *MF) Save(tag string) error {
	if m.ckpt == nil {
		return fmt.Errorf("model has no checkpoint store")
	}
	return m.ckpt.Save(tag, mfState{
		Cfg:         m.cfg,
		IndexToUser: m.indexToUser,
		IndexToItem: m.indexToItem,
		UserFactors: m.userFactors.Rows,
		ItemFactors: m.itemFactors.Rows,
		ItemBias:    m.itemBias.Rows,
		GroupScore:  m.groupScore,
		GroupSeen:   m.groupSeen,
	})
}

// Load restores the model state from the given checkpoint tag. The
// attribute mapping survives; vocabulary and factors are replaced.
func (m *MF) Load(tag string) error {
	if m.ckpt == nil {
		return fmt.Errorf("model has no checkpoint store")
	}
	var state mfState
	if _, err := m.ckpt.Load(tag, &state); err != nil {
		return err
	}

	m.cfg = state.Cfg
	m.indexToUser = state.IndexToUser
	m.indexToItem = state.IndexToItem
	m.userIndex = make(map[int]int, len(state.IndexToUser))
	for i, u := range state.IndexToUser {
		m.userIndex[u] = i
	}
	m.itemIndex = make(map[int]int, len(state.IndexToItem))
	for i, it := range state.IndexToItem {
		m.itemIndex[it] = i
	}
	m.userFactors = paramFromRows("user_factors", state.UserFactors)
	m.itemFactors = paramFromRows("item_factors", state.ItemFactors)
	m.itemBias = paramFromRows("item_bias", state.ItemBias)
	m.groupScore = state.GroupScore
	m.groupSeen = state.GroupSeen
	return nil
}

func paramFromRows(name string, rows [][]float64) *Param {
	p := &Param{
		Name: name,
		Rows: rows,
		Grad: make([][]float64, len(rows)),
	}
	for r := range rows {
		p.Grad[r] = make([]float64, len(rows[r]))
	}
	return p
}

// TrainMode switches the model into training behavior.
func (m *MF) TrainMode() { m.training = true }

// EvalMode switches the model into inference behavior.
func (m *MF) EvalMode() { m.training = false }

func (m *MF) userVec(user int) []float64 {
	if row, ok := m.userIndex[user]; ok {
		return m.userFactors.Rows[row]
	}
	return hashVec(m.cfg.Seed, 'u', user, m.cfg.NumFactors)
}

func (m *MF) itemVec(item int) []float64 {
	if row, ok := m.itemIndex[item]; ok {
		return m.itemFactors.Rows[row]
	}
	return hashVec(m.cfg.Seed, 'i', item, m.cfg.NumFactors)
}

func (m *MF) biasFor(item int) float64 {
	if row, ok := m.itemIndex[item]; ok {
		return m.itemBias.Rows[row][0]
	}
	return 0
}

// hashVec derives a deterministic pseudo-random factor vector for an id
// outside the training vocabulary, at the initialization scale.
func hashVec(seed int64, kind byte, id, k int) []float64 {
	v := make([]float64, k)
	state := uint64(seed) ^ (uint64(id)+1)*0x9e3779b97f4a7c15 ^ uint64(kind)<<56
	for f := 0; f < k; f++ {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		v[f] = (float64(z)/float64(math.MaxUint64) - 0.5) * 0.01
	}
	return v
}

func dot(a, b []float64) float64 {
	var s float64
	for f := range a {
		s += a[f] * b[f]
	}
	return s
}

func sigmoid(x float64) float64 {
	if x < -30 {
		return 0
	}
	if x > 30 {
		return 1
	}
	return 1.0 / (1.0 + math.Exp(-x))
}

// softplus computes ln(1+exp(x)) without overflow.
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

func sign(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// Ensure interface compliance.
var _ Recommender = (*MF)(nil)
