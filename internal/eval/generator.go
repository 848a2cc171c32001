// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package eval

import (
	"fmt"
	"math/rand"
	"sort"
)

// Scorer produces relevance scores for candidate items of a user. Any
// model exposing ranking scores satisfies it; unseen item ids must
// still score deterministically.
type Scorer interface {
	Relevance(user int, items []int) []float64
}

// ListGenerator builds per-user top-K recommendation lists over a
// candidate set of the user's test positives plus sampled negatives.
type ListGenerator struct {
	scorer Scorer

	// trainItems is the item vocabulary of the evaluated training
	// partition, in first-appearance order.
	trainItems []int
	trainSet   map[int]bool

	// negSamples is the fixed sample size; -1 uses the full eligible
	// pool.
	negSamples int

	// scoreBatch bounds how many candidates one Relevance call scores.
	// Zero or negative scores the whole candidate set at once.
	scoreBatch int

	rng *rand.Rand
}

// NewListGenerator builds a generator over the train item vocabulary.
// The caller owns the rng so one evaluation pass shares a single
// deterministic sequence.
func NewListGenerator(scorer Scorer, trainItems []int, negSamples int, rng *rand.Rand) *ListGenerator {
	set := make(map[int]bool, len(trainItems))
	for _, it := range trainItems {
		set[it] = true
	}
	return &ListGenerator{
		scorer:     scorer,
		trainItems: trainItems,
		trainSet:   set,
		negSamples: negSamples,
		rng:        rng,
	}
}

// SetScoreBatch bounds candidate scoring to batches of n items per
// Relevance call. Ranking is unaffected; only call granularity changes.
func (g *ListGenerator) SetScoreBatch(n int) { g.scoreBatch = n }

// Generate returns the user's top-K list and the number of candidate
// items absent from the train vocabulary. Eligible negatives are the
// train items minus the user's train and test positives, in vocabulary
// order. A sample size exceeding the eligible pool is an error, not a
// silent truncation. K <= 0 keeps the full ranked candidate list.
func (g *ListGenerator) Generate(user int, trainPos, testPos []int, k int) ([]int, int, error) {
	exclude := make(map[int]bool, len(trainPos)+len(testPos))
	for _, it := range trainPos {
		exclude[it] = true
	}
	for _, it := range testPos {
		exclude[it] = true
	}

	eligible := make([]int, 0, len(g.trainItems))
	for _, it := range g.trainItems {
		if !exclude[it] {
			eligible = append(eligible, it)
		}
	}

	var negatives []int
	if g.negSamples == -1 {
		negatives = eligible
	} else {
		if g.negSamples > len(eligible) {
			return nil, 0, fmt.Errorf(
				"user %d: %d negative samples requested but only %d eligible items (%d train items, %d train positives, %d test positives)",
				user, g.negSamples, len(eligible), len(g.trainItems), len(trainPos), len(testPos))
		}
		negatives = g.sample(eligible, g.negSamples)
	}

	// Test positives lead the candidate list; the stable sort keeps
	// them ahead of equal-scored negatives.
	candidates := make([]int, 0, len(testPos)+len(negatives))
	candidates = append(candidates, testPos...)
	candidates = append(candidates, negatives...)

	scores := g.score(user, candidates)

	idx := make([]int, len(candidates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})

	list := make([]int, len(idx))
	unseen := 0
	for i, j := range idx {
		list[i] = candidates[j]
	}
	for _, it := range candidates {
		if !g.trainSet[it] {
			unseen++
		}
	}
	if k > 0 && len(list) > k {
		list = list[:k]
	}
	return list, unseen, nil
}

// score evaluates candidate relevance in scoreBatch-sized chunks.
func (g *ListGenerator) score(user int, candidates []int) []float64 {
	if g.scoreBatch <= 0 || len(candidates) <= g.scoreBatch {
		return g.scorer.Relevance(user, candidates)
	}
	out := make([]float64, 0, len(candidates))
	for start := 0; start < len(candidates); start += g.scoreBatch {
		end := start + g.scoreBatch
		if end > len(candidates) {
			end = len(candidates)
		}
		out = append(out, g.scorer.Relevance(user, candidates[start:end])...)
	}
	return out
}

// sample draws n distinct elements with a partial Fisher-Yates pass so
// the draw cost scales with n, not the pool.
func (g *ListGenerator) sample(pool []int, n int) []int {
	work := make([]int, len(pool))
	copy(work, pool)
	for i := 0; i < n; i++ {
		j := i + g.rng.Intn(len(work)-i)
		work[i], work[j] = work[j], work[i]
	}
	return work[:n]
}
