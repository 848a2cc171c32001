// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

// Package eval implements the ranking and fairness evaluation engine:
// per-user recommendation lists, ranking metrics, per-group
// accumulation and parity differences.
package eval

import (
	"fmt"
	"math"
)

// hitVector marks each position of list that appears in testPos.
func hitVector(list []int, testPos map[int]bool) []bool {
	r := make([]bool, len(list))
	for i, item := range list {
		r[i] = testPos[item]
	}
	return r
}

// CountHits returns the number of list entries present in testPos.
func CountHits(list []int, testPos map[int]bool) int {
	n := 0
	for _, item := range list {
		if testPos[item] {
			n++
		}
	}
	return n
}

// Recall is hits over the number of test positives.
func Recall(list []int, testPos map[int]bool) float64 {
	if len(testPos) == 0 {
		return 0
	}
	return float64(CountHits(list, testPos)) / float64(len(testPos))
}

// Precision is hits over the list length.
func Precision(list []int, testPos map[int]bool) float64 {
	if len(list) == 0 {
		return 0
	}
	return float64(CountHits(list, testPos)) / float64(len(list))
}

// F1 is the harmonic mean of recall and precision, 0 when both are 0.
func F1(list []int, testPos map[int]bool) float64 {
	r := Recall(list, testPos)
	p := Precision(list, testPos)
	if r+p == 0 {
		return 0
	}
	return 2 * r * p / (r + p)
}

// HitRatio is 1 when the list contains any test positive.
func HitRatio(list []int, testPos map[int]bool) float64 {
	if CountHits(list, testPos) > 0 {
		return 1
	}
	return 0
}

// NDCG computes normalized discounted cumulative gain under two
// conventions. Position p (1-based) is discounted by 1/log2(p+1) in
// both; they differ in the ideal ordering. Method 0 normalizes by a
// full ideal list of min(len(list), len(testPos)) hits; method 1
// normalizes by the achieved hits packed at the top, so any ranking
// with all its hits leading scores 1. Returns 0 when the ideal DCG
// is 0.
func NDCG(list []int, testPos map[int]bool, method int) (float64, error) {
	r := hitVector(list, testPos)

	var dcg float64
	for i, hit := range r {
		if hit {
			dcg += 1 / math.Log2(float64(i)+2)
		}
	}

	var ideal int
	switch method {
	case 0:
		ideal = len(list)
		if len(testPos) < ideal {
			ideal = len(testPos)
		}
	case 1:
		ideal = CountHits(list, testPos)
	default:
		return 0, fmt.Errorf("undefined ndcg method: %d", method)
	}

	var idcg float64
	for i := 0; i < ideal; i++ {
		idcg += 1 / math.Log2(float64(i)+2)
	}
	if idcg == 0 {
		return 0, nil
	}
	return dcg / idcg, nil
}

// MRR computes reciprocal-rank statistics. Method 0 sums 1/rank over
// every hit; method 1 uses only the first hit. 0 when nothing hits.
func MRR(list []int, testPos map[int]bool, method int) (float64, error) {
	switch method {
	case 0:
		var sum float64
		for i, item := range list {
			if testPos[item] {
				sum += 1 / float64(i+1)
			}
		}
		return sum, nil
	case 1:
		for i, item := range list {
			if testPos[item] {
				return 1 / float64(i+1), nil
			}
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("undefined mrr method: %d", method)
	}
}

// AveragePrecision averages precision@p over the hit positions p.
// Method selects the normalizer: 0 divides by the hit count, 1 by
// min(len(list), len(testPos)), 2 by len(testPos). 0 when nothing
// hits.
func AveragePrecision(list []int, testPos map[int]bool, method int) (float64, error) {
	if method < 0 || method > 2 {
		return 0, fmt.Errorf("undefined average-precision method: %d", method)
	}

	var sum float64
	hits := 0
	for i, item := range list {
		if testPos[item] {
			hits++
			sum += float64(hits) / float64(i+1)
		}
	}
	if hits == 0 {
		return 0, nil
	}

	switch method {
	case 0:
		return sum / float64(hits), nil
	case 1:
		n := len(list)
		if len(testPos) < n {
			n = len(testPos)
		}
		return sum / float64(n), nil
	default:
		return sum / float64(len(testPos)), nil
	}
}

// Score dispatches a metric by name over one recommendation list.
// Unknown names are a configuration error surfaced before any scoring
// in practice, but the dispatch also guards here.
func Score(metric string, list []int, testPos map[int]bool) (float64, error) {
	switch metric {
	case "recall":
		return Recall(list, testPos), nil
	case "precision":
		return Precision(list, testPos), nil
	case "f1":
		return F1(list, testPos), nil
	case "hit_ratio":
		return HitRatio(list, testPos), nil
	case "hit":
		return float64(CountHits(list, testPos)), nil
	case "ndcg0":
		return NDCG(list, testPos, 0)
	case "ndcg1":
		return NDCG(list, testPos, 1)
	case "mrr0":
		return MRR(list, testPos, 0)
	case "mrr1":
		return MRR(list, testPos, 1)
	case "ap0":
		return AveragePrecision(list, testPos, 0)
	case "ap1":
		return AveragePrecision(list, testPos, 1)
	case "ap2":
		return AveragePrecision(list, testPos, 2)
	default:
		return 0, fmt.Errorf("undefined evaluation metric: %q", metric)
	}
}
