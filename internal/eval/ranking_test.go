// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package eval

import (
	"math"
	"testing"
)

func asSet(items ...int) map[int]bool {
	s := make(map[int]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}

func TestBasicHitScenario(t *testing.T) {
	t.Parallel()

	// list = [a(hit), b, c(hit)] against test positives {a, c}.
	list := []int{1, 2, 3}
	testPos := asSet(1, 3)

	if got := Recall(list, testPos); got != 1.0 {
		t.Errorf("Recall = %v, want 1.0", got)
	}
	if got := Precision(list, testPos); math.Abs(got-2.0/3.0) > 1e-12 {
		t.Errorf("Precision = %v, want 2/3", got)
	}
	if got := HitRatio(list, testPos); got != 1.0 {
		t.Errorf("HitRatio = %v, want 1.0", got)
	}
	if got := CountHits(list, testPos); got != 2 {
		t.Errorf("CountHits = %v, want 2", got)
	}
}

func TestF1Identity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		list    []int
		testPos map[int]bool
	}{
		{"no hits", []int{5, 6}, asSet(1, 2)},
		{"all hits", []int{1, 2}, asSet(1, 2)},
		{"partial", []int{1, 5, 6, 7}, asSet(1, 2, 3)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := Recall(tc.list, tc.testPos)
			p := Precision(tc.list, tc.testPos)
			f := F1(tc.list, tc.testPos)
			if r+p == 0 {
				if f != 0 {
					t.Errorf("F1 = %v, want 0 when recall+precision = 0", f)
				}
				return
			}
			want := 2 * r * p / (r + p)
			if math.Abs(f-want) > 1e-12 {
				t.Errorf("F1 = %v, want %v", f, want)
			}
		})
	}
}

func TestNDCGMethodOne(t *testing.T) {
	t.Parallel()

	// All hits leading, in any order, scores exactly 1.
	perfect := []int{3, 1, 9, 100, 101}
	testPos := asSet(1, 3, 9)
	got, err := NDCG(perfect, testPos, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-1.0) > 1e-12 {
		t.Errorf("NDCG1 of front-loaded hits = %v, want 1.0", got)
	}

	// Any ranking stays within [0, 1].
	lists := [][]int{
		{100, 101, 1},
		{1, 100, 3},
		{100, 101, 102},
		{},
	}
	for _, list := range lists {
		v, err := NDCG(list, testPos, 1)
		if err != nil {
			t.Fatal(err)
		}
		if v < 0 || v > 1 {
			t.Errorf("NDCG1(%v) = %v, out of [0,1]", list, v)
		}
	}

	// No hits: ideal DCG is 0, result defined as 0.
	v, err := NDCG([]int{100, 101}, testPos, 1)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Errorf("NDCG1 without hits = %v, want 0", v)
	}
}

func TestNDCGMethodZero(t *testing.T) {
	t.Parallel()

	testPos := asSet(1, 2)

	// Hits at positions 1 and 2 of a 3-long list with |test| = 2:
	// dcg = 1 + 1/log2(3), idcg the same, ratio 1.
	v, err := NDCG([]int{1, 2, 9}, testPos, 0)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v-1.0) > 1e-12 {
		t.Errorf("NDCG0 of ideal ranking = %v, want 1.0", v)
	}

	// Single hit at the last position: dcg = 1/log2(4).
	v, err = NDCG([]int{8, 9, 1}, testPos, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := (1 / math.Log2(4)) / (1 + 1/math.Log2(3))
	if math.Abs(v-want) > 1e-12 {
		t.Errorf("NDCG0 = %v, want %v", v, want)
	}

	if _, err := NDCG(nil, testPos, 7); err == nil {
		t.Error("expected error for undefined ndcg method")
	}
}

func TestMRR(t *testing.T) {
	t.Parallel()

	testPos := asSet(2, 4)
	list := []int{1, 2, 3, 4}

	m0, err := MRR(list, testPos, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := 1.0/2 + 1.0/4; math.Abs(m0-want) > 1e-12 {
		t.Errorf("MRR0 = %v, want %v", m0, want)
	}

	m1, err := MRR(list, testPos, 1)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(m1-0.5) > 1e-12 {
		t.Errorf("MRR1 = %v, want 0.5", m1)
	}

	if v, _ := MRR([]int{9}, testPos, 1); v != 0 {
		t.Errorf("MRR1 without hits = %v, want 0", v)
	}
	if _, err := MRR(list, testPos, 3); err == nil {
		t.Error("expected error for undefined mrr method")
	}
}

func TestAveragePrecision(t *testing.T) {
	t.Parallel()

	// Hits at ranks 1 and 3: precision@1 = 1, precision@3 = 2/3.
	list := []int{1, 9, 3}
	testPos := asSet(1, 3)
	sum := 1.0 + 2.0/3.0

	m0, err := AveragePrecision(list, testPos, 0)
	if err != nil {
		t.Fatal(err)
	}
	if want := sum / 2; math.Abs(m0-want) > 1e-12 {
		t.Errorf("AP0 = %v, want %v", m0, want)
	}

	m1, err := AveragePrecision(list, testPos, 1)
	if err != nil {
		t.Fatal(err)
	}
	if want := sum / 2; math.Abs(m1-want) > 1e-12 {
		t.Errorf("AP1 = %v, want %v", m1, want)
	}

	m2, err := AveragePrecision(list, testPos, 2)
	if err != nil {
		t.Fatal(err)
	}
	if want := sum / 2; math.Abs(m2-want) > 1e-12 {
		t.Errorf("AP2 = %v, want %v", m2, want)
	}

	// Different normalizers diverge once |test| > |list| hits.
	big := asSet(1, 3, 50, 51)
	m2, err = AveragePrecision(list, big, 2)
	if err != nil {
		t.Fatal(err)
	}
	if want := sum / 4; math.Abs(m2-want) > 1e-12 {
		t.Errorf("AP2 with larger test set = %v, want %v", m2, want)
	}

	if v, _ := AveragePrecision([]int{9}, testPos, 0); v != 0 {
		t.Errorf("AP0 without hits = %v, want 0", v)
	}
	if _, err := AveragePrecision(list, testPos, 5); err == nil {
		t.Error("expected error for undefined ap method")
	}
}

func TestScoreDispatch(t *testing.T) {
	t.Parallel()

	list := []int{1, 2, 3}
	testPos := asSet(1)

	for _, m := range []string{"recall", "precision", "f1", "hit_ratio", "hit", "ndcg0", "ndcg1", "mrr0", "mrr1", "ap0", "ap1", "ap2"} {
		if _, err := Score(m, list, testPos); err != nil {
			t.Errorf("Score(%q): %v", m, err)
		}
	}
	if _, err := Score("bogus", list, testPos); err == nil {
		t.Error("expected error for undefined metric name")
	}
}
