// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package eval

import (
	"github.com/fairstream/fairstream/internal/config"
)

// Context accumulates per-user metric values over one evaluation pass.
// Every metric feeds an overall total and exactly one group bucket per
// attribute dimension; Finalize divides each accumulator by its own
// user count.
type Context struct {
	metrics []string
	dims    []config.AttributeDim

	overall  map[string]float64
	numUsers int

	// groupSum[d][g][metric], parallel counters per dimension/group.
	groupSum   []map[int]map[string]float64
	groupUsers []map[int]int
	unseen     []map[int]int
	testPos    []map[int]int
	trainPos   []map[int]int

	// Anomalies counts users skipped for missing test positives or
	// attributes.
	Anomalies int
}

// NewContext allocates fresh accumulators for one pass.
func NewContext(metrics []string, dims []config.AttributeDim) *Context {
	c := &Context{
		metrics: metrics,
		dims:    dims,
		overall: make(map[string]float64, len(metrics)),
	}
	for range dims {
		c.groupSum = append(c.groupSum, map[int]map[string]float64{})
		c.groupUsers = append(c.groupUsers, map[int]int{})
		c.unseen = append(c.unseen, map[int]int{})
		c.testPos = append(c.testPos, map[int]int{})
		c.trainPos = append(c.trainPos, map[int]int{})
	}
	return c
}

// Observe folds one evaluated user into the accumulators. attrs holds
// the user's group per dimension, values the per-metric scores.
func (c *Context) Observe(attrs []int, values map[string]float64, unseen, numTestPos, numTrainPos int) {
	c.numUsers++
	for _, m := range c.metrics {
		c.overall[m] += values[m]
	}
	for d := range c.dims {
		g := attrs[d]
		sums, ok := c.groupSum[d][g]
		if !ok {
			sums = make(map[string]float64, len(c.metrics))
			c.groupSum[d][g] = sums
		}
		for _, m := range c.metrics {
			sums[m] += values[m]
		}
		c.groupUsers[d][g]++
		c.unseen[d][g] += unseen
		c.testPos[d][g] += numTestPos
		c.trainPos[d][g] += numTrainPos
	}
}

// NumUsers returns how many users were folded in so far.
func (c *Context) NumUsers() int { return c.numUsers }

// GroupStats is the population bookkeeping of one group.
type GroupStats struct {
	Users        int
	UnseenMean   int
	TestPosMean  int
	TestPosTotal int
	TrainPosMean int
}

// Summary is the finalized outcome of one pass.
type Summary struct {
	// Overall holds the mean metric values across all evaluated users.
	Overall map[string]float64

	// Group holds mean metric values per dimension and group. An empty
	// group reports 0 rather than dividing by zero.
	Group []map[int]map[string]float64

	// Parity holds mean(group 0) - mean(group 1) per metric for every
	// dimension with exactly two observed groups that is not marked
	// ordinal. Other dimensions carry a nil entry.
	Parity []map[string]float64

	// Stats holds population bookkeeping per dimension and group.
	Stats []map[int]GroupStats

	NumUsers  int
	Anomalies int
}

// Finalize computes means and parity differences. The accumulators stay
// valid; calling Finalize twice returns equal summaries.
func (c *Context) Finalize() *Summary {
	s := &Summary{
		Overall:   make(map[string]float64, len(c.metrics)),
		NumUsers:  c.numUsers,
		Anomalies: c.Anomalies,
	}
	for _, m := range c.metrics {
		if c.numUsers > 0 {
			s.Overall[m] = c.overall[m] / float64(c.numUsers)
		}
	}

	for d, dim := range c.dims {
		means := map[int]map[string]float64{}
		stats := map[int]GroupStats{}
		for g := 0; g < dim.Groups; g++ {
			n := c.groupUsers[d][g]
			mm := make(map[string]float64, len(c.metrics))
			for _, m := range c.metrics {
				if n > 0 {
					mm[m] = c.groupSum[d][g][m] / float64(n)
				}
			}
			means[g] = mm

			st := GroupStats{Users: n, TestPosTotal: c.testPos[d][g]}
			if n > 0 {
				st.UnseenMean = roundDiv(c.unseen[d][g], n)
				st.TestPosMean = roundDiv(c.testPos[d][g], n)
				st.TrainPosMean = roundDiv(c.trainPos[d][g], n)
			}
			stats[g] = st
		}
		s.Group = append(s.Group, means)
		s.Stats = append(s.Stats, stats)

		var parity map[string]float64
		if dim.Groups == 2 && !dim.Ordinal {
			parity = make(map[string]float64, len(c.metrics))
			for _, m := range c.metrics {
				parity[m] = means[0][m] - means[1][m]
			}
		}
		s.Parity = append(s.Parity, parity)
	}
	return s
}

func roundDiv(a, n int) int {
	if n == 0 {
		return 0
	}
	q := float64(a) / float64(n)
	return int(q + 0.5)
}
