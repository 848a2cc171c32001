// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package eval

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/fairstream/fairstream/internal/config"
	"github.com/fairstream/fairstream/internal/dataset"
	"github.com/fairstream/fairstream/internal/logging"
	"github.com/fairstream/fairstream/internal/metrics"
	"github.com/fairstream/fairstream/internal/results"
)

// Evaluator runs full evaluation passes over snapshot partitions and
// renders ordered result lines.
type Evaluator struct {
	scorer Scorer
	data   *dataset.Store
	cfg    config.EvalConfig

	// scoreBatch bounds candidate scoring per Relevance call; <= 0
	// scores each candidate set in one call.
	scoreBatch int
}

// New builds an Evaluator. cfg is assumed validated; unknown metric
// names still fail the pass before any user is scored.
func New(scorer Scorer, data *dataset.Store, cfg config.EvalConfig, scoreBatch int) *Evaluator {
	return &Evaluator{scorer: scorer, data: data, cfg: cfg, scoreBatch: scoreBatch}
}

// PassResult is the outcome of one (setting, snapshot, K) pass.
type PassResult struct {
	// Lines is the ordered report content of the per-snapshot file.
	Lines []results.Line

	// Summary holds the finalized accumulators.
	Summary *Summary

	// Parity is the shortlist of parity differences of the first
	// two-group dimension, keyed by metric name.
	Parity map[string]float64
}

// EvaluatePass evaluates one setting at one snapshot for one list
// length. The sampler is re-seeded from the configured seed so
// repeated passes over the same checkpoint are bit-for-bit equal.
func (e *Evaluator) EvaluatePass(setting string, snapIdx, k int) (*PassResult, error) {
	// Unknown metric names fail before any user is scored.
	for _, m := range e.cfg.Metrics {
		if _, err := Score(m, nil, nil); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	trainFile, testFile := e.data.SettingFiles(setting, snapIdx)

	trainEdges, err := dataset.ReadEdgeList(trainFile)
	if err != nil {
		return nil, fmt.Errorf("read train partition: %w", err)
	}
	testEdges, err := dataset.ReadEdgeList(testFile)
	if err != nil {
		return nil, fmt.Errorf("read test partition: %w", err)
	}

	trainPos := dataset.UserPositives(trainEdges)
	testPos := dataset.UserPositives(testEdges)
	trainUsers, trainItems := dataset.UserItemSets(trainEdges)
	attrs := e.data.Attributes()

	rng := rand.New(rand.NewSource(e.cfg.Seed))
	gen := NewListGenerator(e.scorer, trainItems, e.cfg.NegSamples, rng)
	gen.SetScoreBatch(e.scoreBatch)
	ctx := NewContext(e.cfg.Metrics, e.cfg.Attributes)

	for _, user := range trainUsers {
		tp, ok := testPos[user]
		if !ok {
			// New or inactive user this period; nothing to score.
			ctx.Anomalies++
			metrics.EvalAnomalies.WithLabelValues(setting).Inc()
			continue
		}
		userAttrs, ok := e.userGroups(attrs, user)
		if !ok {
			ctx.Anomalies++
			metrics.EvalAnomalies.WithLabelValues(setting).Inc()
			logging.Warn().Int("user", user).Msg("user missing attributes, skipped")
			continue
		}

		list, unseen, err := gen.Generate(user, trainPos[user], tp, k)
		if err != nil {
			return nil, err
		}

		tpSet := make(map[int]bool, len(tp))
		for _, it := range tp {
			tpSet[it] = true
		}
		values := make(map[string]float64, len(e.cfg.Metrics))
		for _, m := range e.cfg.Metrics {
			v, err := Score(m, list, tpSet)
			if err != nil {
				return nil, err
			}
			values[m] = v
		}
		ctx.Observe(userAttrs, values, unseen, len(tp), len(trainPos[user]))
		metrics.EvaluatedUsers.WithLabelValues(setting).Inc()
	}

	summary := ctx.Finalize()
	metrics.ObserveEval(setting, start)

	lines := e.renderMetricLines(summary)
	lines = append(lines, e.populationLines(setting, snapIdx, trainUsers, trainPos, attrs, summary)...)

	return &PassResult{
		Lines:   lines,
		Summary: summary,
		Parity:  e.parityShortlist(summary),
	}, nil
}

// userGroups maps a user to its group index per dimension, rejecting
// missing rows and out-of-range values.
func (e *Evaluator) userGroups(attrs map[int][]int, user int) ([]int, bool) {
	row, ok := attrs[user]
	if !ok || len(row) < len(e.cfg.Attributes) {
		return nil, false
	}
	out := make([]int, len(e.cfg.Attributes))
	for d, dim := range e.cfg.Attributes {
		g := row[d]
		if g < 0 || g >= dim.Groups {
			return nil, false
		}
		out[d] = g
	}
	return out, true
}

// renderMetricLines emits, per non-ordinal dimension and metric, the
// overall mean, the parity difference when defined, and every group
// mean.
func (e *Evaluator) renderMetricLines(s *Summary) []results.Line {
	var lines []results.Line
	for d, dim := range e.cfg.Attributes {
		if dim.Ordinal {
			continue
		}
		for _, m := range e.cfg.Metrics {
			lines = append(lines, results.FloatLine(m+"__overall", s.Overall[m]))
			if s.Parity[d] != nil {
				lines = append(lines, results.FloatLine(m+"__"+dim.Name, s.Parity[d][m]))
			}
			for g := 0; g < dim.Groups; g++ {
				lines = append(lines, results.FloatLine(fmt.Sprintf("%s__%d", m, g), s.Group[d][g][m]))
			}
		}
	}
	return lines
}

// populationLines emits the diagnostic counts of the first attribute
// dimension plus the overall user tallies. The cold-start cohort is the
// set difference between the current and the historical train users; the
// "new" cohort covers the users of the current period's interactions.
func (e *Evaluator) populationLines(setting string, snapIdx int, trainUsers []int, trainPos map[int][]int, attrs map[int][]int, s *Summary) []results.Line {
	if len(e.cfg.Attributes) == 0 {
		return nil
	}
	dim := e.cfg.Attributes[0]

	actualUsers, actualPos := e.groupCounts(trainUsers, trainPos, attrs, dim)

	histFile, curFile := e.data.ColdStartFiles(setting, snapIdx)
	histList, histPos := e.readPartition(histFile)
	curList, curPos := e.readPartition(curFile)
	histUsers, _ := e.groupCounts(histList, histPos, attrs, dim)

	coldStart, notColdStart := trainUsers, trainUsers
	if snapIdx > 0 {
		histSet := make(map[int]bool, len(histList))
		for _, u := range histList {
			histSet[u] = true
		}
		coldStart, notColdStart = nil, nil
		coldSet := make(map[int]bool)
		for _, u := range trainUsers {
			if !histSet[u] {
				coldStart = append(coldStart, u)
				coldSet[u] = true
			}
		}
		for _, u := range curList {
			if !coldSet[u] {
				notColdStart = append(notColdStart, u)
			}
		}
	}
	coldUsers, coldPos := e.groupCounts(coldStart, curPos, attrs, dim)
	notColdUsers, notColdPos := e.groupCounts(notColdStart, curPos, attrs, dim)
	curUsers, curPosTotal := e.groupCounts(curList, curPos, attrs, dim)

	var lines []results.Line
	add := func(name string, per func(g int) int) {
		for g := 0; g < dim.Groups; g++ {
			lines = append(lines, results.CountLine(fmt.Sprintf("%s_%d", name, g), per(g)))
		}
	}

	add("#_users", func(g int) int { return actualUsers[g] })
	add("#_train_pos_mean", func(g int) int { return roundDiv(actualPos[g], actualUsers[g]) })
	add("#_train_pos_total", func(g int) int { return actualPos[g] })
	add("#_(valid)_test_users", func(g int) int { return s.Stats[0][g].Users })
	add("#_(valid)_test_pos_mean", func(g int) int { return s.Stats[0][g].TestPosMean })
	add("#_(valid)_test_pos_total", func(g int) int { return s.Stats[0][g].TestPosMean * s.Stats[0][g].Users })
	add("#_(valid)_train_pos", func(g int) int { return s.Stats[0][g].TrainPosMean })
	add("#_coldstart_users", func(g int) int { return actualUsers[g] - histUsers[g] })
	add("#_cold_start_users", func(g int) int { return coldUsers[g] })
	add("#_not_cold_start_users", func(g int) int { return notColdUsers[g] })
	add("#_cold_start_train_pos_mean", func(g int) int { return roundDiv(coldPos[g], coldUsers[g]) })
	add("#_not_cold_start_train_pos_mean", func(g int) int { return roundDiv(notColdPos[g], notColdUsers[g]) })
	add("#_cold_start_train_pos_total", func(g int) int { return coldPos[g] })
	add("#_not_cold_start_train_pos_total", func(g int) int { return notColdPos[g] })
	add("#_new_users", func(g int) int { return curUsers[g] })
	add("#_new_train_pos_mean", func(g int) int { return roundDiv(curPosTotal[g], curUsers[g]) })
	add("#_new_train_pos_total", func(g int) int { return curPosTotal[g] })
	add("#_new_train_pos_mean_over_all_users", func(g int) int {
		if actualUsers[g] == 0 {
			return 0
		}
		return curPosTotal[g] / actualUsers[g]
	})

	lines = append(lines,
		results.CountLine("#_overall_num_test_users", len(trainUsers)),
		results.CountLine("#_overall_(valid)_test_users", s.NumUsers),
	)
	return lines
}

// readPartition loads a snapshot partition as an ordered user list with
// per-user positives. A missing partition degrades cohort counts to zero
// rather than failing the pass.
func (e *Evaluator) readPartition(path string) ([]int, map[int][]int) {
	edges, err := dataset.ReadEdgeList(path)
	if err != nil {
		logging.Warn().Err(err).Str("file", path).Msg("partition unavailable, cohort counts degrade to zero")
		return nil, nil
	}
	users, _ := dataset.UserItemSets(edges)
	return users, dataset.UserPositives(edges)
}

// groupCounts tallies users and train positives of one dimension over
// an edge-list partition. Users without attributes are left out.
func (e *Evaluator) groupCounts(users []int, pos map[int][]int, attrs map[int][]int, dim config.AttributeDim) (map[int]int, map[int]int) {
	userCount := map[int]int{}
	posCount := map[int]int{}
	for _, u := range users {
		row, ok := attrs[u]
		if !ok || len(row) == 0 {
			continue
		}
		g := row[0]
		if g < 0 || g >= dim.Groups {
			continue
		}
		userCount[g]++
		posCount[g] += len(pos[u])
	}
	return userCount, posCount
}

// parityShortlist picks the configured parity metrics from the first
// two-group dimension.
func (e *Evaluator) parityShortlist(s *Summary) map[string]float64 {
	for d, dim := range e.cfg.Attributes {
		if dim.Ordinal || s.Parity[d] == nil {
			continue
		}
		out := make(map[string]float64, len(e.cfg.ParityMetrics))
		for _, m := range e.cfg.ParityMetrics {
			out[m] = s.Parity[d][m]
		}
		return out
	}
	return nil
}
