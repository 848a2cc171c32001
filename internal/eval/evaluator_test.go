// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package eval

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fairstream/fairstream/internal/config"
	"github.com/fairstream/fairstream/internal/dataset"
	"github.com/fairstream/fairstream/internal/metrics"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

// evalFixture lays out a two-user snapshot directory. Users 0 and 1
// belong to groups 0 and 1; user 2 has no attributes.
func evalFixture(t *testing.T) *dataset.Store {
	t.Helper()
	dir := t.TempDir()

	stream := filepath.Join(dir, "stream")
	writeLines(t, stream,
		"0 1", "0 2", "1 2", "1 3", "2 1",
	)

	snaps := filepath.Join(dir, "snapshots")
	if err := os.Mkdir(snaps, 0o755); err != nil {
		t.Fatal(err)
	}
	writeLines(t, filepath.Join(snaps, "remain_train_snap0"),
		"0 1", "0 2", "1 2", "1 3", "2 1",
	)
	writeLines(t, filepath.Join(snaps, "remain_test_snap0"),
		"0 3", "1 1",
	)

	attrs := filepath.Join(dir, "attrs")
	writeLines(t, attrs, "0 0", "1 1")

	store, err := dataset.Open(config.DataConfig{
		TrainFile:      stream,
		SnapshotsPath:  snaps,
		UserAttrFile:   attrs,
		SnapBoundaries: []int{5},
	})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func evalConfig() config.EvalConfig {
	return config.EvalConfig{
		TopK:          []int{2},
		Metrics:       []string{"recall", "precision", "f1", "ndcg1"},
		NegSamples:    -1,
		Seed:          10,
		Settings:      []string{"remain"},
		Attributes:    []config.AttributeDim{{Name: "genders", Groups: 2}},
		ParityMetrics: []string{"recall", "f1", "ndcg1", "precision"},
	}
}

func TestEvaluatePass(t *testing.T) {
	t.Parallel()

	store := evalFixture(t)
	ev := New(descendingScorer{}, store, evalConfig(), 0)

	pass, err := ev.EvaluatePass("remain", 0, 2)
	if err != nil {
		t.Fatal(err)
	}

	// Users 0 and 1 are evaluated; user 2 has no test positives and is
	// a counted anomaly.
	if pass.Summary.NumUsers != 2 {
		t.Errorf("NumUsers = %d, want 2", pass.Summary.NumUsers)
	}
	if pass.Summary.Anomalies != 1 {
		t.Errorf("Anomalies = %d, want 1", pass.Summary.Anomalies)
	}

	names := map[string]bool{}
	for _, l := range pass.Lines {
		names[l.Name] = true
	}
	for _, want := range []string{
		"recall__overall", "recall__genders", "recall__0", "recall__1",
		"#_users_0", "#_users_1", "#_coldstart_users_0",
		"#_overall_num_test_users", "#_overall_(valid)_test_users",
	} {
		if !names[want] {
			t.Errorf("missing result line %q", want)
		}
	}

	if len(pass.Parity) != 4 {
		t.Errorf("parity shortlist has %d entries, want 4", len(pass.Parity))
	}
}

// TestEvaluatePassColdStartCohorts churns the user base across two
// snapshots: user 1 leaves and user 3 joins, both in group 0. The group
// population stays level, so only the set difference against the
// historical train users detects the newcomer.
func TestEvaluatePassColdStartCohorts(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	stream := filepath.Join(dir, "stream")
	writeLines(t, stream,
		"0 1", "0 2", "1 2", "1 3",
		"0 4", "3 5", "1 7", "3 8",
	)

	snaps := filepath.Join(dir, "snapshots")
	if err := os.Mkdir(snaps, 0o755); err != nil {
		t.Fatal(err)
	}
	writeLines(t, filepath.Join(snaps, "remain_train_snap0"),
		"0 1", "0 2", "1 2", "1 3",
	)
	writeLines(t, filepath.Join(snaps, "remain_train_snap1"),
		"0 1", "0 2", "3 5",
	)
	writeLines(t, filepath.Join(snaps, "remain_test_snap1"),
		"0 9", "3 9",
	)
	writeLines(t, filepath.Join(snaps, "next_test_snap0"),
		"1 7", "3 7", "3 8",
	)

	attrs := filepath.Join(dir, "attrs")
	writeLines(t, attrs, "0 0", "1 0", "3 0")

	store, err := dataset.Open(config.DataConfig{
		TrainFile:      stream,
		SnapshotsPath:  snaps,
		UserAttrFile:   attrs,
		SnapBoundaries: []int{4, 8},
	})
	if err != nil {
		t.Fatal(err)
	}

	pass, err := New(descendingScorer{}, store, evalConfig(), 0).EvaluatePass("remain", 1, 2)
	if err != nil {
		t.Fatal(err)
	}

	counts := map[string]int{}
	for _, l := range pass.Lines {
		if l.Integer {
			counts[l.Name] = l.Count
		}
	}
	want := map[string]int{
		// Level population: the count subtraction sees no change.
		"#_coldstart_users_0": 0,
		// The set difference still finds user 3.
		"#_cold_start_users_0":                  1,
		"#_not_cold_start_users_0":              1,
		"#_cold_start_train_pos_mean_0":         2,
		"#_cold_start_train_pos_total_0":        2,
		"#_not_cold_start_train_pos_mean_0":     1,
		"#_not_cold_start_train_pos_total_0":    1,
		"#_new_users_0":                         2,
		"#_new_train_pos_total_0":               3,
		"#_new_train_pos_mean_over_all_users_0": 1,
	}
	for name, v := range want {
		got, ok := counts[name]
		if !ok {
			t.Errorf("missing result line %q", name)
			continue
		}
		if got != v {
			t.Errorf("%s = %d, want %d", name, got, v)
		}
	}
}

func TestEvaluatePassAnomalyCounter(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	stream := filepath.Join(dir, "stream")
	writeLines(t, stream, "0 1", "1 2", "2 3")

	snaps := filepath.Join(dir, "snapshots")
	if err := os.Mkdir(snaps, 0o755); err != nil {
		t.Fatal(err)
	}
	writeLines(t, filepath.Join(snaps, "fixed_train_snap0"),
		"0 1", "1 2", "2 3",
	)
	writeLines(t, filepath.Join(snaps, "fixed_test_snap0"),
		"0 2", "1 1",
	)

	attrs := filepath.Join(dir, "attrs")
	writeLines(t, attrs, "0 0", "1 1", "2 0")

	store, err := dataset.Open(config.DataConfig{
		TrainFile:      stream,
		SnapshotsPath:  snaps,
		UserAttrFile:   attrs,
		SnapBoundaries: []int{3},
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := evalConfig()
	cfg.Settings = []string{"fixed"}
	before := testutil.ToFloat64(metrics.EvalAnomalies.WithLabelValues("fixed"))

	pass, err := New(descendingScorer{}, store, cfg, 0).EvaluatePass("fixed", 0, 2)
	if err != nil {
		t.Fatal(err)
	}

	// User 2 has no test positives: the pass counter and the exported
	// counter must agree.
	if pass.Summary.Anomalies != 1 {
		t.Fatalf("Anomalies = %d, want 1", pass.Summary.Anomalies)
	}
	after := testutil.ToFloat64(metrics.EvalAnomalies.WithLabelValues("fixed"))
	if got := after - before; got != 1 {
		t.Errorf("exported anomaly delta = %v, want 1", got)
	}
}

func TestEvaluatePassDeterministic(t *testing.T) {
	t.Parallel()

	store := evalFixture(t)
	cfg := evalConfig()

	run := func() *PassResult {
		pass, err := New(descendingScorer{}, store, cfg, 0).EvaluatePass("remain", 0, 2)
		if err != nil {
			t.Fatal(err)
		}
		return pass
	}

	a, b := run(), run()
	if len(a.Lines) != len(b.Lines) {
		t.Fatalf("line counts differ: %d vs %d", len(a.Lines), len(b.Lines))
	}
	for i := range a.Lines {
		if a.Lines[i] != b.Lines[i] {
			t.Errorf("line %d differs: %+v vs %+v", i, a.Lines[i], b.Lines[i])
		}
	}
}

func TestEvaluatePassUnknownMetric(t *testing.T) {
	t.Parallel()

	store := evalFixture(t)
	cfg := evalConfig()
	cfg.Metrics = []string{"bogus"}

	if _, err := New(descendingScorer{}, store, cfg, 0).EvaluatePass("remain", 0, 2); err == nil {
		t.Error("expected fatal error for unknown metric before scoring")
	}
}

func TestEvaluatePassScores(t *testing.T) {
	t.Parallel()

	store := evalFixture(t)
	ev := New(descendingScorer{}, store, evalConfig(), 0)

	pass, err := ev.EvaluatePass("remain", 0, 2)
	if err != nil {
		t.Fatal(err)
	}

	// Both users exclude the rest of the vocabulary as train positives,
	// leaving only their test positive as candidate, so recall is 1.
	var overall float64
	found := false
	for _, l := range pass.Lines {
		if l.Name == "recall__overall" {
			overall = l.Value
			found = true
			break
		}
	}
	if !found {
		t.Fatal("recall__overall line missing")
	}
	if overall != 1.0 {
		t.Errorf("recall__overall = %v, want 1.0", overall)
	}
}
