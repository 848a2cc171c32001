// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package scheduler

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fairstream/fairstream/internal/checkpoint"
	"github.com/fairstream/fairstream/internal/config"
	"github.com/fairstream/fairstream/internal/dataset"
	"github.com/fairstream/fairstream/internal/model"
	"github.com/fairstream/fairstream/internal/trainer"
)

func TestShouldStop(t *testing.T) {
	t.Parallel()

	rising := make([]float64, 30)
	for i := range rising {
		rising[i] = float64(i)
	}
	if ShouldStop(rising, 5) {
		t.Error("improving criterion must not stop")
	}

	// Long plateau after the best epoch.
	stale := make([]float64, 30)
	stale[2] = 10
	if !ShouldStop(stale, 0) {
		t.Error("criterion with best epoch 27 steps back must stop")
	}

	// Non-increasing tail with patience.
	tail := append(append([]float64{}, rising...), 5, 4, 3)
	if !ShouldStop(tail, 3) {
		t.Error("non-increasing tail must stop")
	}

	if ShouldStop(rising[:10], 3) {
		t.Error("short histories never stop")
	}
}

func writeEdges(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

type fixture struct {
	cfg  *config.Config
	data *dataset.Store
	ckpt *checkpoint.Store
	rec  model.Recommender
	tr   *trainer.Trainer
}

// newFixture builds a 12-interaction stream over three snapshots with
// boundaries [4, 8, 12].
func newFixture(t *testing.T, mode string) *fixture {
	t.Helper()
	dir := t.TempDir()

	stream := filepath.Join(dir, "stream")
	var lines []string
	for u := 0; u < 4; u++ {
		for i := 0; i < 3; i++ {
			lines = append(lines, fmt.Sprintf("%d %d", u, 10+(u+i)%6))
		}
	}
	writeEdges(t, stream, lines)

	attrFile := filepath.Join(dir, "attrs")
	writeEdges(t, attrFile, []string{"0 0", "1 1", "2 0", "3 1"})

	cfg := &config.Config{
		Data: config.DataConfig{
			TrainFile:      stream,
			SnapshotsPath:  dir,
			UserAttrFile:   attrFile,
			SnapBoundaries: []int{4, 8, 12},
		},
		Training: config.TrainingConfig{
			Mode:         mode,
			Epochs:       2,
			TuneEpochs:   1,
			EarlyStop:    5,
			LearningRate: 0.1,
			Optimizer:    "gd",
			ParamPolicy:  "all",
			Seed:         42,
		},
	}

	data, err := dataset.Open(cfg.Data)
	if err != nil {
		t.Fatal(err)
	}
	ckpt, err := checkpoint.NewStore(filepath.Join(dir, "model", "ckpt"))
	if err != nil {
		t.Fatal(err)
	}

	users := []int{0, 1, 2, 3}
	items := []int{10, 11, 12, 13, 14, 15}
	rec := model.NewMF(model.MFConfig{NumFactors: 4, Seed: 42}, users, items, data.Attributes(), ckpt)

	tr, err := trainer.New(trainer.Config{
		Optimizer:    cfg.Training.Optimizer,
		LearningRate: cfg.Training.LearningRate,
		Policy:       trainer.PolicyAll,
	}, rec)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{cfg: cfg, data: data, ckpt: ckpt, rec: rec, tr: tr}
}

func TestFinetuneCheckpointsEverySnapshot(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "finetune")
	s := New(f.cfg, f.data, f.rec, f.tr, f.ckpt, nil)

	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if out.Stopped || !out.Evaluate {
		t.Errorf("unexpected outcome: %+v", out)
	}

	for snap := 0; snap < 3; snap++ {
		if !f.ckpt.Exists(checkpoint.SnapTag(snap)) {
			t.Errorf("missing checkpoint %s", checkpoint.SnapTag(snap))
		}
	}

	// Snapshot 0 is the pre-training partition; batch collection and
	// periods 1 and 2 follow pre-training in the time log.
	var names []string
	for _, e := range out.TimeLog {
		names = append(names, e.Name)
	}
	want := []string{"pre-train", "test batch collecting", "period_1", "period_2"}
	if len(names) != len(want) {
		t.Fatalf("time log %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("time log entry %d = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestModiFineSkipsCoveredSnapshots(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "modi-fine1")
	s := New(f.cfg, f.data, f.rec, f.tr, f.ckpt, nil)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if f.ckpt.Exists(checkpoint.SnapTag(1)) {
		t.Error("snapshot 1 is covered by the threshold and must not be checkpointed")
	}
	if !f.ckpt.Exists(checkpoint.SnapTag(2)) {
		t.Error("snapshot 2 lies past the threshold and must be checkpointed")
	}
}

func TestPretrainSeedsAllSnapshots(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "pretrain")
	s := New(f.cfg, f.data, f.rec, f.tr, f.ckpt, nil)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for snap := 0; snap < 3; snap++ {
		if !f.ckpt.Exists(checkpoint.SnapTag(snap)) {
			t.Errorf("pretrain mode must seed checkpoint %s", checkpoint.SnapTag(snap))
		}
	}
}

func TestResumeSkipsPretraining(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "finetune")
	if err := f.rec.Save(checkpoint.SnapTag(0)); err != nil {
		t.Fatal(err)
	}

	// An absurd epoch count would dominate the test runtime if
	// pre-training actually ran.
	f.cfg.Training.Epochs = 1 << 20

	s := New(f.cfg, f.data, f.rec, f.tr, f.ckpt, nil)
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !f.ckpt.Exists(checkpoint.SnapTag(2)) {
		t.Error("resumed run must still fine-tune later snapshots")
	}
}

// unstableModel emits non-finite predictions once the given number of
// healthy training steps has passed.
type unstableModel struct {
	model.Recommender
	calls, healthy int
}

func (m *unstableModel) TrainStep(b model.Batch) []float64 {
	m.calls++
	if m.calls > m.healthy {
		out := make([]float64, len(b.Items))
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	return m.Recommender.TrainStep(b)
}

func TestPretrainDivergenceSkipsEvaluation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "finetune")
	// Snapshot 0 holds four interactions, so the first epoch completes
	// and the second immediately diverges.
	rec := &unstableModel{Recommender: f.rec, healthy: 4}
	tr, err := trainer.New(trainer.Config{
		Optimizer:    f.cfg.Training.Optimizer,
		LearningRate: f.cfg.Training.LearningRate,
		Policy:       trainer.PolicyAll,
	}, rec)
	if err != nil {
		t.Fatal(err)
	}

	s := New(f.cfg, f.data, rec, tr, f.ckpt, nil)
	out, err := s.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !out.Stopped {
		t.Error("divergence after the first epoch must stop the run")
	}
	if out.Evaluate {
		t.Error("no checkpoint exists, so the outcome must not request evaluation")
	}
	if f.ckpt.Exists(checkpoint.SnapTag(0)) {
		t.Error("a diverged pre-training must not leave a checkpoint behind")
	}
}

func TestPretrainDivergenceFirstEpochFails(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "finetune")
	rec := &unstableModel{Recommender: f.rec, healthy: 0}
	tr, err := trainer.New(trainer.Config{
		Optimizer:    f.cfg.Training.Optimizer,
		LearningRate: f.cfg.Training.LearningRate,
		Policy:       trainer.PolicyAll,
	}, rec)
	if err != nil {
		t.Fatal(err)
	}

	s := New(f.cfg, f.data, rec, tr, f.ckpt, nil)
	if _, err := s.Run(context.Background()); err == nil {
		t.Error("divergence on the first epoch must fail the run")
	}
}

func TestInterruptBeforeTraining(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "finetune")

	asked := false
	confirm := func(prompt string) bool {
		asked = true
		return true // exit without evaluation
	}
	s := New(f.cfg, f.data, f.rec, f.tr, f.ckpt, confirm)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := s.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !asked {
		t.Error("interrupt must ask the operator about evaluation")
	}
	if !out.Stopped || out.Evaluate {
		t.Errorf("outcome after declined evaluation: %+v", out)
	}
}

func TestFullTrainWritesConfiguredTag(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "fulltrain")
	f.cfg.Training.SnapshotIndex = 2
	s := New(f.cfg, f.data, f.rec, f.tr, f.ckpt, nil)

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !f.ckpt.Exists(checkpoint.SnapTag(2)) {
		t.Error("fulltrain must checkpoint under the configured snapshot index")
	}
	if f.ckpt.Exists(checkpoint.SnapTag(1)) {
		t.Error("fulltrain writes exactly one checkpoint")
	}
}
