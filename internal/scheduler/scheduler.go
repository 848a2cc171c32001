// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/fairstream/fairstream/internal/checkpoint"
	"github.com/fairstream/fairstream/internal/config"
	"github.com/fairstream/fairstream/internal/dataset"
	"github.com/fairstream/fairstream/internal/logging"
	"github.com/fairstream/fairstream/internal/metrics"
	"github.com/fairstream/fairstream/internal/model"
	"github.com/fairstream/fairstream/internal/results"
	"github.com/fairstream/fairstream/internal/trainer"
)

// ConfirmFunc asks the operator a yes/no question after an interrupt.
// Returning true means "exit without evaluation".
type ConfirmFunc func(prompt string) bool

// Outcome reports how a run ended and what the evaluator should do.
type Outcome struct {
	// Evaluate is false when the operator chose to skip the final
	// evaluation after an interrupt.
	Evaluate bool

	// Stopped is true when training ended early (interrupt or
	// divergence) rather than completing the configured epochs.
	Stopped bool

	// TimeLog holds the timed periods in execution order.
	TimeLog []results.TimeEntry
}

// Scheduler owns the training state machine. A single goroutine drives
// it; model updates and checkpoint writes are strictly sequential and
// each checkpoint is durable before dependent work starts.
type Scheduler struct {
	cfg     *config.Config
	mode    config.Mode
	data    *dataset.Store
	rec     model.Recommender
	trainer *trainer.Trainer
	ckpt    *checkpoint.Store
	confirm ConfirmFunc

	rng *rand.Rand

	// userPos indexes each user's positives over the whole stream, the
	// exclusion set for negative sampling.
	userPos map[int]map[int]bool
	items   []int
}

// New wires a Scheduler. confirm may be nil, in which case interrupts
// keep the final evaluation.
func New(cfg *config.Config, data *dataset.Store, rec model.Recommender, tr *trainer.Trainer, ckpt *checkpoint.Store, confirm ConfirmFunc) *Scheduler {
	stream := data.Stream()
	_, items := dataset.UserItemSets(stream)
	userPos := make(map[int]map[int]bool)
	for _, e := range stream {
		set, ok := userPos[e.User]
		if !ok {
			set = make(map[int]bool)
			userPos[e.User] = set
		}
		set[e.Item] = true
	}
	return &Scheduler{
		cfg:     cfg,
		mode:    cfg.TrainingMode(),
		data:    data,
		rec:     rec,
		trainer: tr,
		ckpt:    ckpt,
		confirm: confirm,
		rng:     rand.New(rand.NewSource(cfg.Training.Seed)),
		userPos: userPos,
		items:   items,
	}
}

// Run executes pre-training and the mode's snapshot phase. Interrupts
// are observed at epoch and period boundaries only.
func (s *Scheduler) Run(ctx context.Context) (*Outcome, error) {
	out := &Outcome{Evaluate: true}
	start := time.Now()

	resumed := false
	if s.mode.FineTunes() && s.ckpt.Exists(checkpoint.SnapTag(0)) {
		logging.Info().Str("tag", checkpoint.SnapTag(0)).Msg("pre-trained checkpoint found, skipping pre-training")
		if err := s.rec.Load(checkpoint.SnapTag(0)); err != nil {
			return nil, fmt.Errorf("resume from pre-trained checkpoint: %w", err)
		}
		resumed = true
	}

	if !resumed {
		stopped, err := s.pretrain(ctx, out)
		if err != nil {
			return nil, err
		}
		if stopped {
			out.Stopped = true
			return out, nil
		}
	}
	out.TimeLog = append(out.TimeLog, results.TimeEntry{Name: "pre-train", Seconds: time.Since(start).Seconds()})

	switch s.mode.Kind {
	case config.ModeFullTrain:
		if err := s.save(s.cfg.Training.SnapshotIndex); err != nil {
			return nil, err
		}
	case config.ModePreTrain:
		for i := 0; i < s.data.NumSnapshots(); i++ {
			if err := s.save(i); err != nil {
				return nil, err
			}
		}
	default:
		if err := s.save(0); err != nil {
			return nil, err
		}
		if err := s.finetune(ctx, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// pretrain runs the configured epochs over snapshot 0. It returns
// stopped=true when the run must not proceed to the snapshot phase.
func (s *Scheduler) pretrain(ctx context.Context, out *Outcome) (bool, error) {
	s.trainer.SetPhase("pretrain")
	edges := s.data.Slice(0)
	if len(edges) == 0 {
		return false, fmt.Errorf("empty pre-training snapshot")
	}

	var criterion []float64
	for epoch := 0; epoch < s.cfg.Training.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return true, s.interrupted(out)
		}
		epochStart := time.Now()

		loss, diverged, err := s.runEpoch(edges, true, s.cfg.Training.BatchSize)
		if err != nil {
			return false, err
		}
		metrics.ObserveEpoch("pretrain", epochStart)

		if diverged {
			if epoch == 0 {
				return false, fmt.Errorf("training diverged on the first pre-training epoch")
			}
			// No checkpoint has been written yet, so there is nothing
			// the evaluator could load.
			logging.Warn().Int("epoch", epoch+1).Msg("non-finite prediction, stopping pre-training")
			out.Evaluate = false
			return true, nil
		}

		logging.Info().Int("epoch", epoch+1).Float64("loss", loss).
			Dur("elapsed", time.Since(epochStart)).Msg("pre-training epoch")

		criterion = append(criterion, -loss)
		if ShouldStop(criterion, s.cfg.Training.EarlyStop) {
			logging.Info().Int("epoch", epoch+1).Msg("early stop")
			break
		}
	}
	return false, nil
}

// finetune walks snapshots 1..N-1 in order, training the periods past
// the mode threshold and checkpointing each period it does not skip.
func (s *Scheduler) finetune(ctx context.Context, out *Outcome) error {
	s.trainer.SetPhase("finetune")

	collectStart := time.Now()
	periods := make([][]dataset.Edge, s.data.NumSnapshots())
	for snap := 1; snap < s.data.NumSnapshots(); snap++ {
		periods[snap] = s.data.Slice(snap)
	}
	out.TimeLog = append(out.TimeLog, results.TimeEntry{
		Name:    "test batch collecting",
		Seconds: time.Since(collectStart).Seconds(),
	})

	for snap := 1; snap < s.data.NumSnapshots(); snap++ {
		periodStart := time.Now()
		if err := ctx.Err(); err != nil {
			return s.interrupted(out)
		}

		if s.mode.TrainsSnapshot(snap) {
			edges := periods[snap]
			s.trainer.Reset()

			for e := 0; e < s.cfg.Training.TuneEpochs; e++ {
				loss, diverged, err := s.runEpoch(edges, false, 1)
				if err != nil {
					return err
				}
				if diverged {
					logging.Warn().Int("snapshot", snap).Int("epoch", e+1).
						Msg("non-finite prediction, aborting fine-tune period")
					break
				}
				logging.Info().Int("snapshot", snap).Int("epoch", e+1).
					Float64("loss", loss).Msg("fine-tuning epoch")
			}
			metrics.ObserveSnapshot(snap, periodStart)
		}

		if !s.mode.SkipsCheckpoint(snap) {
			if err := s.save(snap); err != nil {
				return err
			}
		}
		out.TimeLog = append(out.TimeLog, results.TimeEntry{
			Name:    fmt.Sprintf("period_%d", snap),
			Seconds: time.Since(periodStart).Seconds(),
		})
	}
	return nil
}

// runEpoch feeds every edge of the slice to the trainer once, grouped
// into micro-batches of batchSize examples. shuffle randomizes example
// order for pre-training; fine-tuning keeps stream order.
func (s *Scheduler) runEpoch(edges []dataset.Edge, shuffle bool, batchSize int) (meanLoss float64, diverged bool, err error) {
	order := make([]int, len(edges))
	for i := range order {
		order[i] = i
	}
	if shuffle {
		s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	if batchSize < 1 {
		batchSize = 1
	}

	var sum float64
	n := 0
	micro := make([]model.Batch, 0, batchSize)
	flush := func() (bool, error) {
		if len(micro) == 0 {
			return false, nil
		}
		res, err := s.trainer.StepBatch(micro)
		micro = micro[:0]
		if err != nil {
			return false, err
		}
		if res.Diverged {
			return true, nil
		}
		sum += res.Loss
		n++
		return false, nil
	}

	for _, i := range order {
		e := edges[i]
		neg, ok := s.sampleNegative(e.User)
		if !ok {
			// User has interacted with the whole vocabulary.
			continue
		}
		micro = append(micro, model.Batch{User: e.User, Items: []int{e.Item, neg}})
		if len(micro) == batchSize {
			if div, err := flush(); err != nil || div {
				return 0, div, err
			}
		}
	}
	if div, err := flush(); err != nil || div {
		return 0, div, err
	}
	if n == 0 {
		return 0, false, nil
	}
	return sum / float64(n), false, nil
}

// sampleNegative draws an item the user never interacted with across
// the whole stream.
func (s *Scheduler) sampleNegative(user int) (int, bool) {
	pos := s.userPos[user]
	if len(pos) >= len(s.items) {
		return 0, false
	}
	for {
		it := s.items[s.rng.Intn(len(s.items))]
		if !pos[it] {
			return it, true
		}
	}
}

func (s *Scheduler) save(snap int) error {
	tag := checkpoint.SnapTag(snap)
	if err := s.rec.Save(tag); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", tag, err)
	}
	metrics.CheckpointsSaved.Inc()
	logging.Info().Str("tag", tag).Msg("checkpoint saved")
	return nil
}

// interrupted resolves an external interrupt into a controlled stop,
// optionally skipping the final evaluation.
func (s *Scheduler) interrupted(out *Outcome) error {
	logging.Info().Msg("interrupt received, stopping training")
	out.Stopped = true
	if s.confirm != nil && s.confirm("Exit completely without evaluation? (y/n) (default n): ") {
		out.Evaluate = false
	}
	return nil
}
