// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/fairstream/fairstream/internal/checkpoint"
	"github.com/fairstream/fairstream/internal/config"
	"github.com/fairstream/fairstream/internal/dataset"
	"github.com/fairstream/fairstream/internal/logging"
	"github.com/fairstream/fairstream/internal/model"
	"github.com/fairstream/fairstream/internal/results"
)

// Runner evaluates every configured (list length, setting, snapshot)
// cell against the snapshot checkpoints and writes the report files.
type Runner struct {
	rec        model.Recommender
	data       *dataset.Store
	cfg        config.EvalConfig
	writer     *results.Writer
	store      *results.Store
	runID      string
	scoreBatch int
}

// NewRunner wires the evaluation loop. store may be nil to skip the
// record database; scoreBatch bounds candidate scoring per model call.
func NewRunner(rec model.Recommender, data *dataset.Store, cfg config.EvalConfig, writer *results.Writer, store *results.Store, runID string, scoreBatch int) *Runner {
	return &Runner{rec: rec, data: data, cfg: cfg, writer: writer, store: store, runID: runID, scoreBatch: scoreBatch}
}

// RunAll loads each snapshot checkpoint in order and evaluates every
// list length and setting against it, then writes the cross-snapshot
// mean and trend files. Cancellation is observed between cells.
func (r *Runner) RunAll(ctx context.Context) error {
	numSnaps := r.data.NumSnapshots()

	for _, k := range r.cfg.TopK {
		for _, setting := range r.cfg.Settings {
			var records []results.Record

			for snap := 0; snap < numSnaps; snap++ {
				if err := ctx.Err(); err != nil {
					return err
				}

				tag := checkpoint.SnapTag(snap)
				if err := r.rec.Load(tag); err != nil {
					return fmt.Errorf("load checkpoint %s: %w", tag, err)
				}
				r.rec.EvalMode()

				ev := New(r.rec, r.data, r.cfg, r.scoreBatch)
				pass, err := ev.EvaluatePass(setting, snap, k)
				if err != nil {
					return fmt.Errorf("evaluate k=%d setting=%s snapshot=%d: %w", k, setting, snap, err)
				}

				rec := results.Record{
					RunID:     r.runID,
					K:         k,
					Setting:   setting,
					Snapshot:  snap,
					Lines:     pass.Lines,
					CreatedAt: time.Now().UTC(),
				}
				if err := r.writer.WriteSnapshot(rec); err != nil {
					return err
				}
				if r.store != nil {
					if err := r.store.Put(rec); err != nil {
						return err
					}
				}
				records = append(records, rec)

				logging.Info().
					Int("k", k).
					Str("setting", setting).
					Int("snapshot", snap).
					Int("users", pass.Summary.NumUsers).
					Int("anomalies", pass.Summary.Anomalies).
					Msg("evaluated snapshot")
			}

			// Aggregates span runs: persisted records from earlier
			// executions fill snapshots this run did not evaluate, and
			// the current run overrides overlapping cells.
			agg := records
			if r.store != nil {
				stored, err := r.store.Snapshots(k, setting)
				if err != nil {
					return err
				}
				agg = results.MergeRecords(stored, records)
			}
			if err := r.writer.WriteAggregates(k, setting, agg); err != nil {
				return err
			}
		}
	}
	return nil
}

var _ Scorer = (model.Recommender)(nil)
