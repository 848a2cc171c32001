// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

// Package main is the entry point for the fairstream training and
// evaluation pipeline.
//
// Fairstream trains a recommender continually over a time-ordered
// interaction stream split into snapshots, checkpoints the model per
// snapshot, and evaluates ranking quality and group fairness against
// each checkpoint.
//
// # Pipeline
//
// The run proceeds in the following order:
//
//  1. Configuration: load settings from config file and environment (Koanf v2)
//  2. Data: load the interaction stream, snapshot boundaries and user attributes
//  3. Training: pre-train on snapshot 0, then fine-tune per snapshot
//     according to the configured mode, checkpointing each period
//  4. Evaluation: score every (top-K, setting, snapshot) cell against
//     the snapshot checkpoints and write result, mean and trend files
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables with the FAIRSTREAM_ prefix
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// SIGINT and SIGTERM stop training at the next epoch or period
// boundary. The operator is then asked whether to skip the final
// evaluation or run it against the last durable checkpoint.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairstream/fairstream/internal/checkpoint"
	"github.com/fairstream/fairstream/internal/config"
	"github.com/fairstream/fairstream/internal/dataset"
	"github.com/fairstream/fairstream/internal/eval"
	"github.com/fairstream/fairstream/internal/logging"
	"github.com/fairstream/fairstream/internal/model"
	"github.com/fairstream/fairstream/internal/results"
	"github.com/fairstream/fairstream/internal/scheduler"
	"github.com/fairstream/fairstream/internal/trainer"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("run failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	runID := uuid.New().String()
	logging.SetLogger(logging.With().Str("run_id", runID).Logger())
	logging.Info().Str("mode", cfg.Training.Mode).Msg("starting")

	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	data, err := dataset.Open(cfg.Data)
	if err != nil {
		return err
	}
	ckpt, err := checkpoint.NewStore(cfg.Output.CheckpointPath)
	if err != nil {
		return err
	}

	users, items := dataset.UserItemSets(data.Stream())
	rec := model.NewMF(model.MFConfig{
		NumFactors: cfg.Training.NumFactors,
		Seed:       cfg.Training.Seed,
		FairWeight: cfg.Training.FairWeight,
	}, users, items, data.Attributes(), ckpt)

	policy, err := trainer.ParseParamPolicy(cfg.Training.ParamPolicy)
	if err != nil {
		return err
	}
	tr, err := trainer.New(trainer.Config{
		Optimizer:    cfg.Training.Optimizer,
		LearningRate: cfg.Training.LearningRate,
		WeightDecay:  cfg.Training.WeightDecay,
		Policy:       policy,
	}, rec)
	if err != nil {
		return err
	}

	sched := scheduler.New(cfg, data, rec, tr, ckpt, confirmStdin)
	outcome, err := sched.Run(ctx)
	if err != nil {
		return err
	}

	writer, err := results.NewWriter(cfg.Output.ResultDir)
	if err != nil {
		return err
	}
	if len(outcome.TimeLog) > 0 {
		if err := writer.WriteTimeLog(outcome.TimeLog); err != nil {
			return err
		}
	}

	if !outcome.Evaluate {
		logging.Info().Msg("evaluation skipped by operator")
		return nil
	}
	if outcome.Stopped && !ckpt.Exists(checkpoint.SnapTag(0)) {
		logging.Warn().Msg("training stopped before any checkpoint was written, skipping evaluation")
		return nil
	}

	var store *results.Store
	if cfg.Output.StoreDir != "" {
		store, err = results.OpenStore(cfg.Output.StoreDir)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	// Evaluation runs to completion even after an interrupt stopped
	// training; use a fresh context so the pending signal does not
	// cancel it.
	evalCtx := context.Background()
	runner := eval.NewRunner(rec, data, cfg.Eval, writer, store, runID, cfg.Training.EvalBatchSize)
	if err := runner.RunAll(evalCtx); err != nil {
		return err
	}

	logging.Info().Str("result_dir", writer.Dir()).Msg("done")
	return nil
}

// confirmStdin asks on the terminal and defaults to "no".
func confirmStdin(prompt string) bool {
	fmt.Fprint(os.Stderr, prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logging.Info().Str("addr", addr).Msg("metrics endpoint listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logging.Error().Err(err).Msg("metrics endpoint failed")
	}
}
