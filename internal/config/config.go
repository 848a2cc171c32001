// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

// Package config holds the immutable run configuration for Fairstream.
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (FAIRSTREAM_TRAINING_MODE, ...)
//   - Config file (config.yaml)
//   - Built-in defaults
//
// All configuration errors are fatal and surface before any training or
// evaluation proceeds: an unknown optimizer name, an unknown metric name,
// a malformed training-mode string or non-increasing snapshot boundaries
// abort the run during Load().
//
// Config is immutable after Load() and safe for concurrent reads.
package config

import (
	"fmt"
	"strings"
)

// Config holds all run configuration.
type Config struct {
	Data     DataConfig     `koanf:"data"`
	Training TrainingConfig `koanf:"training"`
	Eval     EvalConfig     `koanf:"eval"`
	Output   OutputConfig   `koanf:"output"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DataConfig describes the interaction stream and its snapshot partitions.
type DataConfig struct {
	// TrainFile is the globally ordered interaction stream used for
	// pre-training and fine-tuning. Whitespace-delimited "user item" per line.
	TrainFile string `koanf:"train_file"`

	// SnapshotsPath is the directory holding the per-setting snapshot
	// partitions, named "{setting}_{train|test}_snap{idx}".
	SnapshotsPath string `koanf:"snapshots_path"`

	// UserAttrFile maps each user to its sensitive-attribute columns.
	UserAttrFile string `koanf:"user_attr_file"`

	// SnapBoundaries are the strictly increasing end offsets of each
	// snapshot within the interaction stream. Snapshot 0 is the
	// pre-training partition.
	SnapBoundaries []int `koanf:"snap_boundaries"`
}

// TrainingConfig controls the scheduler and the online trainer.
type TrainingConfig struct {
	// Mode is the training strategy: fulltrain, pretrain, finetune or
	// modi-fine<N>. Parsed once into a Mode variant at load time.
	Mode string `koanf:"mode"`

	// Epochs is the number of pre-training passes over snapshot 0.
	Epochs int `koanf:"epochs"`

	// TuneEpochs is the number of fine-tuning passes per snapshot.
	TuneEpochs int `koanf:"tune_epochs"`

	// EarlyStop is the patience window of the early-stop heuristic.
	EarlyStop int `koanf:"early_stop"`

	// LearningRate is the optimizer step size.
	LearningRate float64 `koanf:"learning_rate"`

	// WeightDecay is the L2 penalty applied by the optimizer.
	WeightDecay float64 `koanf:"weight_decay"`

	// BatchSize is the training batch size.
	BatchSize int `koanf:"batch_size"`

	// EvalBatchSize is the batch size used when scoring candidates.
	EvalBatchSize int `koanf:"eval_batch_size"`

	// Optimizer selects the update rule: gd, adam, adagrad or adadelta.
	// Unknown names are a fatal configuration error.
	Optimizer string `koanf:"optimizer"`

	// ParamPolicy selects which parameter groups the optimizer updates:
	// "all" or "custom" (the model's customizable subset).
	ParamPolicy string `koanf:"param_policy"`

	// SnapshotIndex tags the single checkpoint written under fulltrain
	// mode. Each fulltrain run covers one snapshot.
	SnapshotIndex int `koanf:"snapshot_index"`

	// Seed makes model initialization reproducible.
	Seed int64 `koanf:"seed"`

	// NumFactors is the latent dimension of the default model.
	NumFactors int `koanf:"num_factors"`

	// FairWeight is the fairness-regularization weight (0 disables it).
	FairWeight float64 `koanf:"fair_weight"`
}

// EvalConfig controls the ranking and fairness evaluation engine.
type EvalConfig struct {
	// TopK is the list of recommendation-list lengths to evaluate.
	TopK []int `koanf:"topk"`

	// Metrics is the list of per-user metrics to compute. Every entry is
	// validated against the supported enumeration; an unknown name is a
	// fatal configuration error, not a skip.
	Metrics []string `koanf:"metrics"`

	// NegSamples is the fixed negative-sample size per user. A request
	// exceeding the eligible pool fails loudly at evaluation time.
	NegSamples int `koanf:"neg_samples"`

	// Seed re-seeds the negative sampler at the start of every
	// evaluation pass so repeated runs are bit-for-bit reproducible.
	Seed int64 `koanf:"seed"`

	// Settings are the train/test pairings evaluated per snapshot.
	Settings []string `koanf:"settings"`

	// Attributes are the sensitive-attribute dimensions, in the column
	// order of the user-attribute file.
	Attributes []AttributeDim `koanf:"attributes"`

	// ParityMetrics is the metric subset recorded as parity differences.
	ParityMetrics []string `koanf:"parity_metrics"`
}

// AttributeDim describes one sensitive-attribute dimension.
type AttributeDim struct {
	// Name identifies the dimension in reports (e.g. "genders").
	Name string `koanf:"name"`

	// Groups is the number of category values. Parity differences are
	// reported only for exactly two groups.
	Groups int `koanf:"groups"`

	// Ordinal marks dimensions such as age bands that are reported
	// per-group but skipped for parity differences.
	Ordinal bool `koanf:"ordinal"`
}

// OutputConfig describes where checkpoints and results are written.
type OutputConfig struct {
	// CheckpointPath is the base path for model checkpoints; snapshot
	// checkpoints append a "_snap{idx}" suffix.
	CheckpointPath string `koanf:"checkpoint_path"`

	// ResultDir receives the per-snapshot, mean and trend result files.
	ResultDir string `koanf:"result_dir"`

	// StoreDir is the badger directory holding per-snapshot evaluation
	// records for cross-run aggregation.
	StoreDir string `koanf:"store_dir"`
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address of the /metrics endpoint. Empty disables it.
	Listen string `koanf:"listen"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// SupportedMetrics enumerates every recognized per-user metric name.
var SupportedMetrics = []string{
	"hit", "recall", "precision", "f1", "hit_ratio",
	"ndcg0", "ndcg1", "mrr0", "mrr1", "ap0", "ap1", "ap2",
}

// SupportedOptimizers enumerates every recognized optimizer name.
var SupportedOptimizers = []string{"gd", "adam", "adagrad", "adadelta"}

// SupportedSettings enumerates the evaluation train/test pairings.
var SupportedSettings = []string{"current", "remain", "fixed", "next"}

// defaultConfig returns a Config with all defaults applied. The defaults
// mirror the reference behavior: 100 pre-train epochs, 10 tune epochs,
// Adam with lr 1e-3 and l2 1e-4, top-20 lists with 100 negative samples.
func defaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			TrainFile:     "",
			SnapshotsPath: "",
			UserAttrFile:  "",
		},
		Training: TrainingConfig{
			Mode:          "finetune",
			Epochs:        100,
			TuneEpochs:    10,
			EarlyStop:     5,
			LearningRate:  0.001,
			WeightDecay:   1e-4,
			BatchSize:     256,
			EvalBatchSize: 256,
			Optimizer:     "adam",
			ParamPolicy:   "custom",
			SnapshotIndex: 0,
			Seed:          42,
			NumFactors:    64,
			FairWeight:    0.0,
		},
		Eval: EvalConfig{
			TopK:       []int{20},
			Metrics:    []string{"recall", "ndcg1", "ap0", "mrr1", "f1", "hit_ratio", "hit", "mrr0", "precision"},
			NegSamples: 100,
			Seed:       10,
			Settings:   []string{"current", "remain", "fixed", "next"},
			Attributes: []AttributeDim{
				{Name: "genders", Groups: 2},
			},
			ParityMetrics: []string{"recall", "f1", "ndcg1", "precision"},
		},
		Output: OutputConfig{
			CheckpointPath: "data/model/model",
			ResultDir:      "data/results",
			StoreDir:       "data/results/store",
		},
		Metrics: MetricsConfig{Listen: ""},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks the configuration for fatal errors. It is called by
// Load(); every failure here aborts the run before training starts.
func (c *Config) Validate() error {
	if _, err := ParseMode(c.Training.Mode); err != nil {
		return err
	}
	if !contains(SupportedOptimizers, strings.ToLower(c.Training.Optimizer)) {
		return fmt.Errorf("unknown optimizer: %q (supported: %s)",
			c.Training.Optimizer, strings.Join(SupportedOptimizers, ", "))
	}
	if c.Training.ParamPolicy != "all" && c.Training.ParamPolicy != "custom" {
		return fmt.Errorf("unknown param_policy: %q (supported: all, custom)", c.Training.ParamPolicy)
	}
	if c.Training.Epochs <= 0 {
		return fmt.Errorf("training.epochs must be positive, got %d", c.Training.Epochs)
	}
	if c.Training.TuneEpochs <= 0 {
		return fmt.Errorf("training.tune_epochs must be positive, got %d", c.Training.TuneEpochs)
	}
	if c.Training.LearningRate <= 0 {
		return fmt.Errorf("training.learning_rate must be positive, got %g", c.Training.LearningRate)
	}

	if len(c.Data.SnapBoundaries) == 0 {
		return fmt.Errorf("data.snap_boundaries must not be empty")
	}
	prev := 0
	for i, b := range c.Data.SnapBoundaries {
		if b <= prev {
			return fmt.Errorf("data.snap_boundaries must be strictly increasing and positive, got %v at index %d", b, i)
		}
		prev = b
	}

	if len(c.Eval.TopK) == 0 {
		return fmt.Errorf("eval.topk must not be empty")
	}
	if len(c.Eval.Metrics) == 0 {
		return fmt.Errorf("eval.metrics must not be empty")
	}
	for _, m := range c.Eval.Metrics {
		if !contains(SupportedMetrics, m) {
			return fmt.Errorf("unknown evaluation metric: %q (supported: %s)",
				m, strings.Join(SupportedMetrics, ", "))
		}
	}
	for _, m := range c.Eval.ParityMetrics {
		if !contains(c.Eval.Metrics, m) {
			return fmt.Errorf("parity metric %q is not in eval.metrics", m)
		}
	}
	for _, s := range c.Eval.Settings {
		if !contains(SupportedSettings, s) {
			return fmt.Errorf("unknown evaluation setting: %q (supported: %s)",
				s, strings.Join(SupportedSettings, ", "))
		}
	}
	if c.Eval.NegSamples == 0 || c.Eval.NegSamples < -1 {
		return fmt.Errorf("eval.neg_samples must be positive or -1 for the full pool, got %d", c.Eval.NegSamples)
	}
	if len(c.Eval.Attributes) == 0 {
		return fmt.Errorf("eval.attributes must not be empty")
	}
	for _, dim := range c.Eval.Attributes {
		if dim.Name == "" {
			return fmt.Errorf("eval.attributes entries require a name")
		}
		if dim.Groups < 2 {
			return fmt.Errorf("attribute dimension %q needs at least 2 groups, got %d", dim.Name, dim.Groups)
		}
	}

	if c.Output.CheckpointPath == "" {
		return fmt.Errorf("output.checkpoint_path must not be empty")
	}
	if c.Output.ResultDir == "" {
		return fmt.Errorf("output.result_dir must not be empty")
	}
	return nil
}

// TrainingMode returns the parsed mode variant. Valid after Validate().
func (c *Config) TrainingMode() Mode {
	m, err := ParseMode(c.Training.Mode)
	if err != nil {
		// Validate() rejects unparseable modes; reaching this is a
		// programming error.
		panic(err)
	}
	return m
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
