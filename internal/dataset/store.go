// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/fairstream/fairstream/internal/config"
)

// Store is the loaded interaction stream with its snapshot boundaries,
// snapshot partition directory and user attributes. It is read once at
// startup and immutable afterwards.
type Store struct {
	stream        []Edge
	boundaries    []int
	snapshotsPath string
	attrs         map[int][]int
}

// Open loads the interaction stream and user attributes described by the
// data configuration. Boundaries are validated against the stream length:
// every interaction must belong to exactly one snapshot.
func Open(cfg config.DataConfig) (*Store, error) {
	stream, err := ReadEdgeList(cfg.TrainFile)
	if err != nil {
		return nil, fmt.Errorf("load interaction stream: %w", err)
	}
	attrs, err := ReadUserAttributes(cfg.UserAttrFile)
	if err != nil {
		return nil, fmt.Errorf("load user attributes: %w", err)
	}
	if n := len(cfg.SnapBoundaries); n > 0 && cfg.SnapBoundaries[n-1] > len(stream) {
		return nil, fmt.Errorf("last snapshot boundary %d exceeds stream length %d",
			cfg.SnapBoundaries[n-1], len(stream))
	}
	return &Store{
		stream:        stream,
		boundaries:    cfg.SnapBoundaries,
		snapshotsPath: cfg.SnapshotsPath,
		attrs:         attrs,
	}, nil
}

// NumSnapshots returns the number of snapshots in the stream.
func (s *Store) NumSnapshots() int {
	return len(s.boundaries)
}

// Boundaries returns the snapshot end offsets.
func (s *Store) Boundaries() []int {
	return s.boundaries
}

// Slice returns the interactions of snapshot idx, the contiguous range
// [boundary[idx-1], boundary[idx]). Snapshot 0 starts at offset 0.
func (s *Store) Slice(idx int) []Edge {
	if idx < 0 || idx >= len(s.boundaries) {
		return nil
	}
	start := 0
	if idx > 0 {
		start = s.boundaries[idx-1]
	}
	return s.stream[start:s.boundaries[idx]]
}

// Stream returns the full ordered interaction stream.
func (s *Store) Stream() []Edge {
	return s.stream
}

// Attributes returns the user -> attribute-columns mapping.
func (s *Store) Attributes() map[int][]int {
	return s.attrs
}

// SettingFiles resolves the train/test file pair for one evaluation
// setting at one snapshot. The "current" setting is special: it trains on
// the cumulative "remain" partition and tests on the previous snapshot's
// "next" partition, except at snapshot 0 where no previous period exists
// and the partition tests against itself.
func (s *Store) SettingFiles(setting string, snapIdx int) (trainFile, testFile string) {
	if setting == "current" {
		trainFile = s.snapshotFile("remain", "train", snapIdx)
		if snapIdx == 0 {
			return trainFile, trainFile
		}
		return trainFile, s.snapshotFile("next", "test", snapIdx-1)
	}
	return s.snapshotFile(setting, "train", snapIdx), s.snapshotFile(setting, "test", snapIdx)
}

// ColdStartFiles resolves the historical and current-period train files
// used for cold-start statistics at one snapshot. Snapshot 0 has no
// preceding period and is self-referential. The "current" setting trains
// on the "remain" partitions, so its cohorts resolve there too.
func (s *Store) ColdStartFiles(setting string, snapIdx int) (histTrain, curTrain string) {
	if setting == "current" {
		setting = "remain"
	}
	if snapIdx == 0 {
		f := s.snapshotFile(setting, "train", 0)
		return f, f
	}
	return s.snapshotFile(setting, "train", snapIdx-1), s.snapshotFile("next", "test", snapIdx-1)
}

func (s *Store) snapshotFile(setting, role string, snapIdx int) string {
	return filepath.Join(s.snapshotsPath, fmt.Sprintf("%s_%s_snap%d", setting, role, snapIdx))
}
