// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

// Package results persists and reports evaluation output: a BadgerDB
// record store for cross-run aggregation and the flat result, mean,
// trend and time-log files.
package results

import (
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Line is one ordered entry of a per-snapshot result file. Metric lines
// carry a float value, population lines carry an integer count.
type Line struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Count int     `json:"count"`

	// Integer selects Count over Value when rendering.
	Integer bool `json:"integer"`
}

// FloatLine builds a metric line.
func FloatLine(name string, v float64) Line {
	return Line{Name: name, Value: v}
}

// CountLine builds a population line.
func CountLine(name string, n int) Line {
	return Line{Name: name, Count: n, Integer: true}
}

func (l Line) render() string {
	if l.Integer {
		return fmt.Sprintf("%s\t%d", l.Name, l.Count)
	}
	return fmt.Sprintf("%s\t%.4f", l.Name, l.Value)
}

// value returns the numeric content independent of kind, for
// aggregation across snapshots.
func (l Line) value() float64 {
	if l.Integer {
		return float64(l.Count)
	}
	return l.Value
}

// Record is the persisted evaluation of one (list length, setting,
// snapshot) cell.
type Record struct {
	RunID     string    `json:"run_id"`
	K         int       `json:"k"`
	Setting   string    `json:"setting"`
	Snapshot  int       `json:"snapshot"`
	Lines     []Line    `json:"lines"`
	CreatedAt time.Time `json:"created_at"`
}

// Store keeps evaluation records in BadgerDB so mean and trend
// aggregation works across independently executed runs.
type Store struct {
	db *badger.DB
}

// OpenStore opens (or creates) the record database at dir.
func OpenStore(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // Suppress BadgerDB logs

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger db for results: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// recordKey orders snapshots lexicographically within a (k, setting)
// prefix so a prefix scan yields them in snapshot order.
func recordKey(k int, setting string, snapshot int) []byte {
	return []byte(fmt.Sprintf("result:%d:%s:%06d", k, setting, snapshot))
}

func recordPrefix(k int, setting string) []byte {
	return []byte(fmt.Sprintf("result:%d:%s:", k, setting))
}

// Put stores one evaluation record, replacing any prior record of the
// same cell.
func (s *Store) Put(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal result record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.K, rec.Setting, rec.Snapshot), data)
	})
	if err != nil {
		return fmt.Errorf("store result record: %w", err)
	}
	return nil
}

// Get fetches one record. The boolean reports presence.
func (s *Store) Get(k int, setting string, snapshot int) (Record, bool, error) {
	var rec Record
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(k, setting, snapshot))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("load result record: %w", err)
	}
	return rec, found, nil
}

// Snapshots returns every record of one (k, setting) cell in snapshot
// order.
func (s *Store) Snapshots(k int, setting string) ([]Record, error) {
	var records []Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := recordPrefix(k, setting)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list result records: %w", err)
	}
	return records, nil
}

// MergeRecords overlays current-run records onto previously persisted
// ones, keyed by snapshot index. The current run wins on overlap; the
// result is in snapshot order.
func MergeRecords(prior, current []Record) []Record {
	bySnap := make(map[int]Record, len(prior)+len(current))
	for _, rec := range prior {
		bySnap[rec.Snapshot] = rec
	}
	for _, rec := range current {
		bySnap[rec.Snapshot] = rec
	}
	out := make([]Record, 0, len(bySnap))
	for _, rec := range bySnap {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Snapshot < out[j].Snapshot })
	return out
}
