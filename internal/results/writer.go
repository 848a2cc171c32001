// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package results

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Writer renders result records into the flat report files under a
// single directory.
type Writer struct {
	dir string
}

// NewWriter creates the result directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create result dir: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Dir returns the report directory.
func (w *Writer) Dir() string { return w.dir }

// WriteSnapshot writes the per-snapshot report file
// "{k}_{setting}_snap{idx}.txt": a header line followed by one
// tab-separated line per record entry.
func (w *Writer) WriteSnapshot(rec Record) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Top %d Results", rec.K)
	for _, l := range rec.Lines {
		b.WriteString("\n")
		b.WriteString(l.render())
	}
	name := fmt.Sprintf("%d_%s_snap%d.txt", rec.K, rec.Setting, rec.Snapshot)
	return w.writeFile(name, b.String())
}

// WriteAggregates writes the cross-snapshot mean file
// "0_{k}_mean_{setting}.txt" and trend file "0_{k}_trend_{setting}.txt"
// from records ordered by snapshot. Line order follows the first
// record; a line absent from a later snapshot is simply shorter in the
// trend and averaged over the snapshots that carry it.
func (w *Writer) WriteAggregates(k int, setting string, records []Record) error {
	if len(records) == 0 {
		return fmt.Errorf("no records for k=%d setting=%s", k, setting)
	}

	var order []string
	series := map[string][]float64{}
	for _, rec := range records {
		for _, l := range rec.Lines {
			if _, ok := series[l.Name]; !ok {
				order = append(order, l.Name)
			}
			series[l.Name] = append(series[l.Name], l.value())
		}
	}

	var mean strings.Builder
	for _, name := range order {
		vs := series[name]
		var sum float64
		for _, v := range vs {
			sum += v
		}
		fmt.Fprintf(&mean, "%s\t%v\n", name, sum/float64(len(vs)))
	}
	meanName := fmt.Sprintf("0_%d_mean_%s.txt", k, setting)
	if err := w.writeFile(meanName, mean.String()); err != nil {
		return err
	}

	var trend strings.Builder
	for _, name := range order {
		trend.WriteString(name)
		for _, v := range series[name] {
			fmt.Fprintf(&trend, "\t%v", v)
		}
		trend.WriteString("\n")
	}
	trendName := fmt.Sprintf("0_%d_trend_%s.txt", k, setting)
	return w.writeFile(trendName, trend.String())
}

// TimeEntry is one timed period of a run.
type TimeEntry struct {
	Name    string
	Seconds float64
}

// WriteTimeLog writes "_time_test.txt": three tab-separated rows with
// period names, elapsed seconds and elapsed minutes.
func (w *Writer) WriteTimeLog(entries []TimeEntry) error {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\t", e.Name)
	}
	b.WriteString("\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%.4f\t", e.Seconds)
	}
	b.WriteString("\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%.4f\t", e.Seconds/60)
	}
	b.WriteString("\n")
	return w.writeFile("_time_test.txt", b.String())
}

func (w *Writer) writeFile(name, content string) error {
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
