// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestReadEdgeList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "edges", "1 10\n2\t20\n\n1 11 999\n")

	edges, err := ReadEdgeList(path)
	if err != nil {
		t.Fatalf("ReadEdgeList: %v", err)
	}
	want := []Edge{{1, 10}, {2, 20}, {1, 11}}
	if !reflect.DeepEqual(edges, want) {
		t.Errorf("edges = %v, want %v", edges, want)
	}
}

func TestReadEdgeListMalformed(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"non-integer item", "1 abc\n"},
		{"missing column", "7\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, dir, tt.name, tt.content)
			if _, err := ReadEdgeList(path); err == nil {
				t.Error("expected error for malformed edge list")
			}
		})
	}
}

func TestUserPositivesOrderAndDedup(t *testing.T) {
	t.Parallel()

	edges := []Edge{{1, 10}, {1, 11}, {2, 10}, {1, 10}, {1, 12}}
	pos := UserPositives(edges)

	if !reflect.DeepEqual(pos[1], []int{10, 11, 12}) {
		t.Errorf("pos[1] = %v, want stream order without duplicates", pos[1])
	}
	if !reflect.DeepEqual(pos[2], []int{10}) {
		t.Errorf("pos[2] = %v, want [10]", pos[2])
	}
}

func TestUserItemSets(t *testing.T) {
	t.Parallel()

	edges := []Edge{{3, 30}, {1, 10}, {3, 10}, {2, 30}}
	users, items := UserItemSets(edges)

	if !reflect.DeepEqual(users, []int{3, 1, 2}) {
		t.Errorf("users = %v, want first-appearance order", users)
	}
	if !reflect.DeepEqual(items, []int{30, 10}) {
		t.Errorf("items = %v, want first-appearance order", items)
	}
}

func TestReadUserAttributes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := writeFile(t, dir, "attrs", "1 0\n2 1 25\n3 0 35\n")

	attrs, err := ReadUserAttributes(path)
	if err != nil {
		t.Fatalf("ReadUserAttributes: %v", err)
	}
	if !reflect.DeepEqual(attrs[2], []int{1, 25}) {
		t.Errorf("attrs[2] = %v, want all columns kept", attrs[2])
	}
	if !reflect.DeepEqual(attrs[1], []int{0}) {
		t.Errorf("attrs[1] = %v, want [0]", attrs[1])
	}
}
