// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

// Package dataset loads the interaction stream and its snapshot
// partitions.
//
// All inputs are plain-text, whitespace- or tab-delimited integer files:
// edge lists carry one "user item" pair per line, the user-attribute file
// one "user attr0 [attr1 ...]" record per line. Snapshot partitions live
// in a directory of files named "{setting}_{train|test}_snap{idx}".
//
// Data is read once at startup and immutable afterwards.
package dataset

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Edge is one directed user->item interaction. Its position in the
// stream is its implicit timestamp.
type Edge struct {
	User int
	Item int
}

// ReadEdgeList reads a whitespace-delimited integer edge-list file.
// Only the first two columns of each line are consumed. Blank lines are
// skipped; malformed lines are an error.
func ReadEdgeList(path string) ([]Edge, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open edge list: %w", err)
	}
	defer f.Close()

	var edges []Edge
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%s:%d: expected at least 2 columns, got %d", path, lineNo, len(fields))
		}
		user, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad user id %q: %w", path, lineNo, fields[0], err)
		}
		item, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s:%d: bad item id %q: %w", path, lineNo, fields[1], err)
		}
		edges = append(edges, Edge{User: user, Item: item})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read edge list: %w", err)
	}
	return edges, nil
}

// UserPositives builds the user -> ordered item adjacency of an edge
// list. Item order follows first appearance in the stream; duplicates
// are kept out.
func UserPositives(edges []Edge) map[int][]int {
	pos := make(map[int][]int)
	seen := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		pos[e.User] = append(pos[e.User], e.Item)
	}
	return pos
}

// UserItemSets returns the distinct users and items of an edge list, in
// order of first appearance. Deterministic iteration order matters for
// reproducible evaluation.
func UserItemSets(edges []Edge) (users, items []int) {
	seenU := make(map[int]struct{})
	seenI := make(map[int]struct{})
	for _, e := range edges {
		if _, ok := seenU[e.User]; !ok {
			seenU[e.User] = struct{}{}
			users = append(users, e.User)
		}
		if _, ok := seenI[e.Item]; !ok {
			seenI[e.Item] = struct{}{}
			items = append(items, e.Item)
		}
	}
	return users, items
}

// ReadUserAttributes reads the user-attribute file. Every record maps a
// user to its attribute columns; all columns after the user id are kept.
func ReadUserAttributes(path string) (map[int][]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open user attributes: %w", err)
	}
	defer f.Close()

	attrs := make(map[int][]int)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return nil, fmt.Errorf("%s:%d: expected user id and at least one attribute", path, lineNo)
		}
		vals := make([]int, len(fields))
		for i, fld := range fields {
			v, err := strconv.Atoi(fld)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: bad integer %q: %w", path, lineNo, fld, err)
			}
			vals[i] = v
		}
		attrs[vals[0]] = vals[1:]
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read user attributes: %w", err)
	}
	return attrs, nil
}
