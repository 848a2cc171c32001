// Fairstream - Continual Fairness-Aware Recommender Training
// Copyright 2026 Fairstream Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fairstream/fairstream

// Package checkpoint persists opaque model state keyed by tag.
//
// Checkpoints are gob-encoded, gzip-compressed and carry a SHA-256
// checksum verified on load. The tag convention follows the snapshot
// lifecycle: the base path plus "_snap{idx}". A checkpoint is never
// mutated in place; saving a tag rewrites the whole file atomically from
// the caller's perspective (write completes before Save returns).
package checkpoint

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Metadata describes a stored checkpoint.
type Metadata struct {
	// Tag is the checkpoint suffix, e.g. "_snap3".
	Tag string

	// SavedAt is when the checkpoint was written.
	SavedAt time.Time

	// Checksum is the SHA-256 of the uncompressed state.
	Checksum string

	// SizeBytes is the compressed size on disk.
	SizeBytes int64
}

// storedFile is the on-disk format.
type storedFile struct {
	Metadata       Metadata
	CompressedData []byte
}

// Store writes and reads checkpoints under a base path.
type Store struct {
	basePath string
	mu       sync.Mutex
}

// NewStore creates a checkpoint store rooted at basePath. The parent
// directory is created if missing.
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("checkpoint base path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(basePath), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &Store{basePath: basePath}, nil
}

// SnapTag returns the canonical tag for a snapshot index.
func SnapTag(snapIdx int) string {
	return fmt.Sprintf("_snap%d", snapIdx)
}

// Path returns the file path for a tag.
func (s *Store) Path(tag string) string {
	return s.basePath + tag
}

// Exists reports whether a checkpoint with the given tag is on disk.
func (s *Store) Exists(tag string) bool {
	_, err := os.Stat(s.Path(tag))
	return err == nil
}

// Save serializes state under the given tag. The write is synchronous:
// when Save returns nil the checkpoint is durable on disk.
func (s *Store) Save(tag string, state interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", tag, err)
	}
	raw := buf.Bytes()

	hash := sha256.Sum256(raw)

	var compressed bytes.Buffer
	gzw := gzip.NewWriter(&compressed)
	if _, err := gzw.Write(raw); err != nil {
		return fmt.Errorf("compress checkpoint %s: %w", tag, err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("finalize compression for %s: %w", tag, err)
	}

	sf := storedFile{
		Metadata: Metadata{
			Tag:       tag,
			SavedAt:   time.Now(),
			Checksum:  hex.EncodeToString(hash[:]),
			SizeBytes: int64(compressed.Len()),
		},
		CompressedData: compressed.Bytes(),
	}

	f, err := os.Create(s.Path(tag)) //nolint:gosec // path is built from the configured base
	if err != nil {
		return fmt.Errorf("create checkpoint file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := gob.NewEncoder(f).Encode(sf); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", tag, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint %s: %w", tag, err)
	}
	return nil
}

// Load reads the checkpoint with the given tag into target, verifying
// the checksum. Loading requires the exact tag used at save time.
func (s *Store) Load(tag string, target interface{}) (*Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.Path(tag)) //nolint:gosec // path is built from the configured base
	if err != nil {
		return nil, fmt.Errorf("open checkpoint %s: %w", tag, err)
	}
	defer func() { _ = f.Close() }()

	var sf storedFile
	if err := gob.NewDecoder(f).Decode(&sf); err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", tag, err)
	}

	gzr, err := gzip.NewReader(bytes.NewReader(sf.CompressedData))
	if err != nil {
		return nil, fmt.Errorf("decompress checkpoint %s: %w", tag, err)
	}
	defer func() { _ = gzr.Close() }()

	raw, err := io.ReadAll(gzr)
	if err != nil {
		return nil, fmt.Errorf("read decompressed checkpoint %s: %w", tag, err)
	}

	hash := sha256.Sum256(raw)
	if checksum := hex.EncodeToString(hash[:]); checksum != sf.Metadata.Checksum {
		return nil, fmt.Errorf("checkpoint %s checksum mismatch: expected %s, got %s",
			tag, sf.Metadata.Checksum, checksum)
	}

	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(target); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", tag, err)
	}
	return &sf.Metadata, nil
}
