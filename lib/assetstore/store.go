// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package assetstore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/remotezygote/parcel/lib/asset"
	"github.com/remotezygote/parcel/lib/codec"
	"github.com/remotezygote/parcel/lib/fingerprint"
	"github.com/remotezygote/parcel/lib/vfs"
)

// Directory names within the store root.
const (
	blobDir = "blobs"
	tmpDir  = "tmp"
)

// readCacheEntries bounds the in-memory LRU over recently read blobs.
const readCacheEntries = 256

// ErrNotFound is returned when a blob is not in the store, and wraps
// every readback failure: a missing or corrupt blob is a cache miss,
// never fatal.
var ErrNotFound = errors.New("assetstore: blob not found")

// Store is the content-addressed store for intermediate assets. Blobs
// are keyed by content fingerprint, written atomically through a temp
// directory, and transparently compressed. Commits are idempotent on
// the key; concurrent commits of the same key are coalesced.
type Store struct {
	root   string
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}

	reads *lru.Cache[string, []byte]
}

// New creates a Store rooted at the given directory, creating the
// layout if needed.
func New(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{
		root,
		filepath.Join(root, blobDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	reads, err := lru.New[string, []byte](readCacheEntries)
	if err != nil {
		return nil, fmt.Errorf("creating read cache: %w", err)
	}
	return &Store{
		root:     root,
		logger:   logger,
		inflight: make(map[string]chan struct{}),
		reads:    reads,
	}, nil
}

// CommittedKeys names the blobs written for one asset.
type CommittedKeys struct {
	Content string `cbor:"content"`
	Map     string `cbor:"map,omitempty"`
	AST     string `cbor:"ast,omitempty"`
}

// Commit writes an asset's content, source map, and AST (when
// serializable) under content-derived keys. Idempotent: committing
// the same asset twice writes nothing new.
func (s *Store) Commit(a *asset.Asset) (CommittedKeys, error) {
	var keys CommittedKeys

	content, err := asset.ReadAll(a.Content)
	if err != nil {
		return keys, fmt.Errorf("materializing content for commit: %w", err)
	}
	if err := s.CommitBytes(a.Hash, content, a.Type); err != nil {
		return keys, err
	}
	keys.Content = a.Hash

	if len(a.Map) > 0 {
		mapKey := fingerprint.Bytes(a.Map)
		if err := s.CommitBytes(mapKey, a.Map, "map"); err != nil {
			return keys, err
		}
		keys.Map = mapKey
	}

	if a.AST != nil {
		encoded, err := codec.Marshal(a.AST)
		if err != nil {
			// The AST is opaque and may hold unserializable handles.
			// That is fine: the pipeline guarantees a re-parse path.
			s.logger.Debug("skipping AST commit", "filePath", a.FilePath, "error", err)
		} else {
			astKey := fingerprint.Bytes(encoded)
			if err := s.CommitBytes(astKey, encoded, ""); err != nil {
				return keys, err
			}
			keys.AST = astKey
		}
	}

	return keys, nil
}

// CommitBytes writes one blob under the given content-derived key.
// The contentType selects the compression codec.
func (s *Store) CommitBytes(key string, data []byte, contentType string) error {
	// Coalesce concurrent commits of the same key: the first caller
	// writes, the rest wait for it.
	s.mu.Lock()
	if wait, ok := s.inflight[key]; ok {
		s.mu.Unlock()
		<-wait
		return nil
	}
	done := make(chan struct{})
	s.inflight[key] = done
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, key)
		s.mu.Unlock()
		close(done)
	}()

	finalPath := s.blobPath(key)
	if _, err := os.Stat(finalPath); err == nil {
		// Already committed; identical by construction.
		return nil
	}

	compressed, tag, err := compress(data, SelectCompression(contentType))
	if err != nil {
		return fmt.Errorf("compressing blob %s: %w", key, err)
	}

	return s.writeBlob(finalPath, data, compressed, tag)
}

// writeBlob writes header + payload through the tmp directory and
// renames into place.
func (s *Store) writeBlob(finalPath string, raw, compressed []byte, tag CompressionTag) error {
	tmpFile, err := os.CreateTemp(filepath.Join(s.root, tmpDir), "blob-*.bin")
	if err != nil {
		return fmt.Errorf("creating temp blob file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	var header [9]byte
	header[0] = byte(tag)
	binary.LittleEndian.PutUint64(header[1:], uint64(len(raw)))

	if _, err := tmpFile.Write(header[:]); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing blob header: %w", err)
	}
	if _, err := tmpFile.Write(compressed); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing blob payload: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp blob: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("creating blob shard directory: %w", err)
	}

	// A concurrent writer may have landed the same key first; the
	// content is identical by construction, so either rename outcome
	// is correct.
	if _, err := os.Stat(finalPath); err == nil {
		os.Remove(tmpPath)
		success = true
		return nil
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming blob to %s: %w", finalPath, err)
	}
	success = true
	return nil
}

// Read retrieves a blob's bytes by key. Any failure — missing file,
// truncated header, decompression error, digest mismatch — wraps
// ErrNotFound so callers can treat it as a cache miss.
func (s *Store) Read(key string) ([]byte, error) {
	if data, ok := s.reads.Get(key); ok {
		return data, nil
	}

	raw, err := os.ReadFile(s.blobPath(key))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, key, err)
	}
	if len(raw) < 9 {
		return nil, fmt.Errorf("%w: %s: truncated header", ErrNotFound, key)
	}

	tag := CompressionTag(raw[0])
	size := binary.LittleEndian.Uint64(raw[1:9])
	data, err := decompress(raw[9:], tag, int(size))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotFound, key, err)
	}

	// The key is the content fingerprint; a mismatch means on-disk
	// corruption.
	if fingerprint.Bytes(data) != key {
		return nil, fmt.Errorf("%w: %s: content digest mismatch", ErrNotFound, key)
	}

	s.reads.Add(key, data)
	return data, nil
}

// Exists reports whether a blob is committed.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.blobPath(key))
	return err == nil
}

// CheckConnectedFiles re-hashes each declared connected file and
// returns true iff every recorded hash still matches. A file that
// cannot be read counts as changed.
func (s *Store) CheckConnectedFiles(fsys vfs.FS, files []asset.ConnectedFile) bool {
	for _, cf := range files {
		current, err := fingerprint.File(fsys, cf.FilePath)
		if err != nil {
			return false
		}
		if current != cf.Hash {
			return false
		}
	}
	return true
}

// blobPath returns the sharded filesystem path for a blob key:
// blobs/a3/f9/a3f9b2c1....
func (s *Store) blobPath(key string) string {
	if len(key) < 4 {
		return filepath.Join(s.root, blobDir, key)
	}
	return filepath.Join(s.root, blobDir, key[:2], key[2:4], key)
}
