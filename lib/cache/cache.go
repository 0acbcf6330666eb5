// Copyright 2026 The Parcel Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/remotezygote/parcel/lib/codec"
)

// entriesBucket holds request-fingerprint -> CBOR entry mappings.
var entriesBucket = []byte("entries")

// Cache maps request fingerprints to cache entries, persisted in a
// bbolt database under the cache directory. A retrieved entry is
// considered valid only after [CheckCachedAssets] passes; the cache
// itself only answers presence and bytes.
type Cache struct {
	db     *bolt.DB
	logger *slog.Logger
}

// Open opens (or creates) the cache database in dir.
func Open(dir string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := bolt.Open(filepath.Join(dir, "requests.db"), 0o644, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("opening cache database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(entriesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating cache bucket: %w", err)
	}

	return &Cache{db: db, logger: logger}, nil
}

// Close releases the database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get retrieves the entry stored under key. A missing key returns
// (nil, false, nil). An entry that fails to decode is corrupt and is
// treated as a miss, not an error.
func (c *Cache) Get(key string) (*Entry, bool, error) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if value := tx.Bucket(entriesBucket).Get([]byte(key)); value != nil {
			raw = append([]byte(nil), value...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading cache entry: %w", err)
	}
	if raw == nil {
		return nil, false, nil
	}

	var entry Entry
	if err := codec.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set stores an entry under key, replacing any previous entry
// atomically.
func (c *Cache) Set(key string, entry *Entry) error {
	data, err := codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	err = c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(entriesBucket).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	return nil
}
